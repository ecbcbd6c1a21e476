// Command kubeportald is the long-running local daemon: it loads persisted
// forward definitions, starts the ones enabled, and exposes the RPC
// surface clients (CLI, IDE extension) use to manage them. This binary
// owns only bootstrap plumbing -- lock file, signal handling, wiring the
// components together.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"kubeportal/pkg/config"
	"kubeportal/pkg/k8saccess"
	"kubeportal/pkg/lockfile"
	"kubeportal/pkg/logger"
	"kubeportal/pkg/manager"
	"kubeportal/pkg/rpcserver"
)

// Version is the daemon's build version, intended to be overridden at
// build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		fmt.Printf("kubeportald %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
		return
	}

	conf, err := config.Parse(os.Args)
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "parsing config")
		os.Exit(1)
	}

	logger.Init(conf.LogLevel)

	if err := run(conf); err != nil {
		logger.Log(logger.LevelError, nil, err, "kubeportald exited with error")
		os.Exit(1)
	}
}

func run(conf *config.Config) error {
	appDataDir, err := config.DefaultAppDataDir()
	if err != nil {
		return fmt.Errorf("resolving app data directory: %w", err)
	}

	lock, err := lockfile.Acquire(lockfile.Path(appDataDir, conf.Port))
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	defer lock.Release()

	access := k8saccess.New(
		conf.KubeConfigPath,
		time.Duration(conf.ClientCacheTTLSecs)*time.Second,
		time.Duration(conf.PodCacheTTLSecs)*time.Second,
	)

	mgr, err := manager.New(
		conf.ConfigFile,
		true,
		conf.WatchConfigFile,
		time.Duration(conf.GracePeriodSeconds)*time.Second,
		access,
	)
	if err != nil {
		return fmt.Errorf("constructing forward manager: %w", err)
	}

	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("initializing forward manager: %w", err)
	}
	defer mgr.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpcserver.New(
		mgr,
		net.JoinHostPort(conf.ListenAddr, fmt.Sprintf("%d", conf.Port)),
		Version,
		stop, // the Shutdown RPC cancels the same context SIGINT/SIGTERM would
	)

	serveErr := make(chan error, 1)

	go func() {
		logger.Log(logger.LevelInfo, map[string]string{
			"addr": conf.ListenAddr, "port": fmt.Sprintf("%d", conf.Port),
		}, nil, "kubeportald listening")

		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log(logger.LevelInfo, nil, nil, "shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log(logger.LevelWarn, nil, err, "shutting down rpc surface")
	}

	return nil
}
