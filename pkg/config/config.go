// Package config loads the kubeportald daemon's own bootstrap configuration
// (RPC listen address, forwards config file path, log level, timeouts) --
// not the forward definitions themselves, which the manager persists as its
// own JSON document (see pkg/manager).
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/basicflag"
	"github.com/knadh/koanf/providers/env"

	"kubeportal/pkg/logger"
)

// defaultPort is the default RPC surface listen port.
const defaultPort = 50051

// defaultGracePeriodSeconds bounds how long Stop/StopAll wait for in-flight
// connections to drain before abandoning them.
const defaultGracePeriodSeconds = 5

// defaultClientCacheTTLSeconds is the TTL for cached Kubernetes API clients.
const defaultClientCacheTTLSeconds = 600

// defaultPodCacheTTLSeconds is the TTL for cached pod-list lookups.
const defaultPodCacheTTLSeconds = 30

// Config is the daemon's own bootstrap configuration.
type Config struct {
	ListenAddr         string `koanf:"listen-addr"`
	Port               uint   `koanf:"port"`
	ConfigFile         string `koanf:"config-file"`
	LogLevel           string `koanf:"log-level"`
	GracePeriodSeconds uint   `koanf:"grace-period-seconds"`
	ClientCacheTTLSecs uint   `koanf:"client-cache-ttl-seconds"`
	PodCacheTTLSecs    uint   `koanf:"pod-cache-ttl-seconds"`
	KubeConfigPath     string `koanf:"kubeconfig"`
	WatchConfigFile    bool   `koanf:"watch-config-file"`
}

// Validate checks field-level invariants that cannot be expressed as flag defaults.
func (c *Config) Validate() error {
	if c.Port == 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	return nil
}

// normalizeArgs skips the first arg (the binary name) for flag parsing.
func normalizeArgs(args []string) []string {
	if len(args) == 0 {
		return []string{}
	}

	return args[1:]
}

// loadDefaultsFromFlags loads default flag values into koanf.
func loadDefaultsFromFlags(k *koanf.Koanf, f *flag.FlagSet) error {
	if err := k.Load(basicflag.Provider(f, "."), nil); err != nil {
		logger.Log(logger.LevelError, nil, err, "loading default config from flags")
		return fmt.Errorf("error loading default config from flags: %w", err)
	}

	return nil
}

// parseFlags parses command-line flags using the provided flagset.
func parseFlags(f *flag.FlagSet, args []string) error {
	if err := f.Parse(args); err != nil {
		logger.Log(logger.LevelError, nil, err, "parsing flags")
		return fmt.Errorf("error parsing flags: %w", err)
	}

	return nil
}

// recordExplicitFlags returns the set of flags the user explicitly passed.
func recordExplicitFlags(f *flag.FlagSet) map[string]bool {
	explicitFlags := make(map[string]bool)

	f.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	return explicitFlags
}

// loadConfigFromEnv loads config values from KUBEPORTAL_CONFIG_* environment variables.
func loadConfigFromEnv(k *koanf.Koanf) error {
	err := k.Load(env.Provider("KUBEPORTAL_CONFIG_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "KUBEPORTAL_CONFIG_")), "_", "-")
	}), nil)
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "loading config from env")
		return fmt.Errorf("error loading config from env: %w", err)
	}

	return nil
}

// reloadExplicitFlags reloads only explicitly-set flag values, so they win over env.
func reloadExplicitFlags(k *koanf.Koanf, f *flag.FlagSet, explicitFlags map[string]bool) error {
	err := k.Load(basicflag.ProviderWithValue(f, ".", func(key, value string) (string, interface{}) {
		if explicitFlags[key] {
			return key, value
		}

		return "", nil
	}), nil)
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "loading config from flags")
		return fmt.Errorf("error loading config from flags: %w", err)
	}

	return nil
}

// unmarshalConfig unmarshals koanf's merged view into the Config struct.
func unmarshalConfig(k *koanf.Koanf, config *Config) error {
	if err := k.Unmarshal("", config); err != nil {
		logger.Log(logger.LevelError, nil, err, "unmarshalling config")
		return fmt.Errorf("error unmarshal config: %w", err)
	}

	return nil
}

// setConfigFile fills in the default forwards-config file path if unset.
func setConfigFile(config *Config) error {
	if config.ConfigFile != "" {
		return nil
	}

	dir, err := DefaultAppDataDir()
	if err != nil {
		return err
	}

	config.ConfigFile = filepath.Join(dir, "config.json")

	return nil
}

// Parse loads the daemon config from flags and environment variables.
// Env vars start with KUBEPORTAL_CONFIG_ and use _ as a word separator.
// If a value is set both via flag and env, the flag wins, e.g.:
//
//	export KUBEPORTAL_CONFIG_PORT=2344
//	kubeportald --port=3456
//
// results in a port of 3456.
func Parse(args []string) (*Config, error) {
	var config Config

	f := flagset()

	k := koanf.New(".")

	args = normalizeArgs(args)

	if err := loadDefaultsFromFlags(k, f); err != nil {
		return nil, err
	}

	if err := parseFlags(f, args); err != nil {
		return nil, err
	}

	explicitFlags := recordExplicitFlags(f)

	if err := loadConfigFromEnv(k); err != nil {
		return nil, err
	}

	if err := reloadExplicitFlags(k, f, explicitFlags); err != nil {
		return nil, err
	}

	if err := unmarshalConfig(k, &config); err != nil {
		return nil, err
	}

	if err := setConfigFile(&config); err != nil {
		return nil, err
	}

	setKubeConfigPath(&config)

	if err := config.Validate(); err != nil {
		logger.Log(logger.LevelError, nil, err, "validating config")
		return nil, err
	}

	return &config, nil
}

// setKubeConfigPath fills in the kubeconfig path from $KUBECONFIG or the default location.
func setKubeConfigPath(config *Config) {
	if config.KubeConfigPath != "" {
		return
	}

	if kubeConfigEnv := os.Getenv("KUBECONFIG"); kubeConfigEnv != "" {
		config.KubeConfigPath = kubeConfigEnv
		return
	}

	config.KubeConfigPath = GetDefaultKubeConfigPath()
}

func flagset() *flag.FlagSet {
	f := flag.NewFlagSet("config", flag.ContinueOnError)

	f.String("listen-addr", "127.0.0.1", "Loopback address the RPC surface listens on")
	f.Uint("port", defaultPort, "Port the RPC surface listens on")
	f.String("config-file", "", "Path to the forwards config file (default: platform app-data dir)")
	f.String("log-level", "info", "Log level: debug, info, warn, or error")
	f.Uint("grace-period-seconds", defaultGracePeriodSeconds, "Seconds to wait for in-flight connections to drain on stop")
	f.Uint("client-cache-ttl-seconds", defaultClientCacheTTLSeconds, "TTL for cached Kubernetes API clients")
	f.Uint("pod-cache-ttl-seconds", defaultPodCacheTTLSeconds, "TTL for cached Service pod-list lookups")
	f.String("kubeconfig", "", "Absolute path to the kubeconfig file")
	f.Bool("watch-config-file", true, "Reload forward definitions when the config file changes on disk")

	return f
}

// DefaultAppDataDir returns the platform-standard per-user app-data directory
// kubeportald persists its forwards config and lock file under.
func DefaultAppDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			return "", errors.New("LOCALAPPDATA is not set")
		}

		return filepath.Join(base, "KubePortal"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}

		return filepath.Join(home, "Library", "Application Support", "KubePortal"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}

		return filepath.Join(home, ".kubeportal"), nil
	}
}

// GetDefaultKubeConfigPath returns ~/.kube/config, the fallback used when
// neither --kubeconfig nor $KUBECONFIG is set.
func GetDefaultKubeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "getting home directory")
		return ""
	}

	return filepath.Join(home, ".kube", "config")
}
