package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"kubeportal/pkg/logger"
)

// remoteDialer opens the remote side of one accepted connection. Socket
// forwards dial a fresh TCP connection; kubernetes forwards open a
// port-forward data stream to the selected pod.
type remoteDialer func(ctx context.Context, id uuid.UUID) (io.ReadWriteCloser, error)

// baseForwarder holds the listener, counters, and accept loop shared by
// both forwarder variants; each variant embeds it and supplies its own
// remoteDialer and logging fields.
type baseForwarder struct {
	name        string
	localPort   int
	gracePeriod time.Duration
	dial        remoteDialer

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc

	active           atomic.Bool
	startTime        atomic.Int64 // unix nanos; 0 when unset
	connectionCount  atomic.Int64
	bytesTransferred atomic.Uint64

	wg sync.WaitGroup
}

func newBaseForwarder(name string, localPort int, gracePeriod time.Duration, dial remoteDialer) *baseForwarder {
	return &baseForwarder{
		name:        name,
		localPort:   localPort,
		gracePeriod: gracePeriod,
		dial:        dial,
	}
}

// Start binds 127.0.0.1:localPort and launches the accept loop. Bind
// failures are classified by kind: an already-in-use address yields
// ErrAddressInUse, everything else ErrBindError.
func (b *baseForwarder) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", b.localPort)

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
		}

		return fmt.Errorf("%w: binding %s: %v", ErrBindError, addr, err)
	}

	acceptCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.listener = ln
	b.cancel = cancel
	b.mu.Unlock()

	b.startTime.Store(time.Now().UnixNano())
	b.active.Store(true)

	go b.acceptLoop(acceptCtx)

	return nil
}

func (b *baseForwarder) acceptLoop(ctx context.Context) {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.Log(logger.LevelWarn, map[string]string{"forward": b.name}, err, "accept error")

			continue
		}

		id := uuid.New()

		b.wg.Add(1)

		go b.handleConnection(ctx, id, conn)
	}
}

func (b *baseForwarder) handleConnection(ctx context.Context, id uuid.UUID, client net.Conn) {
	defer b.wg.Done()
	defer client.Close()

	b.connectionCount.Add(1)
	defer b.connectionCount.Add(-1)

	remote, err := b.dial(ctx, id)
	if err != nil {
		logger.Log(logger.LevelDebug,
			map[string]string{"forward": b.name, "connection": id.String()}, err, "opening remote stream")

		return
	}
	defer remote.Close()

	conn := &ActiveConnection{ID: id, StartedAt: time.Now(), Client: client, Remote: remote}

	pump(ctx, conn, &b.bytesTransferred)
}

// Stop cancels the accept loop, closes the listener, and waits up to
// gracePeriod for in-flight connection handlers to drain. Connections
// still running past the grace period are abandoned; their sockets were
// already closed by the listener teardown's cancellation.
func (b *baseForwarder) Stop(_ context.Context) error {
	if !b.active.CompareAndSwap(true, false) {
		return nil
	}

	b.mu.Lock()
	cancel := b.cancel
	ln := b.listener
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.gracePeriod):
		logger.Log(logger.LevelWarn, map[string]string{"forward": b.name}, nil,
			"grace period elapsed, abandoning in-flight connections")
	}

	return nil
}

func (b *baseForwarder) IsActive() bool {
	return b.active.Load()
}

func (b *baseForwarder) Stats() Stats {
	var startTime time.Time

	if ns := b.startTime.Load(); ns != 0 {
		startTime = time.Unix(0, ns)
	}

	return Stats{
		ConnectionCount:  b.connectionCount.Load(),
		BytesTransferred: b.bytesTransferred.Load(),
		StartTime:        startTime,
		Active:           b.active.Load(),
	}
}
