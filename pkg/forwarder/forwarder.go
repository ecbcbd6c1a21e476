// Package forwarder implements the forwarder runtime: per-forward TCP
// listener, accept loop, and bidirectional stream pump, in its two
// variants (socket, kubernetes).
package forwarder

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors: AddressInUse is a definition-level failure the manager
// reacts to by disabling the definition; BindError (other) surfaces
// without mutating enabled state; KubernetesError/RemoteUnreachable/
// TransientIO are per-connection only.
var (
	ErrAddressInUse      = errors.New("address already in use")
	ErrBindError         = errors.New("bind error")
	ErrKubernetesError   = errors.New("kubernetes error")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrTransientIO       = errors.New("transient io error")
)

// Stats is a snapshot of a forwarder's observable counters.
type Stats struct {
	ConnectionCount  int64
	BytesTransferred uint64
	StartTime        time.Time
	Active           bool
}

// Forwarder is the runtime object bound 1:1 to an active definition.
type Forwarder interface {
	// Start binds the listener and launches the accept loop. On bind
	// failure it returns a typed error (ErrAddressInUse or ErrBindError)
	// without side effects.
	Start(ctx context.Context) error
	// Stop cancels the accept loop, closes the listener, and waits up to
	// the configured grace period for in-flight connections to drain.
	Stop(ctx context.Context) error
	// IsActive reports whether the forwarder is currently serving.
	IsActive() bool
	// Stats returns a snapshot of the forwarder's counters.
	Stats() Stats
}
