package forwarder

import (
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// ActiveConnection is a short-lived object owned by a forwarder: one
// accepted client socket plus one opened remote stream (a dialed net.Conn
// for socket forwards, a Kubernetes port-forward data stream for
// kubernetes forwards), identified by a per-connection id for tracking and
// logging.
type ActiveConnection struct {
	ID        uuid.UUID
	StartedAt time.Time
	Client    net.Conn
	Remote    io.ReadWriteCloser
}
