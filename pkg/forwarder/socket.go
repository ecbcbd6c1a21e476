package forwarder

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// socketForwarder relays each accepted client connection to a fresh TCP
// connection dialed to (remoteHost, remotePort), resolved by the OS
// resolver. On connect failure only the client side is closed; the
// forwarder stays active for the next accepted connection.
type socketForwarder struct {
	*baseForwarder

	remoteHost string
	remotePort int
}

// NewSocketForwarder constructs the socket variant of the forwarder.
func NewSocketForwarder(name string, localPort int, remoteHost string, remotePort int, gracePeriod time.Duration) Forwarder {
	f := &socketForwarder{remoteHost: remoteHost, remotePort: remotePort}
	f.baseForwarder = newBaseForwarder(name, localPort, gracePeriod, f.dialRemote)

	return f
}

func (f *socketForwarder) dialRemote(ctx context.Context, _ uuid.UUID) (io.ReadWriteCloser, error) {
	var dialer net.Dialer

	addr := fmt.Sprintf("%s:%d", f.remoteHost, f.remotePort)

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrRemoteUnreachable, addr, err)
	}

	return conn, nil
}
