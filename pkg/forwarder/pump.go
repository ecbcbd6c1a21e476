package forwarder

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// pumpBufferSize is the per-Read chunk size for the bidirectional pump.
const pumpBufferSize = 64 * 1024

// pump bridges an ActiveConnection's two endpoints: two goroutines, one per
// direction, each doing io.CopyBuffer with a bounded buffer, adding the
// byte count to totalBytes per chunk so throughput is observable live. The
// connection completes as soon as either direction sees EOF or an error;
// closing both endpoints at that point unblocks the other direction's
// blocked read.
func pump(ctx context.Context, conn *ActiveConnection, totalBytes *atomic.Uint64) {
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		copyDirection(conn.Client, conn.Remote, totalBytes)
		conn.Remote.Close()
	}()

	go func() {
		defer wg.Done()
		copyDirection(conn.Remote, conn.Client, totalBytes)
		conn.Client.Close()
	}()

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		conn.Client.Close()
		conn.Remote.Close()
		<-done
	}
}

// countingWriter is an io.Writer that atomically adds every chunk's length
// to total, used to make CopyBuffer's per-chunk writes observable without
// waiting for the whole copy to finish.
type countingWriter struct {
	w     io.Writer
	total *atomic.Uint64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.total.Add(uint64(n))
	}

	return n, err
}

func copyDirection(dst io.Writer, src io.Reader, totalBytes *atomic.Uint64) {
	buf := make([]byte, pumpBufferSize)
	cw := countingWriter{w: dst, total: totalBytes}

	_, _ = io.CopyBuffer(cw, src, buf)
}
