// Package pipe implements the connection-coupling core: splicing two
// streams full-duplex and terminating the pipe as soon as either direction
// finishes.
package pipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/zwxxb/pivot/internal/stream"
)

// Splice couples a and b full-duplex: it concurrently copies a's reads to
// b's writes and b's reads to a's writes. As soon as either copy loop
// completes, whether by success, EOF, or error, the pipe is considered
// closed, both streams are closed, and Splice returns. The other copy
// loop's in-flight buffer contents are discarded; this is the "first
// completion wins" policy from the package docs, needed because waiting
// for both directions to finish would hang against peers that never
// half-close.
//
// Internal copy errors are logged at Error level but never returned: the
// caller has no recovery action beyond having already dropped the
// connection. The net.ErrClosed that the losing direction sees once Splice
// has closed both streams is not logged.
func Splice(ctx context.Context, a, b stream.Stream) {
	ra, wa := a.Split()
	rb, wb := b.Split()

	done := make(chan struct{}, 2)

	copyDir := func(dst io.Writer, src io.Reader, dir string) {
		if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.ErrorContext(ctx, "pipe copy ended", "direction", dir, "error", err.Error())
		}
		done <- struct{}{}
	}

	go copyDir(wb, ra, a.Kind.String()+"->"+b.Kind.String())
	go copyDir(wa, rb, b.Kind.String()+"->"+a.Kind.String())

	<-done

	_ = a.Close()
	_ = b.Close()
}
