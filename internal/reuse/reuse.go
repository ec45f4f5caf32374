// Package reuse implements Pivot's "reuse" role: a SO_REUSEPORT-enabled TCP
// listener that classifies each accepted connection by source IP and
// splices it to either a primary or a fallback target.
package reuse

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/zwxxb/pivot/internal/pipe"
	"github.com/zwxxb/pivot/internal/stream"
)

// Config describes a reuse invocation.
type Config struct {
	Local    string
	Remote   string
	Fallback string        // empty means "drop non-matching connections"
	External string        // source IP that routes to Remote; anything else routes to Fallback
	Timeout  time.Duration // zero means "accept indefinitely"
}

// listenConfig sets SO_REUSEADDR and, where the platform has it,
// SO_REUSEPORT on the listening socket before bind, so multiple processes
// (or repeated restarts) can share the address.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				ctrlErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				return
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				ctrlErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
				return
			}
		})
		if err != nil {
			return fmt.Errorf("control: %w", err)
		}
		return ctrlErr
	},
}

// Run binds cfg.Local with SO_REUSEPORT, accepts connections (optionally
// bounded by cfg.Timeout), classifies each by source IP, and splices it to
// cfg.Remote or cfg.Fallback. When the accept deadline expires, accepting
// stops but outstanding pipes are allowed to run to completion; Run joins
// them before returning.
func Run(ctx context.Context, cfg Config) error {
	ln, err := listenConfig.Listen(ctx, "tcp", cfg.Local)
	if err != nil {
		return fmt.Errorf("reuse: bind %s: %w", cfg.Local, err)
	}
	defer ln.Close()
	slog.InfoContext(ctx, "bind success", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer func() {
		slog.InfoContext(ctx, "accept phase ended, joining outstanding pipes")
		wg.Wait()
	}()

	acceptCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if tc, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = tc.SetDeadline(time.Now().Add(cfg.Timeout))
		}
	}

	go func() {
		<-acceptCtx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if acceptCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reuse: accept: %w", err)
		}
		slog.InfoContext(ctx, "accept connection", "addr", conn.RemoteAddr().String())

		target := classify(conn, cfg)
		if target == "" {
			slog.InfoContext(ctx, "no matching target, dropping connection", "addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			dialAndSplice(ctx, conn, target)
		}()
	}
}

// classify returns the redirect target for conn: cfg.Remote when the
// source IP equals cfg.External, cfg.Fallback (which may be empty,
// meaning "drop") otherwise.
func classify(conn net.Conn, cfg Config) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if host == cfg.External {
		return cfg.Remote
	}
	return cfg.Fallback
}

func dialAndSplice(ctx context.Context, conn net.Conn, target string) {
	targetConn, err := net.Dial("tcp", target)
	if err != nil {
		slog.ErrorContext(ctx, "connect failed", "addr", target, "error", err.Error())
		_ = conn.Close()
		return
	}
	slog.InfoContext(ctx, "connect success", "addr", targetConn.RemoteAddr().String())

	span := uuid.NewString()[:8]
	slog.InfoContext(ctx, "open pipe", "span", span, "a", conn.RemoteAddr().String(), "b", target)
	pipe.Splice(ctx, stream.FromTCP(conn), stream.FromTCP(targetConn))
	slog.InfoContext(ctx, "close pipe", "span", span)
}
