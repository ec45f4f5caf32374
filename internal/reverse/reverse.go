// Package reverse implements the two sub-modes of Pivot's reverse-SOCKS
// coupler: a server that pairs a control-side SOCKS client with a
// proxy-side external consumer, and a client that dials out to a
// rendezvous address and serves SOCKS5 over the dialed stream.
package reverse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/zwxxb/pivot/internal/forward"
	"github.com/zwxxb/pivot/internal/pipe"
	"github.com/zwxxb/pivot/internal/socks"
	"github.com/zwxxb/pivot/internal/stream"
	"github.com/zwxxb/pivot/internal/tlsctx"
)

// Endpoint mirrors forward.Endpoint: an address plus whether it should be
// TLS-wrapped.
type Endpoint struct {
	Addr string
	TLS  bool
}

// ServerConfig describes a reverse-SOCKS rendezvous server: two listeners,
// control and proxy, each optionally TLS-terminated.
type ServerConfig struct {
	Control Endpoint
	Proxy   Endpoint
}

// RunServer binds the control and proxy listeners and, for every pair of
// accepts that completes positionally, splices the two streams directly.
// The server never speaks SOCKS5 itself; it only couples a SOCKS-speaking
// client (dialing Control from the far side) with an external SOCKS
// consumer (dialing Proxy).
func RunServer(ctx context.Context, cfg ServerConfig) error {
	controlLn, err := net.Listen("tcp", cfg.Control.Addr)
	if err != nil {
		return fmt.Errorf("reverse: bind control %s: %w", cfg.Control.Addr, err)
	}
	defer controlLn.Close()
	proxyLn, err := net.Listen("tcp", cfg.Proxy.Addr)
	if err != nil {
		return fmt.Errorf("reverse: bind proxy %s: %w", cfg.Proxy.Addr, err)
	}
	defer proxyLn.Close()

	slog.InfoContext(ctx, "bind success", "addr", controlLn.Addr().String())
	slog.InfoContext(ctx, "bind success", "addr", proxyLn.Addr().String())

	controlTLS, err := serverTLS(cfg.Control)
	if err != nil {
		return err
	}
	proxyTLS, err := serverTLS(cfg.Proxy)
	if err != nil {
		return err
	}

	for {
		controlConn, proxyConn, err := acceptPair(ctx, controlLn, proxyLn)
		if err != nil {
			return err
		}

		go func() {
			cs, err := stream.WrapServer(controlConn, controlTLS)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = proxyConn.Close()
				return
			}
			ps, err := stream.WrapServer(proxyConn, proxyTLS)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = cs.Close()
				return
			}
			span := uuid.NewString()[:8]
			slog.InfoContext(ctx, "open pipe", "span", span, "a", controlConn.RemoteAddr().String(), "b", proxyConn.RemoteAddr().String())
			pipe.Splice(ctx, cs, ps)
			slog.InfoContext(ctx, "close pipe", "span", span)
		}()
	}
}

// ClientConfig describes a reverse-SOCKS client: it repeatedly dials
// Rendezvous and serves a SOCKS5 responder over each successful dial.
type ClientConfig struct {
	Rendezvous Endpoint
	Auth       *socks.AuthInfo
}

// RunClient repeatedly dials cfg.Rendezvous, bounded by the shared
// concurrency permit, and runs the SOCKS5 responder over each dialed
// stream. A dial failure is logged and retried; the loop only exits when
// ctx is canceled.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	sem := forward.NewSemaphore()
	dialTLSCfg := clientTLS(cfg.Rendezvous)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.Rendezvous.Addr)
		if err != nil {
			sem.Release(1)
			slog.ErrorContext(ctx, "connect failed", "addr", cfg.Rendezvous.Addr, "error", err.Error())
			continue
		}
		slog.InfoContext(ctx, "connect success", "addr", conn.RemoteAddr().String())

		go func() {
			defer sem.Release(1)
			s, err := stream.WrapClient(conn, dialTLSCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				return
			}
			if err := socks.HandleConnection(ctx, s, cfg.Auth); err != nil {
				slog.ErrorContext(ctx, "socks5 session ended with error", "error", err.Error())
			}
		}()
	}
}

func serverTLS(ep Endpoint) (*tls.Config, error) {
	if !ep.TLS {
		return nil, nil
	}
	host, _, err := net.SplitHostPort(ep.Addr)
	if err != nil {
		host = ep.Addr
	}
	return tlsctx.Server(host)
}

func clientTLS(ep Endpoint) *tls.Config {
	if !ep.TLS {
		return nil
	}
	return tlsctx.Client()
}

func acceptPair(ctx context.Context, ln1, ln2 net.Listener) (net.Conn, net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	r1ch := make(chan result, 1)
	r2ch := make(chan result, 1)

	go func() {
		c, err := ln1.Accept()
		r1ch <- result{c, err}
	}()
	go func() {
		c, err := ln2.Accept()
		r2ch <- result{c, err}
	}()

	r1 := <-r1ch
	r2 := <-r2ch
	if r1.err != nil {
		if r2.conn != nil {
			_ = r2.conn.Close()
		}
		return nil, nil, fmt.Errorf("reverse: accept control: %w", r1.err)
	}
	if r2.err != nil {
		_ = r1.conn.Close()
		return nil, nil, fmt.Errorf("reverse: accept proxy: %w", r2.err)
	}
	slog.InfoContext(ctx, "accept connection", "addr", r1.conn.RemoteAddr().String())
	slog.InfoContext(ctx, "accept connection", "addr", r2.conn.RemoteAddr().String())
	return r1.conn, r2.conn, nil
}
