package forward

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/zwxxb/pivot/internal/stream"
)

// localToLocalTCP accepts one connection on each of two listeners and pairs
// them positionally: the two accepts are issued concurrently and a pair
// forms only once both have returned.
func localToLocalTCP(ctx context.Context, cfg Config) error {
	ln1, err := net.Listen("tcp", cfg.Local[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[0].Addr, err)
	}
	defer ln1.Close()
	ln2, err := net.Listen("tcp", cfg.Local[1].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[1].Addr, err)
	}
	defer ln2.Close()

	slog.InfoContext(ctx, "bind success", "addr", ln1.Addr().String())
	slog.InfoContext(ctx, "bind success", "addr", ln2.Addr().String())

	tlsCfg1, err := serverTLSConfig(cfg.Local[0])
	if err != nil {
		return err
	}
	tlsCfg2, err := serverTLSConfig(cfg.Local[1])
	if err != nil {
		return err
	}

	for {
		c1, c2, err := acceptPair(ctx, ln1, ln2)
		if err != nil {
			return err
		}

		go func() {
			s1, err := stream.WrapServer(c1, tlsCfg1)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = c1.Close()
				_ = c2.Close()
				return
			}
			s2, err := stream.WrapServer(c2, tlsCfg2)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = s1.Close()
				_ = c2.Close()
				return
			}
			spliceAndLog(ctx, s1, s2, c1.RemoteAddr().String(), c2.RemoteAddr().String())
		}()
	}
}

// localToRemoteTCP accepts on a single local listener, dials the single
// remote for every accepted connection, and pairs them.
func localToRemoteTCP(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Local[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[0].Addr, err)
	}
	defer ln.Close()
	slog.InfoContext(ctx, "bind success", "addr", ln.Addr().String())

	tlsCfg, err := serverTLSConfig(cfg.Local[0])
	if err != nil {
		return err
	}
	dialTLSCfg := clientTLSConfig(cfg.Remote[0])

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("forward: accept: %w", err)
		}
		slog.InfoContext(ctx, "accept connection", "addr", clientConn.RemoteAddr().String())

		remoteConn, err := net.Dial("tcp", cfg.Remote[0].Addr)
		if err != nil {
			slog.ErrorContext(ctx, "connect failed", "addr", cfg.Remote[0].Addr, "error", err.Error())
			_ = clientConn.Close()
			continue
		}
		slog.InfoContext(ctx, "connect success", "addr", remoteConn.RemoteAddr().String())

		go func() {
			cs, err := stream.WrapServer(clientConn, tlsCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = remoteConn.Close()
				return
			}
			rs, err := stream.WrapClient(remoteConn, dialTLSCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = cs.Close()
				return
			}
			spliceAndLog(ctx, cs, rs, clientConn.RemoteAddr().String(), remoteConn.RemoteAddr().String())
		}()
	}
}

// remoteToRemoteTCP dials both remotes for every iteration, bounded by the
// fixed-capacity concurrency semaphore since neither side is a local
// accept loop to throttle fan-out naturally.
func remoteToRemoteTCP(ctx context.Context, cfg Config) error {
	sem := NewSemaphore()
	dialTLSCfg1 := clientTLSConfig(cfg.Remote[0])
	dialTLSCfg2 := clientTLSConfig(cfg.Remote[1])

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		c1, c2, err := dialPair(ctx, cfg.Remote[0].Addr, cfg.Remote[1].Addr)
		if err != nil {
			sem.Release(1)
			return err
		}
		slog.InfoContext(ctx, "connect success", "addr", c1.RemoteAddr().String())
		slog.InfoContext(ctx, "connect success", "addr", c2.RemoteAddr().String())

		go func() {
			defer sem.Release(1)
			s1, err := stream.WrapClient(c1, dialTLSCfg1)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = c2.Close()
				return
			}
			s2, err := stream.WrapClient(c2, dialTLSCfg2)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = s1.Close()
				return
			}
			spliceAndLog(ctx, s1, s2, c1.RemoteAddr().String(), c2.RemoteAddr().String())
		}()
	}
}

// socketToLocalTCP accepts on the single local listener and dials the Unix
// socket for each accepted connection.
func socketToLocalTCP(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Local[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[0].Addr, err)
	}
	defer ln.Close()
	slog.InfoContext(ctx, "bind success", "addr", ln.Addr().String())

	tlsCfg, err := serverTLSConfig(cfg.Local[0])
	if err != nil {
		return err
	}

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("forward: accept: %w", err)
		}
		slog.InfoContext(ctx, "accept connection", "addr", clientConn.RemoteAddr().String())

		unixConn, err := net.Dial("unix", cfg.Socket)
		if err != nil {
			slog.ErrorContext(ctx, "connect failed", "addr", cfg.Socket, "error", err.Error())
			_ = clientConn.Close()
			continue
		}
		slog.InfoContext(ctx, "connect success", "addr", cfg.Socket)

		go func() {
			cs, err := stream.WrapServer(clientConn, tlsCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = unixConn.Close()
				return
			}
			us := stream.FromUnix(unixConn)
			spliceAndLog(ctx, us, cs, cfg.Socket, clientConn.RemoteAddr().String())
		}()
	}
}

// socketToRemoteTCP dials both the Unix socket and the single remote for
// every iteration, bounded by the concurrency semaphore.
func socketToRemoteTCP(ctx context.Context, cfg Config) error {
	sem := NewSemaphore()
	dialTLSCfg := clientTLSConfig(cfg.Remote[0])

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		unixConn, remoteConn, err := dialPair(ctx, "unix:"+cfg.Socket, cfg.Remote[0].Addr)
		if err != nil {
			sem.Release(1)
			return err
		}
		slog.InfoContext(ctx, "connect success", "addr", cfg.Socket)
		slog.InfoContext(ctx, "connect success", "addr", remoteConn.RemoteAddr().String())

		go func() {
			defer sem.Release(1)
			us := stream.FromUnix(unixConn)
			rs, err := stream.WrapClient(remoteConn, dialTLSCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = us.Close()
				return
			}
			spliceAndLog(ctx, us, rs, cfg.Socket, remoteConn.RemoteAddr().String())
		}()
	}
}

// acceptPair issues both accepts concurrently and only returns once both
// have completed, so a pair always forms from the two listeners'
// same-round arrivals.
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
		return nil, nil, fmt.Errorf("forward: accept: %w", r1.err)
	}
	if r2.err != nil {
		_ = r1.conn.Close()
		return nil, nil, fmt.Errorf("forward: accept: %w", r2.err)
	}
	slog.InfoContext(ctx, "accept connection", "addr", r1.conn.RemoteAddr().String())
	slog.InfoContext(ctx, "accept connection", "addr", r2.conn.RemoteAddr().String())
	return r1.conn, r2.conn, nil
}

// dialPair issues both dials concurrently and waits for both to finish
// before returning, so neither side is left connected without its peer.
func dialPair(ctx context.Context, addr1, addr2 string) (net.Conn, net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	r1ch := make(chan result, 1)
	r2ch := make(chan result, 1)

	dial := func(addr string) (net.Conn, error) {
		if network, path, ok := unixAddr(addr); ok {
			return net.Dial(network, path)
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}

	go func() {
		c, err := dial(addr1)
		r1ch <- result{c, err}
	}()
	go func() {
		c, err := dial(addr2)
		r2ch <- result{c, err}
	}()

	r1 := <-r1ch
	r2 := <-r2ch
	if r1.err != nil {
		if r2.conn != nil {
			_ = r2.conn.Close()
		}
		return nil, nil, fmt.Errorf("forward: connect: %w", r1.err)
	}
	if r2.err != nil {
		_ = r1.conn.Close()
		return nil, nil, fmt.Errorf("forward: connect: %w", r2.err)
	}
	return r1.conn, r2.conn, nil
}

// unixAddr recognizes the "unix:<path>" pseudo-address used internally by
// dialPair to dial a Unix socket through the same helper as TCP remotes.
func unixAddr(addr string) (network, path string, ok bool) {
	const prefix = "unix:"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return "unix", addr[len(prefix):], true
	}
	return "", "", false
}
