package forward

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// udpBufSize covers the maximum possible UDP payload. Pivot never
// fragments or reassembles datagrams; each Read/Write is one packet.
const udpBufSize = 65535

// localToLocalUDP relays datagrams between two local UDP sockets. Neither
// side is "connected" to a fixed peer: each socket latches the address of
// the last peer it heard from, and a datagram arriving on one socket is
// forwarded to the other socket's latched peer, if any. Before relaying
// starts, one handshake datagram is read from socket 1 and discarded; its
// source becomes socket 1's first latch. After that, packets with no known
// destination are logged and dropped.
func localToLocalUDP(ctx context.Context, cfg Config) error {
	sock1, err := net.ListenPacket("udp", cfg.Local[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[0].Addr, err)
	}
	defer sock1.Close()
	sock2, err := net.ListenPacket("udp", cfg.Local[1].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[1].Addr, err)
	}
	defer sock2.Close()

	slog.InfoContext(ctx, "bind success", "addr", sock1.LocalAddr().String())
	slog.InfoContext(ctx, "bind success", "addr", sock2.LocalAddr().String())

	var mu sync.Mutex
	var peer1, peer2 net.Addr

	hsCh := make(chan error, 1)
	go func() {
		buf := make([]byte, udpBufSize)
		_, addr, err := sock1.ReadFrom(buf)
		peer1 = addr
		hsCh <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-hsCh:
		if err != nil {
			return fmt.Errorf("forward: udp handshake (local1): %w", err)
		}
	}

	errCh := make(chan error, 2)

	relay := func(from net.PacketConn, mine *net.Addr, other net.PacketConn, otherPeer *net.Addr, label string) {
		buf := make([]byte, udpBufSize)
		for {
			n, addr, err := from.ReadFrom(buf)
			if err != nil {
				errCh <- fmt.Errorf("forward: udp read (%s): %w", label, err)
				return
			}
			mu.Lock()
			*mine = addr
			dst := *otherPeer
			mu.Unlock()

			if dst == nil {
				slog.DebugContext(ctx, "udp packet dropped, no peer latched yet", "direction", label)
				continue
			}
			if _, err := other.WriteTo(buf[:n], dst); err != nil {
				slog.DebugContext(ctx, "udp write failed", "direction", label, "error", err.Error())
			}
		}
	}

	go relay(sock1, &peer1, sock2, &peer2, "local1->local2")
	go relay(sock2, &peer2, sock1, &peer1, "local2->local1")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// localToRemoteUDP relays datagrams between a local unconnected UDP socket
// and a single remote, over a UDP socket connected (in the net.Conn sense)
// to that remote. The local side latches the last client address it heard
// from; replies from the remote are forwarded to that latched client.
func localToRemoteUDP(ctx context.Context, cfg Config) error {
	localSock, err := net.ListenPacket("udp", cfg.Local[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: bind %s: %w", cfg.Local[0].Addr, err)
	}
	defer localSock.Close()
	slog.InfoContext(ctx, "bind success", "addr", localSock.LocalAddr().String())

	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.Remote[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: resolve %s: %w", cfg.Remote[0].Addr, err)
	}
	remoteConn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return fmt.Errorf("forward: connect %s: %w", cfg.Remote[0].Addr, err)
	}
	defer remoteConn.Close()
	slog.InfoContext(ctx, "connect success", "addr", remoteConn.RemoteAddr().String())

	var mu sync.Mutex
	var lastClient net.Addr

	errCh := make(chan error, 2)

	go func() {
		buf := make([]byte, udpBufSize)
		for {
			n, addr, err := localSock.ReadFrom(buf)
			if err != nil {
				errCh <- fmt.Errorf("forward: udp read (local): %w", err)
				return
			}
			mu.Lock()
			lastClient = addr
			mu.Unlock()
			if _, err := remoteConn.Write(buf[:n]); err != nil {
				slog.DebugContext(ctx, "udp write failed", "direction", "local->remote", "error", err.Error())
			}
		}
	}()

	go func() {
		buf := make([]byte, udpBufSize)
		for {
			n, err := remoteConn.Read(buf)
			if err != nil {
				errCh <- fmt.Errorf("forward: udp read (remote): %w", err)
				return
			}
			mu.Lock()
			dst := lastClient
			mu.Unlock()
			if dst == nil {
				slog.DebugContext(ctx, "udp packet dropped, no client latched yet", "direction", "remote->local")
				continue
			}
			if _, err := localSock.WriteTo(buf[:n], dst); err != nil {
				slog.DebugContext(ctx, "udp write failed", "direction", "remote->local", "error", err.Error())
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// remoteToRemoteUDP relays datagrams between two remotes, each reached over
// a UDP socket connected to it. Since neither remote initiates contact,
// the second socket sends one 4-byte all-zero handshake datagram at startup so
// its remote learns our ephemeral source address and can reply.
func remoteToRemoteUDP(ctx context.Context, cfg Config) error {
	addr1, err := net.ResolveUDPAddr("udp", cfg.Remote[0].Addr)
	if err != nil {
		return fmt.Errorf("forward: resolve %s: %w", cfg.Remote[0].Addr, err)
	}
	addr2, err := net.ResolveUDPAddr("udp", cfg.Remote[1].Addr)
	if err != nil {
		return fmt.Errorf("forward: resolve %s: %w", cfg.Remote[1].Addr, err)
	}

	conn1, err := net.DialUDP("udp", nil, addr1)
	if err != nil {
		return fmt.Errorf("forward: connect %s: %w", cfg.Remote[0].Addr, err)
	}
	defer conn1.Close()
	conn2, err := net.DialUDP("udp", nil, addr2)
	if err != nil {
		return fmt.Errorf("forward: connect %s: %w", cfg.Remote[1].Addr, err)
	}
	defer conn2.Close()

	slog.InfoContext(ctx, "connect success", "addr", conn1.RemoteAddr().String())
	slog.InfoContext(ctx, "connect success", "addr", conn2.RemoteAddr().String())

	handshake := make([]byte, 4)
	if _, err := conn2.Write(handshake); err != nil {
		return fmt.Errorf("forward: udp handshake: %w", err)
	}

	errCh := make(chan error, 2)

	relay := func(from, to *net.UDPConn, label string) {
		buf := make([]byte, udpBufSize)
		for {
			n, err := from.Read(buf)
			if err != nil {
				errCh <- fmt.Errorf("forward: udp read (%s): %w", label, err)
				return
			}
			if _, err := to.Write(buf[:n]); err != nil {
				slog.DebugContext(ctx, "udp write failed", "direction", label, "error", err.Error())
			}
		}
	}

	go relay(conn1, conn2, "remote1->remote2")
	go relay(conn2, conn1, "remote2->remote1")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
