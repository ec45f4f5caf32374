// Package stream provides a uniform bidirectional byte-stream abstraction
// over the transports Pivot couples: raw TCP, Unix domain sockets, and TLS
// running on top of TCP in either the server or client role.
package stream

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Kind tags which concrete transport a Stream wraps. The set is closed and
// small, so Stream is a tagged variant rather than an interface hierarchy:
// a single Split operation consumes it regardless of Kind.
type Kind int

const (
	KindTCP Kind = iota
	KindUnix
	KindServerTLS
	KindClientTLS
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUnix:
		return "unix"
	case KindServerTLS:
		return "server-tls"
	case KindClientTLS:
		return "client-tls"
	default:
		return "unknown"
	}
}

// Stream is one endpoint of a pipe. Once constructed it exposes exactly one
// read half and one write half; Split consumes it. A Stream is owned
// exclusively by whichever goroutine spliced it for its lifetime.
type Stream struct {
	Kind Kind
	Conn net.Conn
}

// FromTCP wraps a raw, already-accepted or already-dialed TCP connection.
func FromTCP(c net.Conn) Stream {
	return Stream{Kind: KindTCP, Conn: c}
}

// FromUnix wraps a Unix domain socket connection. Never fails.
func FromUnix(c net.Conn) Stream {
	return Stream{Kind: KindUnix, Conn: c}
}

// WrapServer performs the TLS server-side (accept) handshake on tcpConn when
// cfg is non-nil; otherwise it returns tcpConn unwrapped as a plain TCP
// Stream. On handshake failure it returns a wrapped error so callers can
// treat it as the per-connection TLS handshake error described in the core
// error taxonomy.
func WrapServer(tcpConn net.Conn, cfg *tls.Config) (Stream, error) {
	if cfg == nil {
		return FromTCP(tcpConn), nil
	}
	tlsConn := tls.Server(tcpConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		_ = tcpConn.Close()
		return Stream{}, fmt.Errorf("tls handshake (server): %w", err)
	}
	return Stream{Kind: KindServerTLS, Conn: tlsConn}, nil
}

// WrapClient performs the TLS client-side (connect) handshake on tcpConn when
// cfg is non-nil; otherwise it returns tcpConn unwrapped as a plain TCP
// Stream.
func WrapClient(tcpConn net.Conn, cfg *tls.Config) (Stream, error) {
	if cfg == nil {
		return FromTCP(tcpConn), nil
	}
	tlsConn := tls.Client(tcpConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		_ = tcpConn.Close()
		return Stream{}, fmt.Errorf("tls handshake (client): %w", err)
	}
	return Stream{Kind: KindClientTLS, Conn: tlsConn}, nil
}

// halfCloser is implemented by connections that can shut down only their
// send direction (TCP, Unix, and Go's TLS connections all provide
// CloseWrite).
type halfCloser interface {
	CloseWrite() error
}

// Reader returns the Stream's underlying connection for reading. It is the
// same net.Conn as Writer returns, so closing it closes the whole
// connection.
func (s Stream) Reader() net.Conn {
	return s.Conn
}

// Writer returns the Stream's underlying connection for writing. It is the
// same net.Conn as Reader returns, so closing it closes the whole
// connection; use Stream.CloseWrite to half-close only the send direction.
func (s Stream) Writer() net.Conn {
	return s.Conn
}

// Split returns read and write halves that can be used concurrently. Both
// halves are the same underlying net.Conn, so they are not independently
// closable: closing either closes the connection in both directions. A
// send-only half-close is available through Stream.CloseWrite; the pipe
// engine does not use it and closes both streams outright.
func (s Stream) Split() (r net.Conn, w net.Conn) {
	return s.Conn, s.Conn
}

// CloseWrite half-closes the send direction of the Stream's connection when
// the underlying transport supports it (TCP, Unix, TLS). If it doesn't, the
// connection is closed outright.
func (s Stream) CloseWrite() error {
	if hc, ok := s.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return s.Conn.Close()
}

// Close closes the Stream's underlying connection outright.
func (s Stream) Close() error {
	return s.Conn.Close()
}
