// Package socks implements the server side of SOCKS5 (RFC 1928) as used by
// Pivot's proxy role: greeting, optional RFC 1929 username/password
// sub-negotiation, and the CONNECT command for IPv4 and domain addresses.
package socks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/zwxxb/pivot/internal/pipe"
	"github.com/zwxxb/pivot/internal/randstr"
	"github.com/zwxxb/pivot/internal/stream"
)

const (
	socksVersion   byte = 0x05
	authVersion    byte = 0x01
	cmdConnect     byte = 0x01
	atypIPv4       byte = 0x01
	atypDomain     byte = 0x03
	atypIPv6       byte = 0x04
	methodNoAuth   byte = 0x00
	methodUserPass byte = 0x02
	methodNoAccept byte = 0xff
)

// AuthInfo is a username/password pair required during SOCKS5
// sub-negotiation. If the operator supplies "user:pass" it is used
// verbatim; any other non-empty value generates 12-character random
// alphanumeric credentials, logged once at startup (see NewAuthInfo).
type AuthInfo struct {
	User string
	Pass string
}

// NewAuthInfo parses the --auth flag value. A value containing ":" is split
// verbatim into user and pass. Any other non-empty value causes both
// fields to be generated as random 12-character alphanumeric strings,
// logged exactly once here and never at Debug level.
func NewAuthInfo(raw string) AuthInfo {
	user, pass, ok := splitUserPass(raw)
	if !ok {
		user = randstr.Generate(12)
		pass = randstr.Generate(12)
	}
	slog.Info("socks5 authentication configured", "user", user, "pass", pass)
	return AuthInfo{User: user, Pass: pass}
}

func splitUserPass(raw string) (user, pass string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}

// dialTCP is overridable in tests so the CONNECT step can be pointed at a
// loopback listener without touching DNS.
var dialTCP = func(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// HandleConnection runs the full SOCKS5 responder state machine over client,
// optionally enforcing the RFC1929 credentials in auth, then splices the
// negotiated target stream with client via the pipe engine. Protocol
// malformations and unsupported requests are returned as plain errors for
// the caller to log and close the offending connection; the process keeps
// accepting new ones.
func HandleConnection(ctx context.Context, client stream.Stream, auth *AuthInfo) error {
	r, w := client.Split()

	if err := negotiateAuth(r, w, auth); err != nil {
		return err
	}

	addr, err := readRequest(r)
	if err != nil {
		return err
	}

	targetConn, err := dialTCP(ctx, addr)
	if err != nil {
		_, _ = w.Write(failureReply())
		return fmt.Errorf("socks: connect to %s: %w", addr, err)
	}

	if _, err := w.Write(successReply()); err != nil {
		_ = targetConn.Close()
		return fmt.Errorf("socks: write success reply: %w", err)
	}

	slog.InfoContext(ctx, "socks5 tunnel open", "target", addr)
	pipe.Splice(ctx, client, stream.FromTCP(targetConn))
	slog.InfoContext(ctx, "socks5 tunnel closed", "target", addr)
	return nil
}

func negotiateAuth(r io.Reader, w io.Writer, auth *AuthInfo) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("socks: read greeting: %w", err)
	}
	if hdr[0] != socksVersion {
		return fmt.Errorf("%w: invalid SOCKS5 protocol version %#x", errInvalidData, hdr[0])
	}

	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return fmt.Errorf("socks: read methods: %w", err)
	}

	if auth == nil {
		_, err := w.Write([]byte{socksVersion, methodNoAuth})
		return err
	}

	if !containsByte(methods, methodUserPass) {
		_, _ = w.Write([]byte{socksVersion, methodNoAccept})
		return fmt.Errorf("%w: no supported authentication method", errInvalidData)
	}
	if _, err := w.Write([]byte{socksVersion, methodUserPass}); err != nil {
		return fmt.Errorf("socks: write method selection: %w", err)
	}

	return userPassSubnegotiation(r, w, *auth)
}

func userPassSubnegotiation(r io.Reader, w io.Writer, auth AuthInfo) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("socks: read auth header: %w", err)
	}
	if hdr[0] != authVersion {
		return fmt.Errorf("%w: invalid authentication version %#x", errInvalidData, hdr[0])
	}

	user := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, user); err != nil {
		return fmt.Errorf("socks: read username: %w", err)
	}

	plen := make([]byte, 1)
	if _, err := io.ReadFull(r, plen); err != nil {
		return fmt.Errorf("socks: read password length: %w", err)
	}
	pass := make([]byte, plen[0])
	if _, err := io.ReadFull(r, pass); err != nil {
		return fmt.Errorf("socks: read password: %w", err)
	}

	if string(user) == auth.User && string(pass) == auth.Pass {
		_, err := w.Write([]byte{authVersion, 0x00})
		return err
	}

	_, _ = w.Write([]byte{authVersion, 0x01})
	return fmt.Errorf("%w: authentication failed", errPermissionDenied)
}

func readRequest(r io.Reader) (string, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return "", fmt.Errorf("socks: read request: %w", err)
	}
	if hdr[0] != socksVersion {
		return "", fmt.Errorf("%w: invalid SOCKS5 request version %#x", errInvalidData, hdr[0])
	}
	if hdr[1] != cmdConnect {
		return "", fmt.Errorf("%w: only CONNECT command supported", errUnsupported)
	}

	switch hdr[3] {
	case atypIPv4:
		buf := make([]byte, 6)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("socks: read ipv4 address: %w", err)
		}
		port := binary.BigEndian.Uint16(buf[4:6])
		return fmt.Sprintf("%d.%d.%d.%d:%d", buf[0], buf[1], buf[2], buf[3], port), nil
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return "", fmt.Errorf("socks: read domain length: %w", err)
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(r, domain); err != nil {
			return "", fmt.Errorf("socks: read domain: %w", err)
		}
		portBuf := make([]byte, 2)
		if _, err := io.ReadFull(r, portBuf); err != nil {
			return "", fmt.Errorf("socks: read port: %w", err)
		}
		port := binary.BigEndian.Uint16(portBuf)
		return fmt.Sprintf("%s:%d", domain, port), nil
	case atypIPv6:
		return "", fmt.Errorf("%w: ipv6 address not supported", errUnsupported)
	default:
		return "", fmt.Errorf("%w: unsupported address type %#x", errUnsupported, hdr[3])
	}
}

func successReply() []byte {
	return []byte{socksVersion, 0x00, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
}

func failureReply() []byte {
	return []byte{socksVersion, 0x04, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
}

func containsByte(b []byte, target byte) bool {
	for _, v := range b {
		if v == target {
			return true
		}
	}
	return false
}

var (
	errInvalidData      = errors.New("invalid data")
	errUnsupported      = errors.New("unsupported")
	errPermissionDenied = errors.New("permission denied")
)
