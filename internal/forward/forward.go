// Package forward implements Pivot's "forward" role: TCP/UDP port
// forwarding between any pair of {local listen, remote connect, Unix
// domain socket}, with optional per-endpoint TLS termination/origination.
package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zwxxb/pivot/internal/pipe"
	"github.com/zwxxb/pivot/internal/stream"
	"github.com/zwxxb/pivot/internal/tlsctx"
)

// concurrencyLimit bounds the number of concurrently in-flight pipes for
// the "pure client" topologies (remote<->remote, unix->remote), where
// nothing upstream of the dial loop otherwise bounds fan-out.
const concurrencyLimit = 32

// Endpoint is one side of a forward: a TCP host:port, optionally
// TLS-wrapped. A Unix domain socket is not an Endpoint; it is given
// separately in Config.Socket.
type Endpoint struct {
	Addr string
	TLS  bool
}

// Config describes one forward invocation. Exactly one of five fixed
// (#local, #remote, unix?) combinations is valid; any other combination
// is a configuration error rejected by Validate.
type Config struct {
	Local  []Endpoint
	Remote []Endpoint
	Socket string // Unix domain socket path; empty means "not used"
	UDP    bool
}

// Validate rejects any (#local, #remote, unix?) combination other than
// the five supported topologies.
func (c Config) Validate() error {
	nl, nr, hasSock := len(c.Local), len(c.Remote), c.Socket != ""
	switch {
	case nl == 2 && nr == 0 && !hasSock:
	case nl == 1 && nr == 1 && !hasSock:
	case nl == 0 && nr == 2 && !hasSock:
	case nl == 1 && nr == 0 && hasSock:
	case nl == 0 && nr == 1 && hasSock:
	default:
		return fmt.Errorf("invalid forward parameters: %d local, %d remote, socket=%v", nl, nr, hasSock)
	}
	return nil
}

// Start dispatches to the appropriate topology implementation and runs
// until ctx is canceled or a listener-level error occurs.
func Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	nl, nr, hasSock := len(cfg.Local), len(cfg.Remote), cfg.Socket != ""

	switch {
	case nl == 2 && nr == 0 && !hasSock:
		if cfg.UDP {
			return localToLocalUDP(ctx, cfg)
		}
		return localToLocalTCP(ctx, cfg)
	case nl == 1 && nr == 1 && !hasSock:
		if cfg.UDP {
			return localToRemoteUDP(ctx, cfg)
		}
		return localToRemoteTCP(ctx, cfg)
	case nl == 0 && nr == 2 && !hasSock:
		if cfg.UDP {
			return remoteToRemoteUDP(ctx, cfg)
		}
		return remoteToRemoteTCP(ctx, cfg)
	case nl == 1 && nr == 0 && hasSock:
		return socketToLocalTCP(ctx, cfg)
	case nl == 0 && nr == 1 && hasSock:
		return socketToRemoteTCP(ctx, cfg)
	default:
		return fmt.Errorf("invalid forward parameters")
	}
}

// serverTLSConfig builds a TLS server context for ep when ep.TLS is set,
// keyed by the listen host, built once before the accept loop.
func serverTLSConfig(ep Endpoint) (*tls.Config, error) {
	if !ep.TLS {
		return nil, nil
	}
	host, _, err := net.SplitHostPort(ep.Addr)
	if err != nil {
		host = ep.Addr
	}
	return tlsctx.Server(host)
}

// clientTLSConfig builds a TLS client context for ep when ep.TLS is set,
// built once per "remote" before the dial loop.
func clientTLSConfig(ep Endpoint) *tls.Config {
	if !ep.TLS {
		return nil
	}
	return tlsctx.Client()
}

func pipeSpanID() string {
	return uuid.NewString()[:8]
}

func spliceAndLog(ctx context.Context, a, b stream.Stream, aName, bName string) {
	span := pipeSpanID()
	slog.InfoContext(ctx, "open pipe", "span", span, "a", aName, "b", bName)
	pipe.Splice(ctx, a, b)
	slog.InfoContext(ctx, "close pipe", "span", span, "a", aName, "b", bName)
}

// NewSemaphore returns the fixed-capacity concurrency permit shared by the
// "pure client" topologies and, via internal/reverse, by the reverse-SOCKS
// client loop.
func NewSemaphore() *semaphore.Weighted {
	return semaphore.NewWeighted(concurrencyLimit)
}
