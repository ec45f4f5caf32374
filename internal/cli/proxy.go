package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/zwxxb/pivot/internal/reverse"
	"github.com/zwxxb/pivot/internal/socks"
	"github.com/zwxxb/pivot/internal/stream"
	"github.com/zwxxb/pivot/internal/tlsctx"
)

func proxyCommand(cancel context.CancelFunc) *cobra.Command {
	var locals []string
	var remote string
	var auth string

	cmd := &cobra.Command{
		Use:           "proxy",
		Short:         "Run a SOCKS5 server, reverse-SOCKS rendezvous server, or reverse-SOCKS client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runProxy(ctx, cancel, locals, remote, auth)
		},
	}

	cmd.Flags().StringArrayVar(&locals, "local", nil, "[+][IP:]PORT, repeatable")
	cmd.Flags().StringVar(&remote, "remote", "", "[+]IP:PORT, rendezvous address for reverse-SOCKS client mode")
	cmd.Flags().StringVar(&auth, "auth", "", "USER:PASS, or any other value to generate random credentials")

	return cmd
}

func runProxy(ctx context.Context, cancel context.CancelFunc, locals []string, remote, auth string) error {
	var authInfo *socks.AuthInfo
	if auth != "" {
		a := socks.NewAuthInfo(auth)
		authInfo = &a
	}

	switch {
	case len(locals) == 1 && remote == "":
		addr, tlsEnabled, err := parseLocal(locals[0])
		if err != nil {
			return fmt.Errorf("parse --local %q: %w", locals[0], err)
		}
		return runSOCKSServer(ctx, cancel, addr, tlsEnabled, authInfo)

	case len(locals) == 2 && remote == "":
		controlAddr, controlTLS, err := parseLocal(locals[0])
		if err != nil {
			return fmt.Errorf("parse --local %q: %w", locals[0], err)
		}
		proxyAddr, proxyTLS, err := parseLocal(locals[1])
		if err != nil {
			return fmt.Errorf("parse --local %q: %w", locals[1], err)
		}
		cfg := reverse.ServerConfig{
			Control: reverse.Endpoint{Addr: controlAddr, TLS: controlTLS},
			Proxy:   reverse.Endpoint{Addr: proxyAddr, TLS: proxyTLS},
		}
		if err := reverse.RunServer(ctx, cfg); err != nil {
			cancel()
			return err
		}
		return nil

	case len(locals) == 0 && remote != "":
		addr, tlsEnabled, err := parseRemote(remote)
		if err != nil {
			return fmt.Errorf("parse --remote %q: %w", remote, err)
		}
		cfg := reverse.ClientConfig{
			Rendezvous: reverse.Endpoint{Addr: addr, TLS: tlsEnabled},
			Auth:       authInfo,
		}
		if err := reverse.RunClient(ctx, cfg); err != nil {
			cancel()
			return err
		}
		return nil

	default:
		return fmt.Errorf("invalid proxy parameters: %d local, remote=%q", len(locals), remote)
	}
}

func runSOCKSServer(ctx context.Context, cancel context.CancelFunc, addr string, tlsEnabled bool, auth *socks.AuthInfo) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: bind %s: %w", addr, err)
	}
	defer ln.Close()
	slog.InfoContext(ctx, "bind success", "addr", ln.Addr().String())

	var serverCfg *tls.Config
	if tlsEnabled {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		serverCfg, err = tlsctx.Server(host)
		if err != nil {
			return err
		}
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			cancel()
			return fmt.Errorf("proxy: accept: %w", err)
		}
		slog.InfoContext(ctx, "accept connection", "addr", conn.RemoteAddr().String())

		go func() {
			s, err := stream.WrapServer(conn, serverCfg)
			if err != nil {
				slog.ErrorContext(ctx, "tls handshake failed", "error", err.Error())
				_ = conn.Close()
				return
			}
			if err := socks.HandleConnection(ctx, s, auth); err != nil {
				slog.ErrorContext(ctx, "socks5 session ended with error", "error", err.Error())
			}
		}()
	}
}
