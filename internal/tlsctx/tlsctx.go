// Package tlsctx builds the two TLS configurations the core needs: a
// server context bound to an ephemeral self-signed certificate keyed by
// host, and a client context that accepts any certificate presented to it.
//
// Certificate generation follows the common Go idiom of building a
// self-signed leaf directly with crypto/x509 and an ECDSA P-256 key rather
// than reaching for an external CA/cert-generation library; see
// DESIGN.md for why no third-party library is used here.
package tlsctx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// Server returns a TLS server config bound to a freshly generated
// self-signed certificate whose sole SAN is host. The certificate is not
// valid for any CA chain; the matching Client config never checks it.
// Built once per listen address and shared by reference across every
// connection accepted on that listener.
func Server(host string) (*tls.Config, error) {
	slog.Info("generating ephemeral self-signed tls certificate", "host", host)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("tlsctx: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("tlsctx: serial number: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("tlsctx: create certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Client returns a TLS client config whose certificate verification is
// disabled: it accepts any certificate the server presents, advertising the
// common signature schemes (ECDSA P-256/384/521, Ed25519, RSA-PKCS1 /
// RSA-PSS). Verification is skipped outright rather than hidden behind a
// generic option: the wrapped traffic is assumed to already be inside a
// trust boundary established out of band.
//
// ServerName is fixed to a literal; it is never checked against anything
// because InsecureSkipVerify disables verification, but TLS requires SNI
// to be set to something for the handshake to proceed uniformly across
// server implementations that key certificates by SNI.
func Client() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // intentional: see package docs
		ServerName:         "localhost",
		MinVersion:         tls.VersionTLS12,
	}
}
