// Package certs loads the mTLS certificate bundle fact uses to talk to the
// sensor: a CA certificate plus a client identity (certificate + key).
//
// Grounded on original_source/fact/src/lib.rs ("certs_path.try_into()") and
// the teacher's TLS test helpers (comp/core/remoteagent/helper), which build
// a tls.Config from an equivalent CA/identity pair.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

const (
	caFileName   = "ca.pem"
	certFileName = "cert.pem"
	keyFileName  = "key.pem"
)

// Bundle is the CA certificate and client identity loaded from a certs
// directory. It is read-only once built and is safe to share by value
// across every RPC client constructed during the process lifetime.
type Bundle struct {
	CAPEM   []byte
	CertPEM []byte
	KeyPEM  []byte
}

// Load reads ca.pem, cert.pem and key.pem from dir. All three files must be
// present and parseable; any individual failure is a distinguished
// configuration error per spec.md §7.
func Load(dir string) (*Bundle, error) {
	ca, err := os.ReadFile(filepath.Join(dir, caFileName))
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	cert, err := os.ReadFile(filepath.Join(dir, certFileName))
	if err != nil {
		return nil, fmt.Errorf("reading client certificate: %w", err)
	}
	key, err := os.ReadFile(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("reading client key: %w", err)
	}

	b := &Bundle{CAPEM: ca, CertPEM: cert, KeyPEM: key}
	if _, err := b.TLSConfig(); err != nil {
		return nil, err
	}
	return b, nil
}

// TLSConfig builds a fresh *tls.Config from the bundle. Called once per RPC
// client construction; the bundle itself is never mutated.
func (b *Bundle) TLSConfig() (*tls.Config, error) {
	identity, err := tls.X509KeyPair(b.CertPEM, b.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client identity: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b.CAPEM) {
		return nil, fmt.Errorf("parsing CA certificate: no valid certificates found")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{identity},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
