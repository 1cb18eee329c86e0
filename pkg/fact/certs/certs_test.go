package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSignedBundle(t *testing.T, dir string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "fact-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	require.NoError(t, os.WriteFile(filepath.Join(dir, caFileName), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certFileName), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), keyPEM, 0o600))
}

func TestLoadValidBundle(t *testing.T) {
	dir := t.TempDir()
	writeSelfSignedBundle(t, dir)

	bundle, err := Load(dir)
	require.NoError(t, err)

	tlsCfg, err := bundle.TLSConfig()
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
	assert.NotNil(t, tlsCfg.RootCAs)
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	// Only write the CA, leave cert/key missing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, caFileName), []byte("bogus"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadUnparseableCA(t *testing.T) {
	dir := t.TempDir()
	writeSelfSignedBundle(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, caFileName), []byte("not a cert"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}
