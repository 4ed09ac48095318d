package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-gateway/internal/config"
)

func TestDevCertGenerator_GeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, nil)

	first, err := gen.GenerateCert([]string{"gateway.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "gateway.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := gen.GenerateCert([]string{"gateway.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestDevCertGenerator_RegeneratesExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, nil)

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(2 * devCertValidity) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_FallbackOrder(t *testing.T) {
	dir := t.TempDir()
	server := config.ServerConfig{EnableTLS: true, AutoCertDir: dir}

	dev := NewTLSManager(server, false, nil)
	cert, err := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	again, err := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)

	prod := NewTLSManager(server, true, nil)
	_, err = prod.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	assert.ErrorIs(t, err, ErrNoCertificate)

	// the dev pair on disk doubles as a configured key pair
	server.CertFile = filepath.Join(dir, "dev-cert.pem")
	server.KeyFile = filepath.Join(dir, "dev-key.pem")
	prod = NewTLSManager(server, true, nil)
	fromFile, err := prod.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], fromFile.Certificate[0])
}

func TestTLSManager_Config(t *testing.T) {
	cfg := NewTLSManager(config.ServerConfig{}, false, nil).GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)
	assert.Nil(t, NewTLSManager(config.ServerConfig{}, false, nil).GetAutocertManager())
}
