package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"aura-gateway/internal/config"
)

// ErrNoCertificate is returned in production when neither ACME nor a
// certificate file can serve the handshake.
var ErrNoCertificate = errors.New("no TLS certificate available")

// TLSManager resolves the gateway's serving certificate: ACME first, then
// the configured key pair, then (outside production) a self-signed one.
type TLSManager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager
	logger     *zap.Logger

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewTLSManager(server config.ServerConfig, production bool, logger *zap.Logger) *TLSManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &TLSManager{
		server:     server,
		production: production,
		logger:     logger.Named("tls"),
	}

	if server.AutoCert && server.EnableTLS {
		manager.setupAutoCert()
	}

	return manager
}

func (m *TLSManager) setupAutoCert() {
	if m.server.Domain == "" {
		m.logger.Warn("AutoCert enabled without a domain, skipping ACME")
		return
	}
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		m.logger.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	m.logger.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		m.logger.Debug("ACME certificate unavailable, falling back", zap.Error(err))
	}

	if cert, err := m.loadFileCert(); err == nil {
		return cert, nil
	} else if m.server.CertFile != "" {
		m.logger.Warn("Could not load configured certificate", zap.Error(err))
	}

	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *TLSManager) loadFileCert() (*tls.Certificate, error) {
	if m.server.CertFile == "" || m.server.KeyFile == "" {
		return nil, ErrNoCertificate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fileCert != nil {
		return m.fileCert, nil
	}
	cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
	if err != nil {
		return nil, err
	}
	m.fileCert = &cert
	return m.fileCert, nil
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devCert != nil {
		return m.devCert, nil
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.server.Domain != "" {
		hosts = append([]string{m.server.Domain}, hosts...)
	}

	cert, err := NewDevCertGenerator(m.server.AutoCertDir, m.logger).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.devCert = &cert
	return m.devCert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager returns the ACME manager so its HTTP-01 handler can be
// mounted on the plaintext port, or nil when ACME is off.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
