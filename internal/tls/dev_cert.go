package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const devCertValidity = 90 * 24 * time.Hour

// DevCertGenerator writes a self-signed P-256 key pair for local runs of the
// gateway and the agent simulator.
type DevCertGenerator struct {
	certDir string
	logger  *zap.Logger
	now     func() time.Time
}

func NewDevCertGenerator(certDir string, logger *zap.Logger) *DevCertGenerator {
	if certDir == "" {
		certDir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevCertGenerator{certDir: certDir, logger: logger, now: time.Now}
}

func (d *DevCertGenerator) paths() (string, string) {
	return filepath.Join(d.certDir, "dev-cert.pem"), filepath.Join(d.certDir, "dev-key.pem")
}

// GenerateCert reuses a still-valid pair from certDir or writes a new one.
func (d *DevCertGenerator) GenerateCert(hosts []string) (tls.Certificate, error) {
	certPath, keyPath := d.paths()

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && d.isCertificateValid(certPath) {
		d.logger.Info("Using existing development certificate", zap.String("cert_path", certPath))
		return cert, nil
	}

	if err := os.MkdirAll(d.certDir, 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create cert dir: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := d.now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"AURA Gateway Development"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(devCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certPath, 0644, "CERTIFICATE", derBytes); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(keyPath, 0600, "PRIVATE KEY", keyBytes); err != nil {
		return tls.Certificate{}, err
	}

	d.logger.Info("Generated self-signed certificate",
		zap.String("cert_path", certPath),
		zap.Strings("hosts", hosts))

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load generated certificate: %w", err)
	}
	return cert, nil
}

func writePEM(path string, mode os.FileMode, blockType string, der []byte) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out.Close()
}

func (d *DevCertGenerator) isCertificateValid(certPath string) bool {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return false
	}

	block, _ := pem.Decode(certData)
	if block == nil {
		return false
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}

	now := d.now()
	return now.After(cert.NotBefore) && now.Before(cert.NotAfter)
}
