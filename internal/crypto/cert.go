package crypto

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
	"sync"
	"time"

	"github.com/gluk-w/remsh/internal/database"
)

// GenerateServerCertPair creates a self-signed ECDSA P-256 TLS certificate
// for the API server. Callers pin the exact certificate, so no shared CA
// is involved.
func GenerateServerCertPair(host string) (certPEM, keyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: "remsh",
		},
		NotBefore:             now,
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour), // ~10 years
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	if host != "" {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	keyPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyDER,
	})

	return string(certPEMBytes), string(keyPEMBytes), nil
}

var (
	srvCertOnce sync.Once
	srvCert     *tls.Certificate
	srvCertPEM  string
	srvCertErr  error
)

// ServerCert returns the API server TLS certificate, generating and
// persisting it on first call. The private key is stored fernet-encrypted
// in the settings table; the public PEM is returned for pinning.
func ServerCert(host string) (tlsCert *tls.Certificate, publicPEM string, err error) {
	srvCertOnce.Do(func() {
		srvCertPEM, srvCert, srvCertErr = loadOrGenerateServerCert(host)
	})
	return srvCert, srvCertPEM, srvCertErr
}

// ResetServerCertCache clears the cached cert (for testing).
func ResetServerCertCache() {
	srvCertOnce = sync.Once{}
	srvCert = nil
	srvCertPEM = ""
	srvCertErr = nil
}

func loadOrGenerateServerCert(host string) (string, *tls.Certificate, error) {
	certPEM, err := database.GetSetting("server_cert")
	if err == nil && certPEM != "" {
		encKeyPEM, err := database.GetSetting("server_cert_key")
		if err == nil && encKeyPEM != "" {
			keyPEM, err := Decrypt(encKeyPEM)
			if err == nil {
				parsed, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
				if err == nil {
					return certPEM, &parsed, nil
				}
			}
		}
	}

	// Generate new cert pair.
	certPEM, keyPEM, err := GenerateServerCertPair(host)
	if err != nil {
		return "", nil, fmt.Errorf("generate server cert: %w", err)
	}

	encKeyPEM, err := Encrypt(keyPEM)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt server key: %w", err)
	}

	if err := database.SetSetting("server_cert", certPEM); err != nil {
		return "", nil, fmt.Errorf("save server cert: %w", err)
	}
	if err := database.SetSetting("server_cert_key", encKeyPEM); err != nil {
		return "", nil, fmt.Errorf("save server key: %w", err)
	}

	parsed, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return "", nil, fmt.Errorf("parse server cert: %w", err)
	}

	return certPEM, &parsed, nil
}
