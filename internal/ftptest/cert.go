package ftptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Certificate is a self-signed server certificate for 127.0.0.1 and
// localhost, with the pool a client needs to trust it.
type Certificate struct {
	// Server is the configuration served by the test server.
	Server *tls.Config

	// Pool contains the self-signed certificate.
	Pool *x509.CertPool
}

// NewCertificate generates a fresh self-signed certificate valid for one hour.
func NewCertificate() (*Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"ftptest"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return &Certificate{
		Server: &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{der},
				PrivateKey:  priv,
				Leaf:        leaf,
			}},
			MinVersion: tls.VersionTLS12,
		},
		Pool: pool,
	}, nil
}

// ClientConfig returns a client configuration trusting the certificate.
func (c *Certificate) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    c.Pool,
		ServerName: "127.0.0.1",
	}
}
