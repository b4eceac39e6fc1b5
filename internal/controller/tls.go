package controller

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CertMaterial is one self-signed certificate/key pair in PEM form.
type CertMaterial struct {
	CertPEM []byte
	KeyPEM  []byte
}

// CertPool memoizes generated TLS material per server name, so concurrent
// scenarios using the same identity do not regenerate keys. Generation for
// the same name is deduplicated with singleflight; the cache is
// synchronized for concurrent scenario workers.
type CertPool struct {
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*CertMaterial
}

// NewCertPool creates an empty pool.
func NewCertPool() *CertPool {
	return &CertPool{cache: make(map[string]*CertMaterial)}
}

// Get returns memoized material for the server name, generating it on
// first use.
func (p *CertPool) Get(serverName string) (*CertMaterial, error) {
	p.mu.RLock()
	material, ok := p.cache[serverName]
	p.mu.RUnlock()
	if ok {
		return material, nil
	}

	result, err, _ := p.group.Do(serverName, func() (interface{}, error) {
		generated, err := GenerateCert(serverName)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[serverName] = generated
		p.mu.Unlock()
		return generated, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CertMaterial), nil
}

// GenerateCert creates a self-signed ECDSA certificate for the given
// server name, valid for loopback connections. The validity window is wide
// on both sides so instances running under faketime clock skew still
// present a currently-valid certificate.
func GenerateCert(serverName string) (*CertMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		NotBefore:             now.Add(-365 * 24 * time.Hour),
		NotAfter:              now.Add(2 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{serverName, "localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	return &CertMaterial{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}
