package controller

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCert(t *testing.T) {
	material, err := GenerateCert("My.Little.Server")
	require.NoError(t, err)

	block, _ := pem.Decode(material.CertPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "My.Little.Server", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "localhost")

	// The validity window must comfortably cover faketime clock skew in
	// both directions.
	now := time.Now()
	assert.True(t, cert.NotBefore.Before(now.Add(-30*24*time.Hour)))
	assert.True(t, cert.NotAfter.After(now.Add(30*24*time.Hour)))

	// The pair must load as server key material.
	_, err = tls.X509KeyPair(material.CertPEM, material.KeyPEM)
	require.NoError(t, err)
}

func TestCertPoolMemoizes(t *testing.T) {
	pool := NewCertPool()

	first, err := pool.Get("srv.example")
	require.NoError(t, err)
	second, err := pool.Get("srv.example")
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := pool.Get("other.example")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestCertPoolConcurrentAccess(t *testing.T) {
	pool := NewCertPool()

	var wg sync.WaitGroup
	results := make([]*CertMaterial, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			material, err := pool.Get("srv.example")
			assert.NoError(t, err)
			results[i] = material
		}(i)
	}
	wg.Wait()

	for _, material := range results {
		assert.Same(t, results[0], material)
	}
}
