package security

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

	"github.com/cuemby/jenkins-relay/pkg/relation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  string
}

func newTestCA(t *testing.T, cn string) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             testNow.Add(-time.Hour),
		NotAfter:              testNow.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{cert: cert, key: key, pem: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))}
}

func (ca *testCA) issue(t *testing.T, cn string, notAfter time.Time) relation.TLSMaterial {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    testNow.Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return relation.TLSMaterial{
		Key:  string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})),
		Cert: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		CA:   ca.pem,
	}
}

func TestVerifyClientMaterial(t *testing.T) {
	ca := newTestCA(t, "relay-ca")
	other := newTestCA(t, "other-ca")
	valid := ca.issue(t, "slave-3", testNow.Add(90*24*time.Hour))

	wrongCA := valid
	wrongCA.CA = other.pem

	tests := []struct {
		name    string
		m       relation.TLSMaterial
		now     time.Time
		wantErr bool
	}{
		{name: "valid", m: valid, now: testNow},
		{name: "incomplete", m: relation.TLSMaterial{Cert: valid.Cert, CA: valid.CA}, now: testNow, wantErr: true},
		{name: "garbage", m: relation.TLSMaterial{Key: "k", Cert: "c", CA: "ca"}, now: testNow, wantErr: true},
		{name: "signed by another CA", m: wrongCA, now: testNow, wantErr: true},
		{name: "expired", m: valid, now: testNow.Add(100 * 24 * time.Hour), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := VerifyClientMaterial(tt.m, tt.now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "slave-3", cert.Subject())
		})
	}
}

func TestNeedsRotation(t *testing.T) {
	ca := newTestCA(t, "relay-ca")

	cert, err := VerifyClientMaterial(ca.issue(t, "slave-0", testNow.Add(10*24*time.Hour)), testNow)
	require.NoError(t, err)
	assert.True(t, cert.NeedsRotation(testNow))
	assert.Equal(t, 10*24*time.Hour, cert.TimeRemaining(testNow))

	cert, err = VerifyClientMaterial(ca.issue(t, "slave-0", testNow.Add(90*24*time.Hour)), testNow)
	require.NoError(t, err)
	assert.False(t, cert.NeedsRotation(testNow))
}

func TestLoadClientMaterial(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"key.pem": "K", "cert.pem": "C", "ca.pem": "CA"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}

	m, err := LoadClientMaterial(filepath.Join(dir, "key.pem"), filepath.Join(dir, "cert.pem"), filepath.Join(dir, "ca.pem"))
	require.NoError(t, err)
	assert.Equal(t, relation.TLSMaterial{Key: "K", Cert: "C", CA: "CA"}, m)

	_, err = LoadClientMaterial(filepath.Join(dir, "missing.pem"), "", "")
	assert.Error(t, err)
}
