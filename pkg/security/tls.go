// Package security checks the TLS client material workers publish.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/relation"
)

// Rotation threshold: warn when less than 30 days remain
const certRotationThreshold = 30 * 24 * time.Hour

// ClientCert is verified client material
type ClientCert struct {
	Pair tls.Certificate
	Leaf *x509.Certificate
	CA   *x509.Certificate
}

// LoadClientMaterial reads PEM key, certificate and CA files
func LoadClientMaterial(keyFile, certFile, caFile string) (relation.TLSMaterial, error) {
	var m relation.TLSMaterial
	for _, f := range []struct {
		path string
		dst  *string
	}{{keyFile, &m.Key}, {certFile, &m.Cert}, {caFile, &m.CA}} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return relation.TLSMaterial{}, fmt.Errorf("failed to read %s: %w", f.path, err)
		}
		*f.dst = string(data)
	}
	return m, nil
}

// VerifyClientMaterial parses the key pair and checks that the certificate
// is signed by the CA and valid at now.
func VerifyClientMaterial(m relation.TLSMaterial, now time.Time) (*ClientCert, error) {
	if !m.Complete() {
		return nil, fmt.Errorf("client key, certificate and CA are all required")
	}

	pair, err := tls.X509KeyPair([]byte(m.Cert), []byte(m.Key))
	if err != nil {
		return nil, fmt.Errorf("invalid client key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	pair.Leaf = leaf

	ca, err := parseCertificatePEM(m.CA)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate: %w", err)
	}

	if err := ValidateCertChain(leaf, ca, now); err != nil {
		return nil, err
	}
	return &ClientCert{Pair: pair, Leaf: leaf, CA: ca}, nil
}

func parseCertificatePEM(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// ValidateCertChain validates that a certificate is signed by the CA
func ValidateCertChain(cert, ca *x509.Certificate, now time.Time) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if ca == nil {
		return fmt.Errorf("CA certificate is nil")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	opts := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// NeedsRotation returns true when less than 30 days remain until expiry
func (c *ClientCert) NeedsRotation(now time.Time) bool {
	return c.Leaf.NotAfter.Sub(now) < certRotationThreshold
}

// TimeRemaining returns the time left until the certificate expires
func (c *ClientCert) TimeRemaining(now time.Time) time.Duration {
	return c.Leaf.NotAfter.Sub(now)
}

// Subject is the certificate's common name
func (c *ClientCert) Subject() string {
	return c.Leaf.Subject.CommonName
}
