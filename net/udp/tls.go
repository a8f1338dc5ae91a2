package udp

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// newTLSConfigs builds an ephemeral self-signed identity. Identity is not
// verified; the ALPN keeps applications apart.
func newTLSConfigs(appID string) (*tls.Config, *tls.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key, err=%w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName: appID,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour * 24 * 180),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate, err=%w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}

	server := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{appID},
		MinVersion:   tls.VersionTLS13,
	}
	client := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{appID},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
	}

	return server, client, nil
}
