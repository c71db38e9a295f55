package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/rmendes/anycubic-cloud-bridge/pkg/file"
)

// NewTLSConfig builds the TLS configuration for the cloud broker from the CA
// certificate and the client certificate/key pair.
func NewTLSConfig(fileClient file.FileOperations, caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	caCert, err := fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate from %s", caCertPath)
	}

	clientCert, err := fileClient.ReadFileRaw(clientCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	clientKey, err := fileClient.ReadFileRaw(clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client key: %w", err)
	}

	keyPair, err := tls.X509KeyPair(clientCert, clientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key pair: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{keyPair},
	}, nil
}
