package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// loadServerTLS builds a mutual-TLS credentials object from certDir,
// which must contain server.crt, server.key, and ca.crt (the CA that
// signed every agent's client certificate). Client certificates are
// required and verified, enforcing mutual TLS on every connection.
func loadServerTLS(certDir string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(certDir, "server.crt"), filepath.Join(certDir, "server.key"))
	if err != nil {
		return nil, fmt.Errorf("bus: load server cert: %w", err)
	}

	caBytes, err := os.ReadFile(filepath.Join(certDir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("bus: load ca cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("bus: ca.crt contains no valid certificates")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}
	return credentials.NewTLS(cfg), nil
}

// LoadClientTLS builds mutual-TLS credentials for an agent dialing the
// bus, from a directory containing client.crt, client.key, and ca.crt
// (the CA that signed the bus's server certificate).
func LoadClientTLS(certDir string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(certDir, "client.crt"), filepath.Join(certDir, "client.key"))
	if err != nil {
		return nil, fmt.Errorf("bus: load client cert: %w", err)
	}

	caBytes, err := os.ReadFile(filepath.Join(certDir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("bus: load ca cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("bus: ca.crt contains no valid certificates")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS13,
	}
	return credentials.NewTLS(cfg), nil
}

// peerCommonName extracts the verified client certificate's CN from ctx,
// for the identity gate. Returns an error if the
// connection isn't TLS or presented no verified client certificate.
func peerCommonName(ctx context.Context) (string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("bus: no peer info in context")
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", fmt.Errorf("bus: connection is not TLS")
	}
	if len(tlsInfo.State.VerifiedChains) == 0 || len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", fmt.Errorf("bus: no verified client certificate")
	}
	return tlsInfo.State.VerifiedChains[0][0].Subject.CommonName, nil
}
