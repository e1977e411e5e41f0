/*
SPIFFE Integration
Provides cryptographic identity verification using SPIFFE/SPIRE
*/

package identity

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// SPIFFEVerifier sources a server-side mTLS config from a SPIRE workload
// API socket. cmd/gateway installs it on its HTTP server when
// ADMISSION_MTLS_ENABLED is set, which puts every route behind mTLS. It
// never backs the bearer-JWT Identity Verifier.
type SPIFFEVerifier struct {
	source *workloadapi.X509Source
}

// NewSPIFFEVerifier creates a new SPIFFE verifier
func NewSPIFFEVerifier(socketPath string) (*SPIFFEVerifier, error) {
	// Use a timeout to avoid blocking startup when SPIRE agent is unavailable
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Connect to SPIRE agent
	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SPIRE: %w", err)
	}

	slog.Info("Connected to SPIRE agent at", "socket_path", socketPath)
	return &SPIFFEVerifier{
		source: source,
	}, nil
}

// GetTLSConfig returns a server TLS config with SPIFFE authentication
func (sv *SPIFFEVerifier) GetTLSConfig() (*tls.Config, error) {
	// Create server TLS config for mTLS
	tlsConf := tlsconfig.MTLSServerConfig(sv.source, sv.source, tlsconfig.AuthorizeAny())
	return tlsConf, nil
}

// Close cleanup
func (sv *SPIFFEVerifier) Close() error {
	return sv.source.Close()
}
