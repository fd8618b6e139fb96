package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	optls "github.com/ethereum-optimism/optimism/op-service/tls"
)

// Identity is the opaque capability the gateway authorizes requests with.
// Attach is called once per attempt, after all other headers are set.
type Identity interface {
	Attach(req *http.Request, body []byte) error
}

// TransportIdentity is an Identity presented at the TLS layer.
type TransportIdentity interface {
	Identity
	TLSConfig() *tls.Config
}

// BearerToken sends a static bearer token.
type BearerToken string

func (t BearerToken) Attach(req *http.Request, _ []byte) error {
	if t == "" {
		return errors.New("bearer token is empty")
	}
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

// DefaultSigningService is the SigV4 service name S3-compatible gateways expect.
const DefaultSigningService = "s3"

// SigV4 signs requests with AWS Signature Version 4.
type SigV4 struct {
	Credentials aws.CredentialsProvider
	Region      string
	Service     string
	Clock       func() time.Time

	signer *v4.Signer
}

// NewSigV4 loads credentials from the default AWS chain (environment,
// shared config, web identity, instance role).
func NewSigV4(ctx context.Context, region, service string) (*SigV4, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Credentials == nil {
		return nil, errors.New("no AWS credentials configured")
	}
	if region == "" {
		region = cfg.Region
	}
	return &SigV4{Credentials: cfg.Credentials, Region: region, Service: service}, nil
}

func (s *SigV4) Attach(req *http.Request, body []byte) error {
	if s.Credentials == nil {
		return errors.New("sigv4 identity has no credentials")
	}
	if s.Region == "" {
		return errors.New("sigv4 identity has no region")
	}
	creds, err := s.Credentials.Retrieve(req.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	if s.signer == nil {
		s.signer = v4.NewSigner()
	}
	service := s.Service
	if service == "" {
		service = DefaultSigningService
	}
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	return s.signer.SignHTTP(req.Context(), creds, req, payloadHash, service, s.Region, now())
}

// MutualTLS authenticates with a client certificate.
type MutualTLS struct {
	config *tls.Config
}

// NewMutualTLS loads the CA and key pair named by cfg.
func NewMutualTLS(cfg optls.CLIConfig) (*MutualTLS, error) {
	caCert, err := os.ReadFile(cfg.TLSCaCert)
	if err != nil {
		return nil, fmt.Errorf("failed to read tls.ca: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCaCert)
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read tls.cert or tls.key: %w", err)
	}
	return &MutualTLS{config: &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}}, nil
}

// Attach is a no-op: the certificate is presented during the handshake.
func (m *MutualTLS) Attach(*http.Request, []byte) error {
	return nil
}

func (m *MutualTLS) TLSConfig() *tls.Config {
	return m.config.Clone()
}
