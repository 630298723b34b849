package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrInvalidScheme           = errors.New("session: invalid scheme")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSWithoutHTTPS         = errors.New("session: tls settings require https scheme")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify conflicts with ca file")
)

// TLSConfig configures worker transport security for the channel and
// resource fetches.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

func (t TLSConfig) configured() bool {
	return strings.TrimSpace(t.CAFile) != "" || strings.TrimSpace(t.ServerName) != "" || t.InsecureSkipVerify
}

// ValidateClientTransport checks scheme and TLS settings for consistency.
func (c Config) ValidateClientTransport() error {
	switch c.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScheme, c.Scheme)
	}
	if c.Scheme == "http" && c.TLS.configured() {
		return ErrTLSWithoutHTTPS
	}
	if c.TLS.InsecureSkipVerify && strings.TrimSpace(c.TLS.CAFile) != "" {
		return ErrTLSInsecureSkipNotAllow
	}
	return nil
}

// ClientTLSConfig builds the client tls.Config, or nil for plain http.
func (c Config) ClientTLSConfig() (*tls.Config, error) {
	if err := c.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if c.Scheme != "https" {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(c.TLS.ServerName),
	}
	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
