package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSCABundle   = errors.New("config: parse tls ca bundle")
	ErrSecretMissing = errors.New("config: shared secret missing")
	ErrSecretSources = errors.New("config: primary_key and primary_key_file are mutually exclusive")
)

// ClientTLS builds the client TLS config for a hub connection. An empty
// caFile trusts the system roots.
func ClientTLS(caFile, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: strings.TrimSpace(serverName),
	}
	if caPath := strings.TrimSpace(caFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("config: read tls ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("%w: %s", ErrTLSCABundle, caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// LoadSecret returns the inline secret or the trimmed contents of path.
func LoadSecret(inline, path string) (string, error) {
	inline = strings.TrimSpace(inline)
	path = strings.TrimSpace(path)
	switch {
	case inline != "" && path != "":
		return "", ErrSecretSources
	case inline != "":
		return inline, nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: read primary key file: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrSecretMissing, path)
		}
		return secret, nil
	default:
		return "", ErrSecretMissing
	}
}
