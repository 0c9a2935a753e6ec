package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/types"
)

// PasswordFile is the file under the coordinator home holding the fallback
// admin password.
const PasswordFile = ".admin_password"

// DefaultUsername is used when no username is configured
const DefaultUsername = "admin"

// MissingCredentialError means no password could be resolved
type MissingCredentialError struct {
	Path string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("no admin password configured and %s is absent or empty", e.Path)
}

// IsMissing reports whether err is a MissingCredentialError
func IsMissing(err error) bool {
	var missing *MissingCredentialError
	return errors.As(err, &missing)
}

// Config holds the configured credential sources
type Config struct {
	Username string
	Password string // takes precedence over the file
	Home     string // coordinator home directory
}

// Provider resolves the coordinator admin credentials
type Provider struct {
	username string
	password string
	path     string
}

// NewProvider creates a provider for the given configuration
func NewProvider(cfg Config) *Provider {
	username := cfg.Username
	if username == "" {
		username = DefaultUsername
	}
	return &Provider{
		username: username,
		password: cfg.Password,
		path:     filepath.Join(cfg.Home, PasswordFile),
	}
}

// Path returns the fallback password file location
func (p *Provider) Path() string {
	return p.path
}

// Username returns the admin username
func (p *Provider) Username() string {
	return p.username
}

// Password returns the configured password, falling back to the password
// file. It never defaults: a missing password is a MissingCredentialError.
func (p *Provider) Password() (string, error) {
	if p.password != "" {
		return p.password, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &MissingCredentialError{Path: p.path}
		}
		return "", fmt.Errorf("failed to read password file: %w", err)
	}

	password := strings.TrimRight(string(data), "\r\n\t ")
	if password == "" {
		return "", &MissingCredentialError{Path: p.path}
	}
	return password, nil
}

// Resolve returns both halves of the credential pair
func (p *Provider) Resolve() (types.Credentials, error) {
	password, err := p.Password()
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{Username: p.username, Password: password}, nil
}

// Generate writes a random password to the password file unless one is
// already there. The existing or new password is returned.
func (p *Provider) Generate() (string, error) {
	if existing, err := p.Password(); err == nil {
		return existing, nil
	} else if !IsMissing(err) {
		return "", err
	}

	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	password := hex.EncodeToString(bytes)

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return "", fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(password), 0600); err != nil {
		return "", fmt.Errorf("failed to write password file: %w", err)
	}

	logger := log.WithComponent("credentials")
	logger.Info().Str("path", p.path).Msg("Generated admin password")
	return password, nil
}
