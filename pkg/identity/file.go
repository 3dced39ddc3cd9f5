package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// secretFile is the name of the device secret under the state dir.
	secretFile = "identity.secret"

	// SecretSize is the size of the on-disk device secret in bytes.
	SecretSize = 32

	// TokenSize is the derived token size in bytes. The token is
	// rendered as lowercase hex, so the string form is twice this.
	TokenSize = 8
)

// hkdfInfo fixes the derivation context. Changing it changes every
// derived token, so it is part of the on-disk format.
var hkdfInfo = []byte("session-identity-v1")

// FileProvider derives the identity token from a random device secret
// persisted under a state directory.
//
// The secret is created on first use (0600) and never leaves the
// machine; only the HKDF-derived token does. Using the app scope as the
// HKDF salt means the same secret yields unrelated tokens for different
// scopes.
type FileProvider struct {
	mu    sync.Mutex
	dir   string
	scope string
	token string
}

// NewFileProvider creates a provider storing its secret under dir,
// deriving tokens for the given app scope.
func NewFileProvider(dir, scope string) *FileProvider {
	return &FileProvider{dir: dir, scope: scope}
}

// SecretPath returns the path of the device secret file.
func (p *FileProvider) SecretPath() string {
	return filepath.Join(p.dir, secretFile)
}

// Identity returns the derived token, creating the device secret on
// first use.
func (p *FileProvider) Identity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}

	secret, err := p.loadOrCreateSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, err := deriveToken(secret, p.scope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.token = token
	return token, nil
}

func (p *FileProvider) loadOrCreateSecret() ([]byte, error) {
	path := p.SecretPath()

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SecretSize {
			return nil, fmt.Errorf("secret file %s has %d bytes, want %d", path, len(data), SecretSize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, err
	}

	return secret, nil
}

// deriveToken derives the hex token from the secret, salted with the
// app scope.
func deriveToken(secret []byte, scope string) (string, error) {
	hkdfReader := hkdf.New(sha256.New, secret, []byte(scope), hkdfInfo)

	tokenBytes := make([]byte, TokenSize)
	if _, err := io.ReadFull(hkdfReader, tokenBytes); err != nil {
		return "", err
	}

	return hex.EncodeToString(tokenBytes), nil
}

var _ Provider = (*FileProvider)(nil)
