package identity

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
)

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestFileProviderCreatesSecret(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir, "scooked")

	token, err := p.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	if !tokenPattern.MatchString(token) {
		t.Errorf("token %q does not match %s", token, tokenPattern)
	}

	info, err := os.Stat(p.SecretPath())
	if err != nil {
		t.Fatalf("secret file not created: %v", err)
	}
	if info.Size() != SecretSize {
		t.Errorf("secret size = %d, want %d", info.Size(), SecretSize)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secret permissions = %o, want 0600", perm)
	}
}

func TestFileProviderStableAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileProvider(dir, "scooked").Identity(context.Background())
	if err != nil {
		t.Fatalf("first Identity() error = %v", err)
	}

	// A fresh provider over the same dir must derive the same token.
	second, err := NewFileProvider(dir, "scooked").Identity(context.Background())
	if err != nil {
		t.Fatalf("second Identity() error = %v", err)
	}

	if first != second {
		t.Errorf("token changed across instances: %q vs %q", first, second)
	}
}

func TestFileProviderScopeChangesToken(t *testing.T) {
	dir := t.TempDir()

	a, err := NewFileProvider(dir, "scooked").Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	b, err := NewFileProvider(dir, "other-app").Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	if a == b {
		t.Errorf("same token %q for different scopes", a)
	}
}

func TestFileProviderDistinctSecretsDistinctTokens(t *testing.T) {
	a, err := NewFileProvider(t.TempDir(), "scooked").Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	b, err := NewFileProvider(t.TempDir(), "scooked").Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	if a == b {
		t.Errorf("two installations derived the same token %q", a)
	}
}

func TestFileProviderCachesToken(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir, "scooked")

	first, err := p.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	// Removing the secret must not matter once the token is cached.
	if err := os.Remove(p.SecretPath()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	second, err := p.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() after remove error = %v", err)
	}
	if first != second {
		t.Errorf("cached token changed: %q vs %q", first, second)
	}
}

func TestFileProviderMalformedSecret(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir, "scooked")

	if err := os.WriteFile(p.SecretPath(), []byte("too short"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := p.Identity(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for malformed secret, got %v", err)
	}
}

func TestFileProviderContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileProvider(t.TempDir(), "scooked").Identity(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
