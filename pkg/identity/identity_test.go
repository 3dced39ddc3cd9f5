package identity

import (
	"context"
	"errors"
	"testing"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("aabbccdd00112233")

	token, err := p.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if token != "aabbccdd00112233" {
		t.Errorf("Identity() = %q, want %q", token, "aabbccdd00112233")
	}
}

func TestStaticProviderEmpty(t *testing.T) {
	p := NewStaticProvider("")

	_, err := p.Identity(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
