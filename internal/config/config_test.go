package config

import (
	"strings"
	"testing"

	"shadowfs.io/errors"
)

func TestFromFileEmptyNameReturnsDefault(t *testing.T) {
	cfg, err := FromFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KeyMode != KeyModeStatic {
		t.Errorf("got KeyMode %q, want %q", cfg.KeyMode, KeyModeStatic)
	}
}

func TestParseStatic(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
keyMode: static
staticKey: cGFkcGFkcGFkcGFkcGFkcGFkcGFkcGFkcGFkcGFkcGFk
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StaticKey == "" {
		t.Error("StaticKey should be populated")
	}
}

func TestParseRemote(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
keyMode: remote
keyServiceURL: https://keys.example/fetch
keyID: 9b2e6f1a-9a3e-4c2f-8a4f-2e5d6f7b8c9d
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KeyServiceURL == "" {
		t.Error("KeyServiceURL should be populated")
	}
}

func TestParseUnknownKeyMode(t *testing.T) {
	_, err := Parse(strings.NewReader("keyMode: quantum\n"))
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse(strings.NewReader("keyMode: [this is not valid\n"))
	if !errors.Is(errors.Syntax, err) {
		t.Errorf("expected Syntax, got %v", err)
	}
}
