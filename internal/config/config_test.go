package config

import "testing"

func TestLoadHTTPAddrDefault(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")

	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default listen address :8080, got %q", cfg.HTTPAddr)
	}
}

func TestLoadHTTPAddrFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9090")

	cfg := Load()
	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("expected listen address from env, got %q", cfg.HTTPAddr)
	}
}
