package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orchestrator.yaml", "server:\n  port: 8081\n")

	l := NewLoader(dir, slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := l.Config()
	if cfg.Server.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxRetries != 1 {
		t.Errorf("expected default max_retries 1, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Consent.RequiredType != "FUNCTIONAL" {
		t.Errorf("expected FUNCTIONAL consent, got %s", cfg.Consent.RequiredType)
	}
	if got := l.Routing().DefaultWorker; got != "general" {
		t.Errorf("expected built-in routing with default worker general, got %q", got)
	}
}

func TestLoader_RoutingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orchestrator.yaml", "orchestrator:\n  worker_timeout: 5s\n")
	writeFile(t, dir, "routing.yaml", `
default_worker: general
priority: [order, general]
keywords:
  order:
    rendelés: 3
`)

	l := NewLoader(dir, slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := l.Config().Orchestrator.WorkerTimeout; got != 5*time.Second {
		t.Errorf("expected worker timeout 5s, got %v", got)
	}
	r := l.Routing()
	if r.Keywords["order"]["rendelés"] != 3 {
		t.Errorf("expected rendelés weight 3, got %d", r.Keywords["order"]["rendelés"])
	}
	if _, ok := r.Keywords["product"]; ok {
		t.Error("routing file should replace the built-in table")
	}
}

func TestLoader_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orchestrator.yaml", "consent:\n  backend: carrier-pigeon\n")

	l := NewLoader(dir, slog.Default())
	if err := l.Load(); err == nil {
		t.Fatal("expected validation error for unknown consent backend")
	}
	if l.Config() != nil {
		t.Error("invalid config must not replace the current one")
	}
}

func TestValidate_Workers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers.Definitions = map[string]WorkerDefinition{
		"product": {Kind: "remote"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for remote worker without endpoint")
	}

	cfg.Workers.Definitions["product"] = WorkerDefinition{Kind: "remote", Endpoint: "http://product:8080"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoader_ShippedConfigs(t *testing.T) {
	l := NewLoader(filepath.Join("..", "..", "configs"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("shipped configs failed to load: %v", err)
	}
	cfg := l.Config()
	if cfg.Workers.Definitions["general"].Kind != "static" {
		t.Errorf("expected static general worker, got %+v", cfg.Workers.Definitions["general"])
	}
	routing := l.Routing()
	if routing.DefaultWorker != "general" {
		t.Errorf("expected default worker general, got %q", routing.DefaultWorker)
	}
	for _, worker := range routing.Priority {
		if _, ok := cfg.Workers.Definitions[worker]; !ok {
			t.Errorf("routing names %q but no worker definition exists", worker)
		}
	}
	if routing.Keywords["product"]["termék"] != 2 {
		t.Errorf("expected accented keyword to survive parsing, got %v", routing.Keywords["product"])
	}
}
