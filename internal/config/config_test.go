package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contentflow.yaml")
	content := []byte("server:\n  address: \":9090\"\nstorage:\n  driver: sqlite\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Orchestrator.MaxIterations != 10 || cfg.Orchestrator.MaxParallelSteps != 4 {
		t.Fatalf("unexpected orchestrator defaults: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.SemanticTimeoutMS != 3000 || cfg.Orchestrator.ContextBudgetMS != 8000 {
		t.Fatalf("unexpected timeouts: %+v", cfg.Orchestrator)
	}
	if !cfg.Orchestrator.ContinueOnFailure() {
		t.Fatalf("expected continue-on-failure by default")
	}
	if cfg.Server.FlushDelayMS != 150 {
		t.Fatalf("unexpected flush delay: %d", cfg.Server.FlushDelayMS)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "data", "contentflow.db") {
		t.Fatalf("unexpected sqlite dsn: %s", cfg.Storage.DSN)
	}
}

func TestLoadAcceptsJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contentflow.json")
	content := []byte(`{"orchestrator":{"continue_on_step_failure":false,"max_parallel_steps":2},"tools":[{"name":"create_page","required":["title"]}]}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Orchestrator.ContinueOnFailure() {
		t.Fatalf("expected explicit false to be honoured")
	}
	if cfg.Orchestrator.MaxParallelSteps != 2 {
		t.Fatalf("unexpected parallelism: %d", cfg.Orchestrator.MaxParallelSteps)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Required[0] != "title" {
		t.Fatalf("unexpected tools: %+v", cfg.Tools)
	}
}

func TestSecretsResolveFromEnvironment(t *testing.T) {
	t.Setenv("CF_TEST_KEY", "  secret  ")
	cfg := AnthropicConfig{APIKeyEnv: "CF_TEST_KEY"}
	if cfg.Key() != "secret" {
		t.Fatalf("expected env secret, got %q", cfg.Key())
	}
	cfg.APIKey = "inline"
	if cfg.Key() != "inline" {
		t.Fatalf("inline key should win, got %q", cfg.Key())
	}
}

func TestResolvePathPrefersExplicit(t *testing.T) {
	t.Setenv(EnvPath, "/etc/contentflow.yaml")
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolvePath(""); got != "/etc/contentflow.yaml" {
		t.Fatalf("unexpected env path: %s", got)
	}
}
