package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
		"SERVER_PORT", "SERVER_CONCURRENCY_LIMIT",
		"FORGE_HOST", "FORGE_ACCESS_TOKEN", "FORGE_WEBHOOK_SECRET",
		"LLM_ENDPOINT", "LLM_KEY", "LLM_DEPLOYMENT", "LLM_MODEL_NAME", "LLM_API_VERSION",
		"QUEUE_HOST", "QUEUE_PORT", "QUEUE_TLS", "DATABASE_URL",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ConcurrencyLimit != 10 {
		t.Errorf("expected concurrency limit 10, got %d", cfg.Server.ConcurrencyLimit)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected write timeout 30s, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.MaxBodySize != 2*1024*1024 {
		t.Errorf("expected max body size 2MB, got %d", cfg.Server.MaxBodySize)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("expected default model gpt-4o, got %s", cfg.LLM.Model)
	}
	if cfg.DatabaseURL != "reviewbot.db" {
		t.Errorf("expected default database url, got %s", cfg.DatabaseURL)
	}
	if cfg.IsLLMEnabled() {
		t.Error("expected LLM disabled when LLM_KEY is unset")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("FORGE_HOST", "https://gitlab.example.com")
	os.Setenv("FORGE_ACCESS_TOKEN", "tok")
	os.Setenv("FORGE_WEBHOOK_SECRET", "sekret")
	os.Setenv("LLM_KEY", "sk-test")
	os.Setenv("SERVER_PORT", "1234")
	defer clearEnv(t)

	cfg := LoadConfig()

	if cfg.Forge.Host != "https://gitlab.example.com" {
		t.Errorf("expected forge host from env, got %s", cfg.Forge.Host)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("expected port 1234, got %d", cfg.Server.Port)
	}
	if !cfg.IsLLMEnabled() {
		t.Error("expected LLM enabled when LLM_KEY is set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	cfg := LoadConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when forge settings are missing")
	}
}
