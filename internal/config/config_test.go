package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "GRPC_PORT", "FRONTEND_URL", "DB_PATH", "WORKSPACE_DIR", "SESSION_KEY",
		"SESSION_RETENTION", "PERSIST_TIMEOUT", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ORACLE_PROVIDER", "ORACLE_MODEL", "ORACLE_MAX_TOKENS", "ORACLE_TEMPERATURE",
		"ORACLE_TIMEOUT", "ORACLE_RPS", "ORACLE_BURST", "ORACLE_MAX_ATTEMPTS", "PROMPTS_FILE",
		"TEST_COMMAND", "TEST_RUNNER", "TEST_IMAGE", "TEST_TIMEOUT", "TEST_OUTPUT_LIMIT",
		"DEFAULT_TEST_FILE", "CONTAINER_RUNTIME", "COMMIT_AUTHOR_NAME", "COMMIT_AUTHOR_EMAIL",
		"CONVERSATION_LOG_ENABLED", "CONVERSATION_LOG_DIR", "CONVERSATION_LOG_QUEUE_SIZE",
	} {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SessionKey != "tddMentorAIState" {
		t.Errorf("SessionKey = %q", cfg.SessionKey)
	}
	if cfg.Oracle.Provider != ProviderFake {
		t.Errorf("Oracle.Provider = %q, want fake without an API key", cfg.Oracle.Provider)
	}
	if cfg.Oracle.Model != "gpt-3.5-turbo" || cfg.Oracle.MaxTokens != 2000 || cfg.Oracle.Temperature != 0.7 {
		t.Errorf("unexpected oracle defaults: %+v", cfg.Oracle)
	}
	if cfg.Tests.Runner != RunnerShell || cfg.Tests.Command != "npm test" {
		t.Errorf("unexpected test defaults: %+v", cfg.Tests)
	}
	if cfg.SessionRetention != 30*24*time.Hour {
		t.Errorf("SessionRetention = %v", cfg.SessionRetention)
	}
	if !cfg.ConversationLog.Enabled || cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("unexpected conversation log defaults: %+v", cfg.ConversationLog)
	}
	if !cfg.IsDevelopment() {
		t.Error("empty FRONTEND_URL should be development")
	}
}

func TestLoadAPIKeySelectsOpenAI(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ORACLE_TEMPERATURE", "0.2")
	t.Setenv("ORACLE_TIMEOUT", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Oracle.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want openai", cfg.Oracle.Provider)
	}
	if cfg.Oracle.Temperature != 0.2 {
		t.Errorf("Temperature = %v", cfg.Oracle.Temperature)
	}
	if cfg.Oracle.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v", cfg.Oracle.Timeout)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORACLE_MAX_TOKENS", "lots")
	t.Setenv("TEST_TIMEOUT", "soon")
	t.Setenv("CONVERSATION_LOG_QUEUE_SIZE", "-5")
	t.Setenv("CONVERSATION_LOG_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Oracle.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %d", cfg.Oracle.MaxTokens)
	}
	if cfg.Tests.Timeout != 2*time.Minute {
		t.Errorf("Tests.Timeout = %v", cfg.Tests.Timeout)
	}
	if cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("QueueSize = %d", cfg.ConversationLog.QueueSize)
	}
	if !cfg.ConversationLog.Enabled {
		t.Error("unparseable bool should keep the default")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"openai without key", func(c *Config) { c.Oracle.Provider = ProviderOpenAI }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "llama" }, "ORACLE_PROVIDER"},
		{"temperature", func(c *Config) { c.Oracle.Temperature = 1.5 }, "ORACLE_TEMPERATURE"},
		{"unknown runner", func(c *Config) { c.Tests.Runner = "podman" }, "TEST_RUNNER"},
		{"docker without image", func(c *Config) { c.Tests.Runner = RunnerDocker; c.Tests.Image = "" }, "TEST_IMAGE"},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty session key", func(c *Config) { c.SessionKey = "" }, "SESSION_KEY"},
	}
	clearEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	if (&Config{FrontendURL: "https://mentor.example.com"}).IsDevelopment() {
		t.Error("public URL should not be development")
	}
	if !(&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment() {
		t.Error("localhost should be development")
	}
}
