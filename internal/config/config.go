// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Oracle providers.
const (
	ProviderOpenAI = "openai"
	ProviderFake   = "fake"
)

// Test runners.
const (
	RunnerShell  = "shell"
	RunnerDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	GRPCPort         string
	FrontendURL      string
	DBPath           string
	WorkspaceDir     string
	SessionKey       string
	SessionRetention time.Duration
	PersistTimeout   time.Duration
	PromptsFile      string
	StaticDir        string
	Oracle           OracleConfig
	Tests            TestConfig
	Commit           CommitConfig
	ConversationLog  ConversationLogConfig
}

// OracleConfig selects and tunes the generation backend.
type OracleConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxAttempts int
}

// TestConfig controls how the workspace test suite is run.
type TestConfig struct {
	Command     string
	Runner      string
	Image       string
	Runtime     string // Docker runtime: "" = default (runc), "runsc" = gVisor
	Timeout     time.Duration
	OutputLimit int
	DefaultFile string
}

// CommitConfig signs commits made when a cycle completes.
type CommitConfig struct {
	AuthorName  string
	AuthorEmail string
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	apiKey := getEnv("OPENAI_API_KEY", "")
	provider := ProviderFake
	if apiKey != "" {
		provider = ProviderOpenAI
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GRPCPort:         getEnv("GRPC_PORT", "9090"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/tdd-mentor.db"),
		WorkspaceDir:     getEnv("WORKSPACE_DIR", "."),
		SessionKey:       getEnv("SESSION_KEY", "tddMentorAIState"),
		SessionRetention: getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
		PersistTimeout:   getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
		PromptsFile:      getEnv("PROMPTS_FILE", ""),
		StaticDir:        getEnv("STATIC_DIR", ""),
		Oracle: OracleConfig{
			Provider:    strings.ToLower(getEnv("ORACLE_PROVIDER", provider)),
			APIKey:      apiKey,
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("ORACLE_MODEL", "gpt-3.5-turbo"),
			MaxTokens:   getEnvInt("ORACLE_MAX_TOKENS", 2000),
			Temperature: getEnvFloat("ORACLE_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("ORACLE_TIMEOUT", 60*time.Second),
			RPS:         getEnvFloat("ORACLE_RPS", 2),
			Burst:       getEnvInt("ORACLE_BURST", 4),
			MaxAttempts: getEnvInt("ORACLE_MAX_ATTEMPTS", 3),
		},
		Tests: TestConfig{
			Command:     getEnv("TEST_COMMAND", "npm test"),
			Runner:      strings.ToLower(getEnv("TEST_RUNNER", RunnerShell)),
			Image:       getEnv("TEST_IMAGE", "node:20-alpine"),
			Runtime:     getEnv("CONTAINER_RUNTIME", ""),
			Timeout:     getEnvDuration("TEST_TIMEOUT", 2*time.Minute),
			OutputLimit: getEnvInt("TEST_OUTPUT_LIMIT", 64*1024),
			DefaultFile: getEnv("DEFAULT_TEST_FILE", "tdd.test.js"),
		},
		Commit: CommitConfig{
			AuthorName:  getEnv("COMMIT_AUTHOR_NAME", "TDD Mentor"),
			AuthorEmail: getEnv("COMMIT_AUTHOR_EMAIL", "tdd-mentor@localhost"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.WorkspaceDir == "" {
		errs = append(errs, errors.New("WORKSPACE_DIR cannot be empty"))
	}
	if c.SessionKey == "" {
		errs = append(errs, errors.New("SESSION_KEY cannot be empty"))
	}
	if c.SessionRetention <= 0 {
		errs = append(errs, errors.New("SESSION_RETENTION must be > 0"))
	}
	switch c.Oracle.Provider {
	case ProviderFake:
	case ProviderOpenAI:
		if c.Oracle.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("ORACLE_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderFake, c.Oracle.Provider))
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 1 {
		errs = append(errs, errors.New("ORACLE_TEMPERATURE must be between 0 and 1"))
	}
	if c.Oracle.MaxTokens <= 0 {
		errs = append(errs, errors.New("ORACLE_MAX_TOKENS must be > 0"))
	}
	switch c.Tests.Runner {
	case RunnerShell:
	case RunnerDocker:
		if c.Tests.Image == "" {
			errs = append(errs, errors.New("TEST_IMAGE is required for the docker runner"))
		}
	default:
		errs = append(errs, fmt.Errorf("TEST_RUNNER must be %q or %q, got %q", RunnerShell, RunnerDocker, c.Tests.Runner))
	}
	if c.Tests.Command == "" {
		errs = append(errs, errors.New("TEST_COMMAND cannot be empty"))
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_DIR cannot be empty"))
	}
	if c.ConversationLog.QueueSize <= 0 {
		errs = append(errs, errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
