package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ashureev/tdd-mentor/internal/metrics"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Defaults    Options
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxAttempts int
	BaseDelay   time.Duration
}

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewOpenAIClient builds a client. An empty API key is rejected.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger, m *metrics.Metrics) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai client: %w", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 300 * time.Millisecond
	}
	cfg.Defaults = cfg.Defaults.WithFallback(DefaultOptions())

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	logger.Info("initializing oracle client", "model", cfg.Defaults.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: m,
	}, nil
}

// Send issues one chat completion. Transient failures (rate limiting,
// server errors, timeouts) are retried with exponential backoff.
func (c *OpenAIClient) Send(ctx context.Context, prompt string, opts Options) (json.RawMessage, error) {
	opts = opts.WithFallback(c.cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	req, err := buildRequest(prompt, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := c.complete(ctx, req, opts.Stage)
	c.metrics.ObserveOracle(opts.Stage, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if opts.Format != FormatJSON {
		return textMessage(content), nil
	}
	repaired, err := RepairJSON(content)
	if err != nil {
		// Shape problems belong to the caller; hand back the text.
		c.logger.Warn("oracle returned unparseable json", "stage", opts.Stage, "error", err)
		return textMessage(content), nil
	}
	return json.RawMessage(repaired), nil
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest, stage string) (string, error) {
	var lastErr error
	for attempt := range c.cfg.MaxAttempts {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("oracle rate limiter: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				c.logger.Warn("oracle returned no choices", "stage", stage)
				return "", nil
			}
			c.logger.Debug("oracle response received", "stage", stage, "finish_reason", resp.Choices[0].FinishReason)
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		delay := c.cfg.BaseDelay * time.Duration(1<<attempt)
		c.logger.Warn("oracle request failed, retrying", "stage", stage, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("oracle request: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("oracle request: %w", lastErr)
}

func buildRequest(prompt string, opts Options) (openai.ChatCompletionRequest, error) {
	user := prompt
	if len(opts.ExtraContext) > 0 {
		raw, err := json.MarshalIndent(opts.ExtraContext, "", "  ")
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("marshal oracle context: %w", err)
		}
		user += "\n\n[CONTEXT JSON]\n" + string(raw)
	}

	var messages []openai.ChatCompletionMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
	}
	// The temperature field is omitempty; a tiny non-zero value keeps 0 on the wire.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	// Reasoning models only accept max_completion_tokens; most compatible
	// servers only read max_tokens.
	if isReasoningModel(opts.Model) {
		req.MaxCompletionTokens = int(opts.MaxTokens)
	} else {
		req.MaxTokens = int(opts.MaxTokens)
	}
	if opts.Format == FormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req, nil
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
