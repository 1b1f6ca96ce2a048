// Package oracle is the boundary to the text-generation backend.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Default generation parameters.
const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

// ErrNotConfigured is returned when the backend has no credentials.
var ErrNotConfigured = errors.New("oracle not configured")

// Format is the response format requested from the backend.
type Format string

// Response formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options are the recognised generation parameters.
type Options struct {
	Model        string         `json:"model,omitempty" koanf:"model"`
	MaxTokens    uint           `json:"maxTokens,omitempty" koanf:"max_tokens" validate:"lte=128000"`
	Temperature  float64        `json:"temperature" koanf:"temperature" validate:"gte=0,lte=1"`
	SystemPrompt string         `json:"systemPrompt,omitempty" koanf:"system_prompt"`
	ExtraContext map[string]any `json:"extraContext,omitempty" koanf:"-"`
	Format       Format         `json:"format,omitempty" koanf:"format" validate:"omitempty,oneof=text json"`
	// Stage labels the request in logs and metrics.
	Stage string `json:"stage,omitempty" koanf:"-"`
}

// DefaultOptions returns the stock generation parameters.
func DefaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Format:      FormatText,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks o against the recognised ranges.
func (o Options) Validate() error {
	if err := validatorInstance().Struct(o); err != nil {
		return fmt.Errorf("invalid oracle options: %w", err)
	}
	return nil
}

// WithFallback fills unset model, token and format fields from d.
func (o Options) WithFallback(d Options) Options {
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.Format == "" {
		o.Format = d.Format
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = d.SystemPrompt
	}
	return o
}

// Oracle sends a prompt to the generation backend. Implementations return
// an error on transport or authentication failure only. The returned JSON
// is either the decoded model output (FormatJSON) or a JSON string holding
// the raw text; its shape is the caller's concern.
type Oracle interface {
	Send(ctx context.Context, prompt string, opts Options) (json.RawMessage, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string, opts Options) (json.RawMessage, error)

// Send calls f.
func (f Func) Send(ctx context.Context, prompt string, opts Options) (json.RawMessage, error) {
	return f(ctx, prompt, opts)
}

// ValidateItem validates a generated item's struct tags.
func ValidateItem(v any) error {
	return validatorInstance().Struct(v)
}
