// Package openai adapts the OpenAI chat-completions protocol to the
// router's provider contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/promptgate/promptgate/internal/providers"
	"github.com/promptgate/promptgate/internal/router"
	"github.com/promptgate/promptgate/internal/tracing"
)

// Adapter implements router.Provider for OpenAI.
type Adapter struct {
	name         string
	apiKey       string
	baseURL      string
	model        string
	maxTokens    int
	priority     int
	costPerToken float64
	client       *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithModel sets the default model used when the request carries no hint.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithMaxTokens caps the tokens requested from the backend.
func WithMaxTokens(n int) Option {
	return func(a *Adapter) { a.maxTokens = n }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithPriority sets the routing priority (lower wins).
func WithPriority(p int) Option {
	return func(a *Adapter) { a.priority = p }
}

// WithCostPerToken sets the diagnostic cost figure.
func WithCostPerToken(c float64) Option {
	return func(a *Adapter) { a.costPerToken = c }
}

// New creates an OpenAI adapter. Defaults: model gpt-4o-mini, 4096 max
// tokens, priority 1, 30s timeout.
func New(name, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		name:      name,
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     "gpt-4o-mini",
		maxTokens: 4096,
		priority:  1,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: tracing.HTTPTransport(nil),
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string          { return a.name }
func (a *Adapter) Priority() int         { return a.priority }
func (a *Adapter) CostPerToken() float64 { return a.costPerToken }

func (a *Adapter) Generate(ctx context.Context, prompt string, opts router.GenerateOptions) (string, error) {
	payload := map[string]any{
		"model": a.resolveModel(opts.Model),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  a.resolveMaxTokens(opts.MaxTokens),
		"temperature": opts.Temperature,
	}
	if len(opts.StopSequences) > 0 {
		payload["stop"] = opts.StopSequences
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, a.authHeaders())
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// CheckHealth probes the models listing. Any transport or status error
// reports the backend unhealthy.
func (a *Adapter) CheckHealth(ctx context.Context) (bool, error) {
	if _, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", a.authHeaders()); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) resolveModel(hint string) string {
	if hint != "" && hint != "default" {
		return hint
	}
	return a.model
}

func (a *Adapter) resolveMaxTokens(requested int) int {
	if requested > 0 && requested <= a.maxTokens {
		return requested
	}
	return a.maxTokens
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}
}
