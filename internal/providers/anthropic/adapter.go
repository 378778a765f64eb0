// Package anthropic adapts the Anthropic messages protocol to the router's
// provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/providers"
	"github.com/promptgate/promptgate/internal/router"
	"github.com/promptgate/promptgate/internal/tracing"
)

const apiVersion = "2023-06-01"

// Adapter implements router.Provider for Anthropic.
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

// New creates an Anthropic adapter. Defaults: model claude-3-5-haiku-latest,
// 4096 max tokens, priority 2, 30s timeout.
func New(name, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		name:      name,
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     "claude-3-5-haiku-latest",
		maxTokens: 4096,
		priority:  2,
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
	// max_tokens is mandatory for this backend.
	payload := map[string]any{
		"model":      a.resolveModel(opts.Model),
		"max_tokens": a.resolveMaxTokens(opts.MaxTokens),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": opts.Temperature,
	}
	if len(opts.StopSequences) > 0 {
		payload["stop_sequences"] = opts.StopSequences
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return "", err
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("response contained no text blocks")
	}
	return sb.String(), nil
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
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}
