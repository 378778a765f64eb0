// Package ollama adapts a local Ollama instance to the router's provider
// contract. It is the local-fallback variant: no credential, generous
// timeout, typically the last priority in the pool.
package ollama

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

// DefaultBaseURL is the stock local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Adapter implements router.Provider for Ollama.
type Adapter struct {
	name         string
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

// WithCostPerToken sets the diagnostic cost figure. Local inference is
// normally free; the default is 0.
func WithCostPerToken(c float64) Option {
	return func(a *Adapter) { a.costPerToken = c }
}

// New creates an Ollama adapter. An empty baseURL falls back to
// DefaultBaseURL. Defaults: model llama3, 4096 max tokens, priority 99
// (last resort), 120s timeout because local generation is slow.
func New(name, baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	a := &Adapter{
		name:      name,
		baseURL:   baseURL,
		model:     "llama3",
		maxTokens: 4096,
		priority:  99,
		client: &http.Client{
			Timeout:   120 * time.Second,
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
	genOpts := map[string]any{
		"num_predict": a.resolveMaxTokens(opts.MaxTokens),
		"temperature": opts.Temperature,
	}
	if len(opts.StopSequences) > 0 {
		genOpts["stop"] = opts.StopSequences
	}
	payload := map[string]any{
		"model":   a.resolveModel(opts.Model),
		"prompt":  prompt,
		"stream":  false,
		"options": genOpts,
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/api/generate", payload, nil)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Response == "" {
		return "", fmt.Errorf("response was empty")
	}
	return parsed.Response, nil
}

// CheckHealth probes the tags listing, which answers without touching a
// model.
func (a *Adapter) CheckHealth(ctx context.Context) (bool, error) {
	if _, err := providers.DoGet(ctx, a.client, a.baseURL+"/api/tags", nil); err != nil {
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
