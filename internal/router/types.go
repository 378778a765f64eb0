package router

import (
	"context"
	"time"

	"github.com/promptgate/promptgate/internal/journal"
)

// Provider is the capability set the router requires of a backend adapter.
// Adapters only speak their backend's protocol; they never consult the
// ledger, the journal, or any budget.
type Provider interface {
	// Name identifies the provider; limit configuration is keyed by its
	// lowercased form.
	Name() string
	// Priority orders providers, lower first.
	Priority() int
	// CostPerToken is the adapter's own notion of cost, for diagnostics.
	// The authoritative figure lives in the limit configuration.
	CostPerToken() float64

	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	CheckHealth(ctx context.Context) (bool, error)
}

// GenerateOptions is the generation request minus the prompt.
type GenerateOptions struct {
	MaxTokens     int
	Temperature   float64
	Model         string
	StopSequences []string
}

// Attempt is the outcome of invoking one provider during a route call.
type Attempt struct {
	Success  bool
	Provider string
	Content  string
	ErrorMsg string
	Cost     float64
	Entry    journal.Entry
}

// RoutingResult accumulates the attempts of a single route call. The last
// attempt is the terminal one; a successful attempt is always last.
type RoutingResult struct {
	Attempts []Attempt
}

// TotalCost sums the estimated cost over all attempts.
func (r *RoutingResult) TotalCost() float64 {
	var total float64
	for _, a := range r.Attempts {
		total += a.Cost
	}
	return total
}

// FailedProviders lists the provider of every unsuccessful attempt, in
// attempt order.
func (r *RoutingResult) FailedProviders() []string {
	failed := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		if !a.Success {
			failed = append(failed, a.Provider)
		}
	}
	return failed
}

// Response is the terminal outcome of a route call. Success selects which
// field set is meaningful: {Content, Provider, Cost} on success,
// {Error, FailedProviders, TotalAttemptedCost} on failure. Duration is
// always set.
type Response struct {
	Success bool

	Content  string
	Provider string
	Cost     float64

	Error              string
	FailedProviders    []string
	TotalAttemptedCost float64

	Duration time.Duration
}

// ProviderStatus is one row of the status report.
type ProviderStatus struct {
	Name              string  `json:"name"`
	IsHealthy         bool    `json:"isHealthy"`
	RequestsToday     int     `json:"requestsToday"`
	CostToday         float64 `json:"costToday"`
	RemainingRequests int     `json:"remainingRequests"`
}

// Config is the routing configuration. ProviderLimits live in the ledger.
type Config struct {
	DailyBudget         float64
	MaxRetries          int
	HealthCheckInterval time.Duration
	EnableCostTracking  bool
	EnableRateLimiting  bool
}
