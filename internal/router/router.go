// Package router selects among priority-ordered text-generation providers,
// gates each candidate on health, rate, and cost, fails over sequentially,
// and accounts every attempt in the ledger and the journal.
package router

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/promptgate/promptgate/internal/events"
	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/tracing"
)

// ErrExhaustedMessage is the terminal error when no provider produced a
// response.
const ErrExhaustedMessage = "All AI providers exhausted or unavailable"

// Router is immutable after construction; concurrent Route calls are
// independent and serialize only on the journal store.
type Router struct {
	providers []Provider
	ledger    *ledger.Ledger
	store     *journal.Store
	cfg       Config

	log     *slog.Logger
	metrics *metrics.Registry
	bus     *events.Bus
	now     func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBus attaches an event bus for routing events.
func WithBus(b *events.Bus) Option {
	return func(r *Router) { r.bus = b }
}

// New builds a router over the given providers, sorted ascending by
// priority (stable, so insertion order breaks ties).
func New(providers []Provider, lg *ledger.Ledger, store *journal.Store, cfg Config, opts ...Option) *Router {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	r := &Router{
		providers: sorted,
		ledger:    lg,
		store:     store,
		cfg:       cfg,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Providers returns the priority-ordered provider list.
func (r *Router) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Route tries each viable provider in priority order until one produces
// content. It never returns an error: the outcome, success or exhaustion,
// is always a terminal Response.
func (r *Router) Route(ctx context.Context, prompt string, opts GenerateOptions) Response {
	start := r.now().UTC()
	result := &RoutingResult{}

	for _, p := range r.providers {
		reason, ok := r.viable(ctx, p, prompt)
		if !ok {
			r.log.Debug("provider not viable, skipping",
				"provider", p.Name(), "reason", reason)
			r.publish(events.Event{
				Type:     events.EventProviderSkipped,
				Provider: p.Name(),
				Reason:   reason,
			})
			continue
		}

		attempt := r.attempt(ctx, p, prompt, opts)
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Success {
			r.persist(result)
			dur := r.now().UTC().Sub(start)
			if r.metrics != nil {
				r.metrics.RequestLatency.WithLabelValues(p.Name()).Observe(float64(dur.Milliseconds()))
			}
			return Response{
				Success:  true,
				Content:  attempt.Content,
				Provider: attempt.Provider,
				Cost:     attempt.Cost,
				Duration: dur,
			}
		}
	}

	r.persist(result)
	r.publish(events.Event{Type: events.EventRouteExhausted, ErrorMsg: ErrExhaustedMessage})
	return Response{
		Success:            false,
		Error:              ErrExhaustedMessage,
		FailedProviders:    result.FailedProviders(),
		TotalAttemptedCost: result.TotalCost(),
		Duration:           r.now().UTC().Sub(start),
	}
}

// viable evaluates the health, rate, and cost gates for one candidate.
// Any error along the way disqualifies the provider (fail-closed); the
// returned reason feeds the skip log and event.
func (r *Router) viable(ctx context.Context, p Provider, prompt string) (string, bool) {
	healthy, err := p.CheckHealth(ctx)
	if err != nil {
		r.setHealthGauge(p.Name(), false)
		return "health probe failed: " + err.Error(), false
	}
	r.setHealthGauge(p.Name(), healthy)
	if !healthy {
		return "unhealthy", false
	}

	if r.cfg.EnableRateLimiting {
		usage := r.ledger.UsageForLimitType(p.Name())
		// Unconfigured providers have a request limit of 0: denied.
		if usage.RequestCount >= r.ledger.RequestLimit(p.Name()) {
			return "request limit reached", false
		}
	}

	if r.cfg.EnableCostTracking {
		projected := r.ledger.TodayUsage(p.Name()).TotalCost +
			EstimateCost(prompt, r.ledger.CostPerToken(p.Name()))
		if projected > r.cfg.DailyBudget {
			return "daily budget exceeded", false
		}
	}

	return "", true
}

// attempt invokes one provider and translates the outcome into an Attempt
// with its journal entry. Generation errors are captured, never propagated.
func (r *Router) attempt(ctx context.Context, p Provider, prompt string, opts GenerateOptions) Attempt {
	r.log.Info("routing request to provider", "provider", p.Name())
	began := r.now().UTC()

	ctx, span := tracing.StartAttempt(ctx, p.Name(), opts.Model)
	defer span.End()

	content, err := p.Generate(ctx, prompt, opts)
	durMs := r.now().UTC().Sub(began).Milliseconds()

	entry := journal.NewEntry()
	entry.Prompt = prompt
	entry.MaxTokens = opts.MaxTokens
	entry.Temperature = opts.Temperature
	entry.Model = opts.Model
	entry.Provider = p.Name()
	entry.DurationMs = durMs

	if err != nil {
		r.log.Error("provider failed", "provider", p.Name(), "error", err)
		tracing.RecordAttempt(span, err, 0)
		entry.Error = err.Error()
		if r.metrics != nil {
			r.metrics.AttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
		}
		r.publish(events.Event{
			Type:       events.EventAttemptError,
			Provider:   p.Name(),
			ErrorMsg:   err.Error(),
			DurationMs: float64(durMs),
		})
		return Attempt{Provider: p.Name(), ErrorMsg: err.Error(), Entry: entry}
	}

	cpt := r.ledger.CostPerToken(p.Name())
	tokens := EstimateTokens(prompt + content)
	cost := float64(tokens) * cpt / 1000
	r.ledger.Record(p.Name(), tokens, cost)
	tracing.RecordAttempt(span, nil, cost)

	entry.Success = true
	entry.Content = content
	entry.Cost = cost
	if r.metrics != nil {
		r.metrics.AttemptsTotal.WithLabelValues(p.Name(), "success").Inc()
		r.metrics.CostUSD.WithLabelValues(p.Name()).Add(cost)
	}
	r.publish(events.Event{
		Type:       events.EventAttemptSuccess,
		Provider:   p.Name(),
		CostUSD:    cost,
		DurationMs: float64(durMs),
	})
	return Attempt{Success: true, Provider: p.Name(), Content: content, Cost: cost, Entry: entry}
}

// persist appends the attempts of one route call to the journal document.
// The read-modify-write runs under a single store lock so concurrent route
// calls never drop each other's entries. Journal failures are logged and
// swallowed; routing never fails on them.
func (r *Router) persist(result *RoutingResult) {
	if !r.store.Enabled() || len(result.Attempts) == 0 {
		return
	}
	err := journal.Update(r.store, func(doc *journal.Document) {
		for _, a := range result.Attempts {
			doc.Append(a.Entry)
		}
	})
	if err != nil {
		r.log.Warn("journal update failed", "error", err)
	}
}

// ProviderStatus reports the health and usage of every provider in priority
// order. Probe errors yield an unhealthy row with zero counters; the report
// never aborts.
func (r *Router) ProviderStatus(ctx context.Context) []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		healthy, err := p.CheckHealth(ctx)
		if err != nil {
			r.log.Warn("status probe failed", "provider", p.Name(), "error", err)
			r.setHealthGauge(p.Name(), false)
			statuses = append(statuses, ProviderStatus{Name: p.Name()})
			continue
		}
		r.setHealthGauge(p.Name(), healthy)

		// Real counters come from the day view; only the remaining-request
		// math uses the limit-type view, so an unlimited provider still
		// reports its actual spend.
		usage := r.ledger.TodayUsage(p.Name())
		limitView := r.ledger.UsageForLimitType(p.Name())
		remaining := r.ledger.RequestLimit(p.Name()) - limitView.RequestCount
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, ProviderStatus{
			Name:              p.Name(),
			IsHealthy:         healthy,
			RequestsToday:     usage.RequestCount,
			CostToday:         usage.TotalCost,
			RemainingRequests: remaining,
		})
	}
	return statuses
}

// TodaySpend sums today's recorded cost across all providers.
func (r *Router) TodaySpend() float64 {
	var total float64
	for _, p := range r.providers {
		total += r.ledger.TodayUsage(p.Name()).TotalCost
	}
	return total
}

func (r *Router) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func (r *Router) setHealthGauge(provider string, healthy bool) {
	if r.metrics == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.metrics.ProviderHealthy.WithLabelValues(provider).Set(v)
}
