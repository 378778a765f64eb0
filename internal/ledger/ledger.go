// Package ledger keeps in-memory, concurrent-safe usage accounting keyed by
// (provider, UTC calendar day). State lives for one process lifetime only.
package ledger

import (
	"strings"
	"sync"
	"time"
)

// Limit types accepted in provider limit configuration.
const (
	LimitTypeHour      = "hour"
	LimitTypeDay       = "day"
	LimitTypeMonth     = "month"
	LimitTypeUnlimited = "unlimited"
)

// Limit is the per-provider limit configuration, keyed by lowercased
// provider name. RequestLimit of 0 denies all requests by rate.
type Limit struct {
	RequestLimit     int
	LimitType        string
	CostPerToken     float64
	DailyBudgetLimit float64
}

// Record is a single usage entry. Never published outside the ledger.
type record struct {
	Timestamp time.Time
	Tokens    int
	Cost      float64
}

// DailyUsage is the aggregated view of one provider-day.
type DailyUsage struct {
	Provider     string  `json:"provider"`
	Date         string  `json:"date"`
	RequestCount int     `json:"requestCount"`
	TokensUsed   int     `json:"tokensUsed"`
	TotalCost    float64 `json:"totalCost"`
}

// WeeklyReport covers the last seven UTC days for every provider ever
// recorded, with zero entries for missing days.
type WeeklyReport struct {
	Providers     map[string][]DailyUsage `json:"providers"`
	TotalRequests int                     `json:"totalRequests"`
	TotalCost     float64                 `json:"totalCost"`
}

type key struct {
	provider string
	date     string
}

// Ledger is the process-wide usage map. Records are append-only; days are
// never garbage-collected.
type Ledger struct {
	mu     sync.RWMutex
	usage  map[key][]record
	limits map[string]Limit

	now func() time.Time
}

// New creates a ledger with the given per-provider limits (keys are
// lowercased on insert).
func New(limits map[string]Limit) *Ledger {
	normalized := make(map[string]Limit, len(limits))
	for name, l := range limits {
		normalized[strings.ToLower(name)] = l
	}
	return &Ledger{
		usage:  make(map[key][]record),
		limits: normalized,
		now:    time.Now,
	}
}

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// Record appends a usage record for the provider with the current instant.
// It cannot fail.
func (l *Ledger) Record(provider string, tokens int, cost float64) {
	k := key{provider: strings.ToLower(provider), date: l.today()}
	l.mu.Lock()
	l.usage[k] = append(l.usage[k], record{Timestamp: l.now().UTC(), Tokens: tokens, Cost: cost})
	l.mu.Unlock()
}

// TodayUsage returns the aggregated view for the current UTC date.
// Zero-valued when no records exist.
func (l *Ledger) TodayUsage(provider string) DailyUsage {
	return l.usageOn(provider, l.today())
}

func (l *Ledger) usageOn(provider, date string) DailyUsage {
	name := strings.ToLower(provider)
	u := DailyUsage{Provider: name, Date: date}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.usage[key{provider: name, date: date}] {
		u.RequestCount++
		u.TokensUsed += r.Tokens
		u.TotalCost += r.Cost
	}
	return u
}

// UsageForLimitType resolves the usage view that the provider's limit type
// is measured against. Hour and month limits resolve to the calendar-day
// view; unlimited yields a synthetic zero view that is always below limit.
func (l *Ledger) UsageForLimitType(provider string) DailyUsage {
	name := strings.ToLower(provider)
	l.mu.RLock()
	limit, ok := l.limits[name]
	l.mu.RUnlock()

	if ok && limit.LimitType == LimitTypeUnlimited {
		return DailyUsage{Provider: name, Date: l.today()}
	}
	return l.TodayUsage(provider)
}

// RequestLimit returns the configured request limit for the provider.
// Unconfigured providers get 0, which denies all requests by rate.
func (l *Ledger) RequestLimit(provider string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits[strings.ToLower(provider)].RequestLimit
}

// CostPerToken returns the authoritative cost-per-token from the provider
// limit configuration, or 0 when unconfigured.
func (l *Ledger) CostPerToken(provider string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits[strings.ToLower(provider)].CostPerToken
}

// CheckBudget reports whether spending additionalCost would keep today's
// provider total within its configured daily budget limit. Providers with
// no configured limit are denied (fail-closed).
func (l *Ledger) CheckBudget(provider string, additionalCost float64) bool {
	name := strings.ToLower(provider)
	l.mu.RLock()
	limit, ok := l.limits[name]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return l.TodayUsage(provider).TotalCost+additionalCost <= limit.DailyBudgetLimit
}

// WeeklyReport returns seven days of usage ([today-6 .. today], UTC) for
// every provider that has ever recorded, plus cross-provider totals.
func (l *Ledger) WeeklyReport() WeeklyReport {
	providers := l.knownProviders()

	report := WeeklyReport{Providers: make(map[string][]DailyUsage, len(providers))}
	start := l.now().UTC().AddDate(0, 0, -6)
	for _, name := range providers {
		days := make([]DailyUsage, 0, 7)
		for i := 0; i < 7; i++ {
			date := start.AddDate(0, 0, i).Format("2006-01-02")
			u := l.usageOn(name, date)
			report.TotalRequests += u.RequestCount
			report.TotalCost += u.TotalCost
			days = append(days, u)
		}
		report.Providers[name] = days
	}
	return report
}

func (l *Ledger) knownProviders() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for k := range l.usage {
		if !seen[k.provider] {
			seen[k.provider] = true
			names = append(names, k.provider)
		}
	}
	return names
}
