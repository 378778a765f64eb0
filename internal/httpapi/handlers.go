package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/providers"
	"github.com/promptgate/promptgate/internal/router"
)

type generateRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     *int     `json:"maxTokens"`
	Temperature   *float64 `json:"temperature"`
	Model         string   `json:"model"`
	StopSequences []string `json:"stopSequences"`
}

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultModel       = "default"
)

func (req *generateRequest) options() router.GenerateOptions {
	opts := router.GenerateOptions{
		MaxTokens:     defaultMaxTokens,
		Temperature:   defaultTemperature,
		Model:         defaultModel,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.Model != "" {
		opts.Model = req.Model
	}
	return opts
}

// GenerateHandler validates the request, routes it, records the outcome in
// the history document, and shapes the terminal response onto the wire.
func GenerateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			jsonError(w, "prompt is required", http.StatusBadRequest)
			return
		}

		opts := req.options()
		// Carry the inbound request ID down to the backend adapters.
		ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		resp := d.Router.Route(ctx, req.Prompt, opts)
		appendHistory(d, req.Prompt, opts, resp)

		if resp.Success {
			d.Log.Info("generation succeeded",
				"provider", resp.Provider,
				"durationMs", resp.Duration.Milliseconds())
			writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"content":  resp.Content,
				"provider": resp.Provider,
				"cost":     resp.Cost,
				"duration": resp.Duration.Milliseconds(),
			})
			return
		}

		d.Log.Warn("generation failed",
			"failedProviders", resp.FailedProviders,
			"durationMs", resp.Duration.Milliseconds())
		failed := resp.FailedProviders
		if failed == nil {
			failed = []string{}
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":            false,
			"error":              resp.Error,
			"failedProviders":    failed,
			"totalAttemptedCost": resp.TotalAttemptedCost,
			"duration":           resp.Duration.Milliseconds(),
		})
	}
}

// StatusHandler reports health and usage for every provider.
func StatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Router.ProviderStatus(r.Context()))
	}
}

// SpendHandler returns today's aggregate cost as a bare JSON number.
func SpendHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Router.TodaySpend())
	}
}

// HealthHandler probes every provider and summarizes pool health. The pool
// is Healthy while at least one provider answers its probe.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := d.Router.ProviderStatus(r.Context())
		healthy := 0
		for _, s := range statuses {
			if s.IsHealthy {
				healthy++
			}
		}
		status := "Unhealthy"
		if healthy > 0 {
			status = "Healthy"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           status,
			"healthyProviders": healthy,
			"totalProviders":   len(statuses),
			"timestamp":        time.Now().UTC(),
		})
	}
}

// HistoryHandler returns the user-visible history document. An absent or
// disabled document reads as empty.
func HistoryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		doc, err := journal.Load[journal.Document](d.History)
		if err != nil {
			d.Log.Error("history load failed", "error", err)
			jsonError(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		if doc == nil {
			doc = &journal.Document{Responses: []journal.Entry{}}
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// RolloverHandler forces an archive of both journal documents.
func RolloverHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, s := range []*journal.Store{d.Journal, d.History} {
			if s == nil {
				continue
			}
			if err := s.ForceRollover(); err != nil {
				d.Log.Error("forced rollover failed", "path", s.Path(), "error", err)
				jsonError(w, "rollover failed", http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "rollover completed"})
	}
}

// WeeklyUsageHandler exposes the seven-day per-provider usage report.
func WeeklyUsageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Ledger.WeeklyReport())
	}
}
