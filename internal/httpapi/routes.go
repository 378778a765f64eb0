// Package httpapi is the public HTTP surface of the routing façade.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/promptgate/promptgate/internal/events"
	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/router"
)

type Dependencies struct {
	Router *router.Router
	Ledger *ledger.Ledger

	// History holds user-visible responses; Journal is the router's own
	// attempt log. They share the store implementation but are distinct
	// documents.
	History *journal.Store
	Journal *journal.Store

	Metrics  *metrics.Registry
	EventBus *events.Bus
	Log      *slog.Logger
}

func MountRoutes(r chi.Router, d Dependencies) {
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})

	r.Route("/api/ai", func(r chi.Router) {
		r.Post("/generate", GenerateHandler(d))
		r.Get("/status", StatusHandler(d))
		r.Get("/spend", SpendHandler(d))
		r.Post("/health", HealthHandler(d))
		r.Get("/history", HistoryHandler(d))
		r.Post("/rollover", RolloverHandler(d))
		r.Get("/usage/weekly", WeeklyUsageHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
