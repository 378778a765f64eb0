package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promptgate/promptgate/internal/events"
	"github.com/promptgate/promptgate/internal/httpapi"
	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/logging"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/providers/anthropic"
	"github.com/promptgate/promptgate/internal/providers/ollama"
	"github.com/promptgate/promptgate/internal/providers/openai"
	"github.com/promptgate/promptgate/internal/ratelimit"
	"github.com/promptgate/promptgate/internal/router"
	"github.com/promptgate/promptgate/internal/tracing"
)

type Server struct {
	cfg Config

	r *chi.Mux

	logger  *slog.Logger
	engine  *router.Router
	ledger  *ledger.Ledger
	journal *journal.Store
	history *journal.Store
	metrics *metrics.Registry
	bus     *events.Bus
	limiter *ratelimit.Limiter

	tracingShutdown func(context.Context) error

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "promptgate",
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	bus := events.NewBus()

	onRollover := func(archivePath string) {
		m.RolloversTotal.Inc()
		bus.Publish(events.Event{Type: events.EventJournalRollover, ArchivePath: archivePath})
		logger.Info("journal rolled over", slog.String("archive", archivePath))
	}
	attemptLog := journal.NewStore(cfg.JsonFileServiceOptions.journalOptions(), journal.WithOnRollover(onRollover))
	historyLog := journal.NewStore(cfg.History.journalOptions(), journal.WithOnRollover(onRollover))
	if err := attemptLog.EnsureFile(); err != nil {
		return nil, err
	}
	if err := historyLog.EnsureFile(); err != nil {
		return nil, err
	}

	lg := ledger.New(cfg.providerLimits())

	pool := buildProviders(cfg, logger)
	eng := router.New(pool, lg, attemptLog, router.Config{
		DailyBudget:         cfg.Router.DailyBudget,
		MaxRetries:          cfg.Router.MaxRetries,
		HealthCheckInterval: time.Duration(cfg.Router.HealthCheckInterval),
		EnableCostTracking:  cfg.Router.EnableCostTracking,
		EnableRateLimiting:  cfg.Router.EnableRateLimiting,
	}, router.WithLogger(logger), router.WithMetrics(m), router.WithBus(bus))

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimited))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:   eng,
		Ledger:   lg,
		History:  historyLog,
		Journal:  attemptLog,
		Metrics:  m,
		EventBus: bus,
		Log:      logger,
	})

	s := &Server{
		cfg:             cfg,
		r:               r,
		logger:          logger,
		engine:          eng,
		ledger:          lg,
		journal:         attemptLog,
		history:         historyLog,
		metrics:         m,
		bus:             bus,
		limiter:         limiter,
		tracingShutdown: tracingShutdown,
		stop:            make(chan struct{}),
	}

	s.startRolloverJanitor()
	s.startHealthWatcher()

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Close stops the background janitors, the rate limiter, and the tracer.
// Safe to call more than once.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.limiter.Stop()
		if s.tracingShutdown != nil {
			err = s.tracingShutdown(ctx)
		}
	})
	return err
}

// buildProviders constructs the adapter pool from the enabled config
// sections. The diagnostic cost-per-token comes from the limit
// configuration when present.
func buildProviders(cfg Config, logger *slog.Logger) []router.Provider {
	cpt := func(name string) float64 {
		if l, ok := cfg.Router.ProviderLimits[name]; ok {
			return l.CostPerToken
		}
		for key, l := range cfg.Router.ProviderLimits {
			if strings.EqualFold(key, name) {
				return l.CostPerToken
			}
		}
		return 0
	}

	var pool []router.Provider

	if c := cfg.OpenAI; c.Enabled {
		opts := []openai.Option{openai.WithCostPerToken(cpt("openai"))}
		if c.Model != "" {
			opts = append(opts, openai.WithModel(c.Model))
		}
		if c.MaxTokens > 0 {
			opts = append(opts, openai.WithMaxTokens(c.MaxTokens))
		}
		if c.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(c.Timeout)))
		}
		if c.Priority > 0 {
			opts = append(opts, openai.WithPriority(c.Priority))
		}
		pool = append(pool, openai.New("openai", c.ApiKey, c.BaseUrl, opts...))
		logger.Info("registered provider", slog.String("provider", "openai"))
	}

	if c := cfg.Anthropic; c.Enabled {
		opts := []anthropic.Option{anthropic.WithCostPerToken(cpt("anthropic"))}
		if c.Model != "" {
			opts = append(opts, anthropic.WithModel(c.Model))
		}
		if c.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(c.MaxTokens))
		}
		if c.Timeout > 0 {
			opts = append(opts, anthropic.WithTimeout(time.Duration(c.Timeout)))
		}
		if c.Priority > 0 {
			opts = append(opts, anthropic.WithPriority(c.Priority))
		}
		pool = append(pool, anthropic.New("anthropic", c.ApiKey, c.BaseUrl, opts...))
		logger.Info("registered provider", slog.String("provider", "anthropic"))
	}

	if c := cfg.Ollama; c.Enabled {
		opts := []ollama.Option{ollama.WithCostPerToken(cpt("ollama"))}
		if c.Model != "" {
			opts = append(opts, ollama.WithModel(c.Model))
		}
		if c.MaxTokens > 0 {
			opts = append(opts, ollama.WithMaxTokens(c.MaxTokens))
		}
		if c.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(time.Duration(c.Timeout)))
		}
		if c.Priority > 0 {
			opts = append(opts, ollama.WithPriority(c.Priority))
		}
		pool = append(pool, ollama.New("ollama", c.BaseUrl, opts...))
		logger.Info("registered provider", slog.String("provider", "ollama"))
	}

	return pool
}

// startRolloverJanitor ages out the journal documents on a schedule so a
// quiet deployment still rotates. The interval derives from the shortest
// configured file age, clamped to [1m, 1h].
func (s *Server) startRolloverJanitor() {
	interval := time.Hour
	for _, j := range []JournalConfig{s.cfg.JsonFileServiceOptions, s.cfg.History} {
		if !j.Enabled {
			continue
		}
		if candidate := j.MaxFileAge.Duration() / 4; candidate < interval {
			interval = candidate
		}
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				for _, store := range []*journal.Store{s.journal, s.history} {
					if err := store.RolloverIfNeeded(); err != nil {
						s.logger.Warn("scheduled rollover failed",
							slog.String("path", store.Path()), slog.Any("error", err))
					}
				}
			}
		}
	}()
}

// startHealthWatcher probes every provider at the configured interval,
// keeps the health gauge fresh, and publishes transitions. Observational
// only: routing still probes synchronously per attempt.
func (s *Server) startHealthWatcher() {
	interval := time.Duration(s.cfg.Router.HealthCheckInterval)
	if interval <= 0 || len(s.engine.Providers()) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		last := make(map[string]bool)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				for _, p := range s.engine.Providers() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					healthy, err := p.CheckHealth(ctx)
					cancel()
					healthy = healthy && err == nil

					v := 0.0
					if healthy {
						v = 1.0
					}
					s.metrics.ProviderHealthy.WithLabelValues(p.Name()).Set(v)

					if prev, seen := last[p.Name()]; !seen || prev != healthy {
						s.bus.Publish(events.Event{
							Type:     events.EventHealthChange,
							Provider: p.Name(),
							Healthy:  healthy,
						})
						s.logger.Info("provider health changed",
							slog.String("provider", p.Name()), slog.Bool("healthy", healthy))
					}
					last[p.Name()] = healthy
				}
			}
		}
	}()
}
