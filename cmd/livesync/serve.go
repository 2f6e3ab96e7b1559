package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/aggregator"
	"github.com/dennisdiepolder/monti/livesync/internal/api"
	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/backend"
	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/config"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/journal"
	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/presence"
	"github.com/dennisdiepolder/monti/livesync/internal/reconcile"
	"github.com/dennisdiepolder/monti/livesync/internal/storage"
	"github.com/dennisdiepolder/monti/livesync/internal/ticker"
	"github.com/dennisdiepolder/monti/livesync/internal/transport"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/dennisdiepolder/monti/livesync/internal/websocket"
	"github.com/dennisdiepolder/monti/livesync/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sync with the voice orchestrator and serve dashboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			setLogLevel(cfg.LogLevel)
			return serve(cmd.Context(), cfg, log.Logger)
		},
	}
}

// app holds the wired sync layer for one console
type app struct {
	cfg        *config.Config
	router     *event.Router
	link       *transport.Client
	cache      *cache.QueryCache
	events     *cache.EventLog
	api        *backend.Client
	slices     *backend.Slices
	reconciler *reconcile.Reconciler
	counter    *aggregator.LiveCounter
	presence   *presence.Controller
	hub        *websocket.Hub
	ticker     *ticker.Ticker
	recorder   *journal.Recorder
	store      storage.Store
	detach     []func()
	logger     zerolog.Logger
}

func newApp(cfg *config.Config, store storage.Store, logger zerolog.Logger) *app {
	a := &app{cfg: cfg, store: store, logger: logger}
	h := cfg.HospitalID

	var tokens auth.TokenSource
	if cfg.APIToken != "" {
		tokens = auth.NewCachingSource(auth.StaticToken(cfg.APIToken), 30*time.Second)
	}

	a.router = event.NewRouter(logger)
	a.link = transport.New(transport.Options{
		URL: cfg.OrchestratorURL,
		Backoff: transport.Backoff{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		WriteTimeout: cfg.WSWriteTimeout,
		Tokens:       tokens,
	}, a.router, logger)

	a.cache = cache.NewQueryCache(cfg.FetchTimeout, logger)
	a.api = backend.NewClient(cfg.APIBaseURL, tokens)
	a.slices = backend.NewSlices(a.cache, a.api, h)
	a.slices.RegisterDefaults()

	a.events = cache.NewEventLog(cfg.EventLogSize)
	a.reconciler = reconcile.New(a.cache, h, logger)
	a.counter = aggregator.NewLiveCounter(logger)
	a.presence = presence.New(a.link, a.cache, h, logger)
	a.recorder = journal.NewRecorder(store, h, logger)

	a.hub = websocket.NewHub(logger)
	a.ticker = ticker.NewTicker(a.hub, a.link, a.counter.Count, a.presence, h, cfg.StatusInterval, logger)

	a.detach = append(a.detach,
		a.router.OnTypes(types.InboundEventTypes, a.events.Record),
		a.reconciler.Attach(a.router),
		a.counter.Attach(a.router),
		a.presence.Attach(a.router),
		a.recorder.Attach(a.router),
		a.hub.Relay(a.router, h),
	)

	a.cache.OnUpdate(func(info types.SliceInfo) {
		a.hub.Publish(types.ConsoleUpdate{Type: types.UpdateSliceRefreshed, HospitalID: h, Data: info})
	})
	a.counter.OnChange(func(n int) {
		a.hub.Publish(types.ConsoleUpdate{Type: types.UpdateLiveCount, HospitalID: h, Data: n})
	})
	a.presence.OnChange(func(s types.AgentSession) {
		a.hub.Publish(types.ConsoleUpdate{Type: types.UpdateAgentSession, HospitalID: s.HospitalID, Data: s})
	})
	a.presence.OnRemove(func(s types.AgentSession) {
		a.hub.Publish(types.ConsoleUpdate{Type: types.UpdateAgentSessionRemoved, HospitalID: s.HospitalID, Data: s})
	})

	return a
}

// snapshot is what a dashboard receives right after connecting
func (a *app) snapshot() []types.ConsoleUpdate {
	now := time.Now()
	h := a.cfg.HospitalID

	updates := []types.ConsoleUpdate{
		{Type: types.UpdateLinkStatus, HospitalID: h, Timestamp: now, Data: a.ticker.LinkStatus()},
		{Type: types.UpdateLiveCount, HospitalID: h, Timestamp: now, Data: a.counter.Count()},
	}
	for _, s := range a.presence.Sessions() {
		updates = append(updates, types.ConsoleUpdate{Type: types.UpdateAgentSession, HospitalID: s.HospitalID, Timestamp: now, Data: s})
	}
	return updates
}

func (a *app) routes() http.Handler {
	authn := auth.NewAuthenticator(auth.Options{
		SkipAuth:   a.cfg.SkipAuth,
		Env:        a.cfg.Env,
		OIDCIssuer: a.cfg.OIDCIssuer,
	}, a.logger)

	wsHandler := websocket.NewHandler(a.hub, a.cfg, a.snapshot, a.logger)
	statusHandler := api.NewStatusHandler(a.ticker.LinkStatus, a.events, a.cache, a.logger)
	dataHandler := api.NewDataHandler(a.slices, a.logger)
	agentHandler := api.NewAgentHandler(a.presence, a.logger)
	journalHandler := api.NewJournalHandler(a.store, a.cfg.HospitalID, a.logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(a.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(a.cfg.AllowedOrigins))
	r.Use(middleware.Metrics(metrics.Get()))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Get("/metrics", metrics.Get().Handler())

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", statusHandler.GetStatus)
			r.Get("/events", statusHandler.GetEvents)
			r.Get("/slices", statusHandler.GetSlices)
			r.Get("/journal", journalHandler.GetJournal)

			r.Group(func(r chi.Router) {
				r.Use(dataHandler.RequireHospitalAccess)
				r.Get("/calls", dataHandler.GetCalls)
				r.Get("/calls/{callId}", dataHandler.GetCall)
				r.Get("/analytics", dataHandler.GetAnalytics)
				r.Get("/assignments", dataHandler.GetAssignments)
				r.Get("/queues", dataHandler.GetQueues)
				r.Get("/agents/{agentId}/remote-session", dataHandler.GetAgentSession)
			})

			r.Get("/agents/sessions", agentHandler.ListSessions)
			r.Post("/agents/{agentId}/session", agentHandler.MountSession)
			r.Get("/agents/{agentId}/session", agentHandler.GetSession)
			r.Delete("/agents/{agentId}/session", agentHandler.UnmountSession)
			r.Post("/agents/{agentId}/status", agentHandler.SetStatus)
			r.Post("/assignments/{assignmentId}/accept", agentHandler.AcceptAssignment)
			r.Post("/assignments/{assignmentId}/reject", agentHandler.RejectAssignment)
		})
	})

	return r
}

// start runs the background loops and opens the orchestrator link
func (a *app) start(ctx context.Context) {
	go a.hub.Run(ctx)
	go a.ticker.Start(ctx)
	go a.cache.StartEviction(ctx, a.sweepInterval(), a.cfg.SliceIdleTTL)
	a.link.Connect(ctx)
}

func (a *app) sweepInterval() time.Duration {
	if every := a.cfg.SliceIdleTTL / 2; every >= time.Second {
		return every
	}
	return time.Second
}

// close tears the sync layer down. Pending journal writes are flushed.
func (a *app) close() {
	a.link.Disconnect()
	for _, detach := range a.detach {
		detach()
	}
	a.recorder.Close()
	a.cache.Close()
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("orchestrator", cfg.OrchestratorURL).
		Str("api", cfg.APIBaseURL).
		Str("hospital", cfg.HospitalID).
		Msg("starting livesync")

	if cfg.HospitalID == "" {
		logger.Warn().Msg("no hospital selected, cache reconciliation is disabled")
	}

	store, err := storage.NewStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("open call journal: %w", err)
	}

	a := newApp(cfg, store, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(runCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		a.close()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	a.close()

	logger.Info().Msg("server stopped")
	return nil
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"livesync"}`)
}

// readyHandler reports whether the backend API answers. The orchestrator
// link state is informational: a console with a dropped link still serves
// cached data.
func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code, apiState := "ready", http.StatusOK, "ok"
	if err := a.api.Health(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("backend API not ready")
		status, code, apiState = "unavailable", http.StatusServiceUnavailable, err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":       status,
		"api":          apiState,
		"orchestrator": a.link.Status().State,
	})
}
