// ABOUTME: Gateway orchestration wiring presence, conversations, and the lifecycle engine
// ABOUTME: Owns the HTTP server, snapshot loop, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/parley-im/parley-server/internal/auth"
	"github.com/parley-im/parley-server/internal/config"
	"github.com/parley-im/parley-server/internal/conversation"
	"github.com/parley-im/parley-server/internal/message"
	"github.com/parley-im/parley-server/internal/presence"
	"github.com/parley-im/parley-server/internal/store"
)

// Gateway wires the messaging core together and serves the client API.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	registry *presence.Registry
	resolver *conversation.Resolver
	engine   *message.Engine
	sessions *auth.Sessions
	snapshot *message.Snapshotter
	validate *validator.Validate

	httpServer *http.Server

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates a Gateway from configuration: opens the store, builds the
// presence registry, conversation resolver, and lifecycle engine, and wires
// the HTTP routes.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := presence.NewRegistry(logger)
	resolver := conversation.NewResolver(sqlStore, logger)
	engine := message.NewEngine(sqlStore, resolver, registry, cfg.Messaging.EditWindow, logger)

	snapInterval := cfg.Messaging.SnapshotInterval
	if snapInterval <= 0 {
		snapInterval = message.DefaultSnapshotInterval
	}

	gw := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		store:    sqlStore,
		registry: registry,
		resolver: resolver,
		engine:   engine,
		sessions: auth.NewSessions([]byte(cfg.Auth.JWTSecret), cfg.Auth.SessionLifetime),
		snapshot: message.NewSnapshotter(snapInterval, logger, engine, resolver),
		validate: validator.New(),
		limiters: make(map[string]*rate.Limiter),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Authentication is the only unauthenticated API endpoint
	mux.HandleFunc("/api/authenticate", gw.handleAuthenticate)

	// Everything else requires a Bearer session token
	mux.HandleFunc("/api/events", gw.requireAuth(gw.handleEvents))
	mux.HandleFunc("/api/join", gw.requireAuth(gw.handleJoin))
	mux.HandleFunc("/api/send", gw.requireAuth(gw.handleSend))
	mux.HandleFunc("/api/read", gw.requireAuth(gw.handleRead))
	mux.HandleFunc("/api/edit", gw.requireAuth(gw.handleEdit))
	mux.HandleFunc("/api/delete", gw.requireAuth(gw.handleDelete))

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
		logger.Info("metrics enabled", "path", path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and the snapshot loop, blocking until the
// context is canceled. Returns nil on graceful shutdown, or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	snapCtx, stopSnapshots := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		g.snapshot.Run(snapCtx)
		close(snapDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// Stop the snapshot loop first: its shutdown path flushes current state
	// to the store before we close it.
	stopSnapshots()
	<-snapDone

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown closes live connections, the HTTP server, and the store, in that
// order. The registry goes first: event streams never go idle on their own,
// so the HTTP shutdown would otherwise sit out its full timeout waiting on
// them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.registry.Close()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// sendLimiter returns the per-user send rate limiter, creating it on first
// use. Returns nil when rate limiting is disabled.
func (g *Gateway) sendLimiter(userID string) *rate.Limiter {
	if g.config.Messaging.SendRate <= 0 {
		return nil
	}

	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()

	lim, ok := g.limiters[userID]
	if !ok {
		burst := g.config.Messaging.SendBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(g.config.Messaging.SendRate), burst)
		g.limiters[userID] = lim
	}
	return lim
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the durable store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// A not-found answer still proves the store round-trip works.
	_, err := g.store.GetConversation(r.Context(), "readiness-probe")
	if err != nil && err != store.ErrNotFound {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users connected)", g.registry.ConnectedCount())
}
