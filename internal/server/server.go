// ABOUTME: Server orchestrator wiring the store, chat router, and HTTP surface
// ABOUTME: Manages startup, background sweeps, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/chat"
	"github.com/hostwind/livechat/internal/config"
	"github.com/hostwind/livechat/internal/dedupe"
	"github.com/hostwind/livechat/internal/store"
)

// Server hosts the live chat service: the WebSocket endpoint, the REST
// fallback API, and the background sweeps that enforce idle and typing
// timeouts.
type Server struct {
	config     *config.Config
	store      store.Store
	verifier   *auth.JWTVerifier
	registry   *chat.Registry
	lifecycle  *chat.Lifecycle
	typing     *chat.TypingTracker
	dedupe     *dedupe.Cache
	router     *chat.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server from configuration, opening the store and wiring the
// chat components together.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	registry := chat.NewRegistry(cfg.Chat.SendBuffer, logger)
	typing := chat.NewTypingTracker(cfg.Chat.TypingCeiling, logger)
	dedupeCache := dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeSize)
	lifecycle := chat.NewLifecycle(st, chat.NewManualClaimPolicy(st), logger)
	router := chat.NewRouter(st, registry, lifecycle, typing, dedupeCache, logger)

	s := &Server{
		config:    cfg,
		store:     st,
		verifier:  verifier,
		registry:  registry,
		lifecycle: lifecycle,
		typing:    typing,
		dedupe:    dedupeCache,
		router:    router,
		logger:    logger.With("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// routes builds the HTTP mux. The health endpoint is unauthenticated; every
// chat endpoint requires a valid token, and the admin endpoints additionally
// require the admin role.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	authMW := auth.Middleware(s.verifier)
	adminMW := auth.RequireAdmin()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("GET /ws", authMW(http.HandlerFunc(s.handleWebSocket)))

	mux.Handle("POST /api/chat/start", authMW(http.HandlerFunc(s.handleStartChat)))
	mux.Handle("POST /api/chat/end", authMW(http.HandlerFunc(s.handleEndChat)))
	mux.Handle("GET /api/chat/session", authMW(http.HandlerFunc(s.handleGetSession)))
	mux.Handle("GET /api/chat/history", authMW(http.HandlerFunc(s.handleHistory)))

	mux.Handle("GET /api/admin/chat/waiting", authMW(adminMW(http.HandlerFunc(s.handleWaitingSessions))))
	mux.Handle("POST /api/admin/chat/claim", authMW(adminMW(http.HandlerFunc(s.handleClaimSession))))

	return mux
}

// Handler exposes the HTTP handler for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and the background sweeps, blocking until the
// context is canceled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	s.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"idle_timeout", s.config.Chat.IdleTimeout,
		"typing_ceiling", s.config.Chat.TypingCeiling)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.router.RunIdleSweep(ctx, s.config.Chat.IdleSweepInterval, s.config.Chat.IdleTimeout, s.config.Chat.ReconnectGracePeriod)
		return nil
	})

	g.Go(func() error {
		s.router.RunTypingSweep(ctx, s.config.Chat.TypingSweepInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

// shutdown stops the HTTP server with a fresh timeout context, then closes
// the remaining components in dependency order.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.registry.Close()
	s.dedupe.Close()

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealthz returns 200 OK while the process is serving
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
