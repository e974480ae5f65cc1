package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stakesession/pkg/auth"
	"stakesession/pkg/clientsession"
	"stakesession/pkg/config"
	"stakesession/pkg/contract"
	"stakesession/pkg/coordinator"
	"stakesession/pkg/resolver"
	"stakesession/pkg/session"
	"stakesession/pkg/validation"
)

// Store is the subset of the Persistence Gateway the transport layer needs
// directly (beyond what auth.Store/resolver.Store already cover). It embeds
// coordinator.Persistence since the Server, not just cmd/server's rehydrate
// pass, now constructs Coordinators directly off the session's first join.
type Store interface {
	coordinator.Persistence
	Ping(ctx context.Context) error
	CreateSession(ctx context.Context, gameID session.GameID, poolID *string, creator session.UserID, password *string, private bool) (string, error)
	LoadSession(ctx context.Context, id string) (session.Session, error)
	LoadGame(ctx context.Context, id session.GameID) (session.Game, error)
	CreateUserSession(ctx context.Context, authToken string, userID session.UserID) error
}

// Server is the process's HTTP/WebSocket front door: it terminates
// connections, authenticates and authorizes them, and hands each one off to
// the Coordinator running its target session. Its ambient stack (metrics,
// health, profiling, rate limiting, circuit breakers) is wired to this
// domain's Persistence Gateway, Auth Validator, and Session Registry.
type Server struct {
	config    *config.Config
	store     Store
	auth      *auth.Validator
	clients   *clientsession.Registry
	sessions  *SessionRegistry
	contract  *contract.Client
	resolver  *resolver.Resolver
	validator *validation.UpdateValidator

	metrics     *Metrics
	health      *HealthChecker
	rateLimiter *RateLimiter
	perfMonitor *PerformanceMonitor
	timeouts    *TimeoutConfig
	upgrader    websocket.Upgrader

	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

// Deps bundles the components New assembles a Server from, each built by
// the composition root (cmd/server/main.go).
type Deps struct {
	Config   *config.Config
	Store    Store
	Auth     *auth.Validator
	Clients  *clientsession.Registry
	Sessions *SessionRegistry
	Contract *contract.Client
	Resolver *resolver.Resolver
}

// New builds a Server and its ambient stack (metrics registry, health
// checker, rate limiter, performance monitor) and wires its HTTP mux.
func New(deps Deps) *Server {
	s := &Server{
		config:    deps.Config,
		store:     deps.Store,
		auth:      deps.Auth,
		clients:   deps.Clients,
		sessions:  deps.Sessions,
		contract:  deps.Contract,
		resolver:  deps.Resolver,
		validator: validation.NewUpdateValidator(deps.Config.MaxRequestSize),
		metrics:   NewMetrics(),
		timeouts:  NewTimeoutConfig(deps.Config),
		done:      make(chan struct{}),
	}
	s.timeouts.LogTimeoutConfig()

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), deps.Config.AllowedOrigins)
		},
	}

	s.health = NewHealthChecker(s)

	if deps.Config.RateLimitEnabled {
		s.rateLimiter = NewRateLimiter(deps.Config)
	}

	interval := deps.Config.MetricsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.perfMonitor = NewPerformanceMonitor(s.metrics, interval)

	s.httpServer = &http.Server{
		Handler:      s.buildHandler(),
		ReadTimeout:  deps.Config.RequestTimeout,
		WriteTimeout: deps.Config.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// ensureCoordinator returns the running Coordinator for sess, materializing
// one via coordinator.New and starting its Run loop if this is the first
// join since the session was created. Mirrors the construction
// cmd/server's startup rehydration pass uses for crash recovery, but
// without replaying SessionEnd — this is the live, non-crash path a
// session takes from its very first join.
func (s *Server) ensureCoordinator(ctx context.Context, sess session.Session) (coordinatorHandle, error) {
	if handle, ok := s.sessions.Get(sess.ID.String()); ok {
		return handle, nil
	}
	if sess.EndedAt != nil {
		return nil, fmt.Errorf("session has already ended")
	}

	game, err := s.store.LoadGame(ctx, sess.GameID)
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}

	handle, created := s.sessions.GetOrCreate(sess.ID.String(), func() coordinatorHandle {
		coord := coordinator.New(sess, game, sess.Creator, s.store, s.resolver)
		go coord.Run(context.Background())
		return coord
	})
	if created {
		s.metrics.RecordCoordinatorEvent("session_started")
	}
	return handle, nil
}

// buildHandler composes the routing mux with the middleware chain, outermost
// first: request id, logging, recovery, CORS, metrics, rate limiting, then
// the request timeout wrapping the mux directly.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.health.HealthHandler)
	mux.HandleFunc("/health/ready", s.health.ReadinessHandler)
	mux.HandleFunc("/health/live", s.health.LivenessHandler)
	mux.Handle("/metrics", s.metrics.GetHandler())
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.config.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.config.WebDir)))
	}

	var handler http.Handler = mux
	handler = s.timeouts.Middleware(handler)
	handler = RateLimitingMiddleware(s.rateLimiter)(handler)
	handler = s.metrics.MetricsMiddleware(handler)
	handler = CORSMiddleware(s.config.AllowedOrigins)(handler)
	handler = RecoveryMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// ServeHTTP lets a Server itself be passed to httptest.NewServer or any
// other caller expecting an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Run starts the HTTP server on addr and the background performance
// monitor, blocking until the server stops.
func (s *Server) Run(addr string) error {
	s.httpServer.Addr = addr
	go s.perfMonitor.Start()
	logrus.WithField("address", addr).Info("session coordinator server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new work and waits for ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	s.perfMonitor.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
