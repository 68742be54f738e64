// Package ws is the dashboard gateway: it serves the live-update socket and
// event stream, the JSON API over the shared state, and the frontend.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/logging"
	"github.com/opsboard/opsboard/internal/state"
	"github.com/opsboard/opsboard/internal/status"
	"github.com/opsboard/opsboard/internal/tools"
)

type Options struct {
	Config   *config.Config
	State    *state.State
	Tools    *tools.Registry
	Executor *tools.Executor
	// Sampler is optional; without it host stats are omitted.
	Sampler *status.Sampler
	// Frontend serves everything outside /api, /debug and the live
	// endpoints. Optional.
	Frontend http.Handler
}

type Server struct {
	cfg      *config.Config
	state    *state.State
	tools    *tools.Registry
	executor *tools.Executor
	sampler  *status.Sampler
	frontend http.Handler
	origins  *OriginPolicy
	hub      *Hub
	upgrader websocket.Upgrader

	sseHeartbeat time.Duration
	log          zerolog.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		cfg:          opts.Config,
		state:        opts.State,
		tools:        opts.Tools,
		executor:     opts.Executor,
		sampler:      opts.Sampler,
		frontend:     opts.Frontend,
		origins:      NewOriginPolicy(opts.Config.WebSocket.AllowedOrigins, opts.Config.WebSocket.DevBypass),
		hub:          NewHub(opts.Config.WebSocket.MaxConnections),
		sseHeartbeat: sseHeartbeatInterval,
		log:          logging.Component("gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// origin is enforced in handleWS before the upgrade is attempted
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if s.origins.Bypassed() {
		s.log.Warn().Msg("websocket origin validation bypassed")
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the HTTP handler for every route the gateway serves.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	if s.cfg.Server.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.WebSocket.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/sse", s.handleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/heartbeat", s.handleHeartbeat)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/tool-calls", s.handleToolCalls)
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/execute", s.handleExecuteTool)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleOpenSession)
		r.Post("/sessions/{id}/touch", s.handleTouchSession)
		r.Delete("/sessions/{id}", s.handleCloseSession)
		r.Get("/config", s.handleConfig)
	})

	if s.cfg.Server.EnableDebugRoutes {
		s.log.Warn().Msg("debug routes enabled")
		r.Route("/debug", func(r chi.Router) {
			r.Get("/config", s.handleDebugConfig)
			r.Get("/state", s.handleDebugState)
			r.Get("/events", s.handleDebugEvents)
			r.Post("/reload", s.handleDebugReload)
		})
	}

	if s.frontend != nil {
		r.Handle("/*", s.frontend)
	}
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.origins.Allowed(origin) {
		s.log.Warn().Str("origin", origin).Str("remote", r.RemoteAddr).Msg("websocket origin rejected")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	if !s.hub.acquire() {
		s.log.Warn().Int("max", s.cfg.WebSocket.MaxConnections).Msg("websocket connection limit reached")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// subscribe before upgrading so nothing published after the client
	// sees the handshake complete is missed
	sub := s.state.Bus.Subscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.hub.abandon()
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := s.state.OpenSession(clientMeta(r, "websocket"))
	c := &client{
		conn:      conn,
		sub:       sub,
		state:     s.state,
		hub:       s.hub,
		sessionID: sess.ID,
		replies:   make(chan Envelope, replyBuffer),
		done:      make(chan struct{}),
		log:       s.log.With().Str("session", sess.ID).Str("remote", r.RemoteAddr).Logger(),
	}
	s.hub.register(c)
	c.log.Info().Msg("websocket client connected")

	go c.writePump()
	go c.readPump()
}

func clientMeta(r *http.Request, transport string) map[string]string {
	meta := map[string]string{
		"transport":   transport,
		"remote_addr": r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		meta["origin"] = origin
	}
	return meta
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; "+
			"style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws: wss:; "+
			"frame-ancestors 'none'; base-uri 'self'; form-action 'self'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// Serve runs the gateway on ln until ctx is cancelled, then closes live
// connections and shuts the HTTP server down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// streaming handlers watch the request context; hijacked sockets are
	// not tracked by the http.Server and are closed through the hub
	cancelBase()
	s.hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
