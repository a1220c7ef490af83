// Package channel serves the HTTP API, the push channel and the static index page.
package channel

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wabridge/internal/bus"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second
)

//go:embed static/index.html
var staticFS embed.FS

// Dispatcher runs one outbound request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.Request) domain.Outcome
}

type ServerConfig struct {
	Addr         string
	APIKey       string   // empty disables auth on the POST routes
	CORSOrigins  []string // empty allows any origin
	RedactErrors bool
	MetricsPath  string // empty disables /metrics
	Dispatcher   Dispatcher
	Broadcaster  *bus.Broadcaster
	State        func() string // session state reported by /health
	Logger       *slog.Logger
}

// Server implements domain.Channel for the REST API and the push channel.
type Server struct {
	addr         string
	apiKey       string
	redactErrors bool
	dispatcher   Dispatcher
	state        func() string
	hub          *Hub
	router       chi.Router
	logger       *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = bus.NewBroadcaster(bus.BroadcasterConfig{Logger: cfg.Logger})
	}
	s := &Server{
		addr:         cfg.Addr,
		apiKey:       cfg.APIKey,
		redactErrors: cfg.RedactErrors,
		dispatcher:   cfg.Dispatcher,
		state:        cfg.State,
		hub:          NewHub(HubConfig{Broadcaster: cfg.Broadcaster, Logger: cfg.Logger}),
		logger:       cfg.Logger,
	}
	s.router = s.routes(cfg.CORSOrigins, cfg.MetricsPath)
	return s
}

func (s *Server) routes(origins []string, metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeHTTP)
	if metricsPath != "" {
		r.Get(metricsPath, metrics.Collector.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/send-message", s.handleSendMessage)
		r.Post("/send-media", s.handleSendMedia)
		r.Post("/send-group-message", s.handleSendGroupMessage)
		r.Post("/clear-message", s.handleClearMessage)
	})

	return r
}

func (s *Server) Name() string { return "http" }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the push channel hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("http server started", "addr", s.addr, "auth", s.apiKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop() error {
	s.hub.CloseAll()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// requireAPIKey checks the bearer token when an API key is configured.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, envelope{Status: false, Message: "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.state != nil {
		state = s.state()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"session":     state,
		"subscribers": s.hub.Len(),
	})
}
