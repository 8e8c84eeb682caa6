package server

import (
	"log/slog"
	"net/http"
	"time"

	"uploadflow/internal/response"
	"uploadflow/internal/upload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	APIKey      string
	MaxSessions int
	SessionTTL  time.Duration
	// MaxParts bounds the number of parts of one session
	MaxParts int
	// Gatherer, when set, is exposed on /metrics
	Gatherer prometheus.Gatherer
}

// Server is the reference implementation of the multipart session resource
type Server struct {
	store    ObjectStore
	sessions *sessionTable
	logger   *slog.Logger
	cfg      Config
	handler  http.Handler
}

func New(store ObjectStore, cfg Config, logger *slog.Logger) *Server {
	if cfg.MaxParts <= 0 {
		cfg.MaxParts = upload.DefaultMaxParts
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		store:    store,
		sessions: newSessionTable(store, cfg.MaxSessions, cfg.SessionTTL, logger),
		logger:   logger,
		cfg:      cfg,
	}

	mux := http.NewServeMux()
	auth := APIKeyMiddleware(cfg.APIKey)
	mux.Handle("/files/{key...}", auth(http.HandlerFunc(s.HandleFile)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		response.Plain(w, http.StatusOK, "OK")
	})
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = LoggingMiddleware(logger)(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close waits for aborts of evicted sessions
func (s *Server) Close() {
	s.sessions.wait()
}
