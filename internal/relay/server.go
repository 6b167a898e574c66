package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Options tunes the relay. Zero values take the defaults below.
type Options struct {
	AuthTimeout     time.Duration
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	BufferSize      int
	QueueSize       int
	RateLimit       int
	RateWindow      time.Duration
	CleanupInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 100
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 5 * time.Minute
	}
	return o
}

// Server is the push side: it accepts client connections on /ws, reports
// health on /health, takes lifecycle events from the backend on /events
// and fans them out to rooms.
type Server struct {
	auth        *Authenticator
	registry    *Registry
	broadcaster *Broadcaster
	limiter     *RateLimiter
	handler     *Handler
	opts        Options
	mux         *http.ServeMux
	startedAt   time.Time
	cancel      context.CancelFunc
	logger      logrus.FieldLogger
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewServer(auth *Authenticator, opts Options, logger logrus.FieldLogger) *Server {
	opts = opts.withDefaults()
	registry := NewRegistry()
	limiter := NewRateLimiter(opts.RateLimit, opts.RateWindow)

	s := &Server{
		auth:        auth,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, opts.QueueSize, logger),
		limiter:     limiter,
		handler:     NewHandler(registry, auth, limiter, opts, logger),
		opts:        opts,
		mux:         http.NewServeMux(),
		startedAt:   time.Now(),
		logger:      logger.WithField("component", "relay"),
	}

	s.mux.HandleFunc("/ws", s.handler.HandleWebSocket)
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.mux.Handle("/events", s.jsonMiddleware(http.HandlerFunc(s.handleEvents)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the broadcaster and the rate limiter cleanup until Stop or
// ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.broadcaster.Start(ctx); err != nil {
		cancel()
		return err
	}
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.limiter.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("relay started")
	return nil
}

func (s *Server) Stop() error {
	err := s.broadcaster.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("relay stopped")
	return err
}

// Registry exposes connection and room state.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Connections: s.registry.Stats(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
