package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Renderer renders verified documents, typically a backend.BinaryClient.
type Renderer interface {
	Render(ctx context.Context, doc domain.Document) ([]byte, error)
}

// Server is the render gateway: the HTTP side of the signed-URL protocol.
type Server struct {
	Renderer Renderer

	key     []byte
	version string
	health  func(ctx context.Context) error
	metrics http.Handler
	limits  *limiterPool
	proxied bool
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithHealthCheck makes /health report 503 while check fails.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = check
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRateLimit limits each client IP to rps requests per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limits = nil
			return
		}
		s.limits = newLimiterPool(rps, burst)
	}
}

// WithTrustedProxy takes the client address from X-Forwarded-For / X-Real-IP.
// Only enable it behind a proxy that overwrites those headers; otherwise clients
// choose their own rate-limit bucket.
func WithTrustedProxy(trusted bool) Option {
	return func(s *Server) {
		s.proxied = trusted
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates the gateway router. key must match the key the bot signs links with.
func NewHandler(renderer Renderer, key []byte, opts ...Option) http.Handler {
	s := &Server{
		Renderer: renderer,
		key:      key,
		version:  "dev",
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.proxied {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if s.limits != nil {
		r.Use(s.limits.middleware)
	}

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get(backend.RenderPathPrefix+"*", s.Render)
	return r
}

// Render handles GET /render/{document}?token={token}.
func (s *Server) Render(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	raw := strings.TrimPrefix(r.URL.EscapedPath(), backend.RenderPathPrefix)
	text, err := url.PathUnescape(raw)
	if err != nil {
		http.Error(w, "Invalid document encoding", http.StatusBadRequest)
		return
	}
	doc := domain.Document(text)

	if !backend.VerifyToken(s.key, doc, r.URL.Query().Get(backend.TokenParam)) {
		logger.Warn("Render: rejected token", "remote", r.RemoteAddr)
		http.Error(w, "Invalid token", http.StatusForbidden)
		return
	}

	img, err := s.Renderer.Render(r.Context(), doc)
	switch domain.Classify(err) {
	case domain.OutcomeImage:
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
		_, _ = w.Write(img)
	case domain.OutcomeRenderingFailed:
		var renderErr *domain.RenderError
		errors.As(err, &renderErr)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(renderErr.Log))
	case domain.OutcomeTimeout:
		logger.Warn("Render: backend timed out")
		http.Error(w, "Renderer timed out", http.StatusGatewayTimeout)
	default:
		logger.Error("Render failed", "err", err)
		http.Error(w, "Renderer unavailable", http.StatusBadGateway)
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("Health check failed", "err", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "texrender-gateway",
		"version": strings.TrimSpace(s.version),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
