// Package httpapi exposes the register, display and approval surfaces over
// HTTP and websockets.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/fulfillment"
	"github.com/roach88/tillsync/internal/projection"
)

// Server routes requests to the checkout and fulfillment services.
type Server struct {
	sessions *checkout.Service
	orders   *fulfillment.Engine
	stock    *projection.StockPublisher
	auth     *Authenticator
	health   func(context.Context) error
	logger   *slog.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck sets the check run by /healthz.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestTimeout bounds non-streaming requests. Default 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer creates a Server.
func NewServer(sessions *checkout.Service, orders *fulfillment.Engine, stock *projection.StockPublisher, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		orders:   orders,
		stock:    stock,
		auth:     auth,
		logger:   slog.Default(),
		timeout:  30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		// Streaming endpoints are exempt from the request timeout.
		r.Get("/sessions/{id}/ws", s.handleSessionStream)
		r.Get("/items/{id}/ws", s.handleStockStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleCashier, RoleAdmin))
				r.Post("/sessions", s.handleCreateSession)
				r.Put("/sessions/{id}/cart", s.handleUpdateCart)
				r.Post("/sessions/{id}/payment", s.handleBeginPayment)
				r.Post("/sessions/{id}/close", s.handleCloseSession)
				r.Post("/orders/{id}/approve", s.handleApproveOrder)
				r.Post("/orders/{id}/reject", s.handleRejectOrder)
			})

			r.Get("/sessions/{id}", s.handleGetSession)
			r.Post("/orders", s.handleSubmitOrder)
			r.Get("/orders/{id}", s.handleGetOrder)

			r.With(RequireRole(RoleAdmin)).Post("/items/{id}/restock", s.handleRestock)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
