// Package server exposes the order book, valuation, trade execution and
// notification feed over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/server/handler"
	"github.com/alanyoungcy/otcdesk/internal/server/middleware"
	"github.com/alanyoungcy/otcdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int
	RateWindow  time.Duration
	// WriteTimeout must cover a trade's confirmation wait.
	WriteTimeout time.Duration
}

// Handlers aggregates the route handlers. Nil optional handlers leave
// their routes unregistered.
type Handlers struct {
	Health        *handler.HealthHandler
	Orders        *handler.OrderHandler
	Notifications *handler.NotificationHandler
	Trades        *handler.TradeHandler
	Events        *handler.EventHandler // optional
	Metrics       http.Handler          // optional
}

// Server is the headless HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("GET /api/owners/{owner}/orders", handlers.Orders.OwnerHistory)

	mux.HandleFunc("GET /api/notifications", handlers.Notifications.List)
	mux.HandleFunc("GET /api/notifications/unread", handlers.Notifications.Unread)
	mux.HandleFunc("POST /api/notifications/read-all", handlers.Notifications.ReadAll)
	mux.HandleFunc("POST /api/notifications/{tx}/toggle", handlers.Notifications.Toggle)

	mux.HandleFunc("POST /api/trades", handlers.Trades.Execute)
	mux.HandleFunc("POST /api/trades/rescale", handlers.Trades.Rescale)
	mux.HandleFunc("POST /api/trades/quote", handlers.Trades.Quote)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events/{channel}", handlers.Events.Recent)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
