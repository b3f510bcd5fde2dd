package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/trader"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Port           int
	TradeRateLimit float64
	TradeBurst     int
}

type Server struct {
	session *trader.Session
	hub     *Hub
	limiter *rate.Limiter
	logger  *logrus.Logger
	port    int
}

func NewServer(session *trader.Session, bus *events.Bus, logger *logrus.Logger, opts Options) (*Server, error) {
	hub, err := NewHub(bus, session.Snapshot, logger)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	return &Server{
		session: session,
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(opts.TradeRateLimit), opts.TradeBurst),
		logger:  logger,
		port:    opts.Port,
	}, nil
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/assets", s.handleAssets)
	r.Get("/api/expirations", s.handleExpirations)
	r.Get("/api/prices", s.handlePrices)
	r.Get("/api/prices/summary", s.handlePriceSummary)
	r.Get("/api/account", s.handleAccount)
	r.Get("/api/terms", s.handleTerms)

	r.Route("/api/trades", func(r chi.Router) {
		r.Get("/", s.handleListTrades)
		r.With(s.rateLimitMiddleware).Post("/", s.handlePlaceTrade)
		r.Get("/export", s.handleExportTrades)
		r.Get("/{id}", s.handleGetTrade)
	})

	r.Get("/ws", s.hub.HandleWS)

	return r
}

// Start serves the API until ctx is done, then drains connections for up
// to five seconds.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	defer func() {
		if err := s.hub.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to detach WebSocket hub")
		}
	}()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %d", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("Trade rate limit exceeded")
			s.writeError(w, http.StatusTooManyRequests, "too many trade requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
