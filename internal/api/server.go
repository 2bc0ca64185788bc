package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	apimw "github.com/pixelated-empathy/bias-engine/internal/api/middleware"
	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// Server is the HTTP surface over the analysis engine.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        config.HTTPConfig
	engine     EngineAPI
	logger     *logging.Logger
}

// New creates a server exposing engine at cfg.Addr.
func New(cfg *config.Config, engine EngineAPI, logger *logging.Logger) *Server {
	s := &Server{
		cfg:    cfg.HTTP,
		engine: engine,
		logger: logger.WithComponent("api"),
	}

	s.router = s.setupRouter(cfg)
	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRouter(cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(processingTime)
	r.Use(s.loggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.RequestTimeout()))

	if len(s.cfg.AllowedOrigins) > 0 {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Cache-Hit", "X-Processing-Time-Ms"},
			AllowCredentials: true,
			MaxAge:           300,
		})
		r.Use(corsMiddleware.Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.BearerAuth(s.cfg.AuthToken))
		r.Use(apimw.NewRateLimiter(s.cfg.RateLimitPerMinute).Handler)

		r.Post("/analyze", s.handleAnalyze)
		r.Get("/analyze", s.handleGetAnalysis)
		r.Post("/analyze/explain", s.handleExplain)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/performance", s.handlePerformance)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/alerts/{id}/resolve", s.handleResolveAlert)
		r.Post("/thresholds", s.handleUpdateThresholds)
		r.Get("/report", s.handleReport)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr)
		}()

		next.ServeHTTP(ww, r)
	})
}

// processingTime stamps X-Processing-Time-Ms on every response so all
// routes report their latency, not only the ones that measure it
// themselves.
func processingTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timedWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

// timedWriter sets the header just before the first write. A handler
// that already set its own value keeps it.
type timedWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (t *timedWriter) WriteHeader(code int) {
	t.stamp()
	t.ResponseWriter.WriteHeader(code)
}

func (t *timedWriter) Write(b []byte) (int, error) {
	t.stamp()
	return t.ResponseWriter.Write(b)
}

func (t *timedWriter) stamp() {
	if t.stamped {
		return
	}
	t.stamped = true
	if t.Header().Get("X-Processing-Time-Ms") == "" {
		t.Header().Set("X-Processing-Time-Ms",
			strconv.FormatInt(time.Since(t.start).Milliseconds(), 10))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}
