package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"aura-gateway/internal/auth"
	"aura-gateway/internal/util"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Telemetry *TelemetryHandler
	Alerts    *AlertHandler
	Dashboard *DashboardHandler
	Health    *HealthHandler
	// Metrics is served at MetricsPath when non-nil.
	Metrics http.Handler
}

type RouterOptions struct {
	AllowedOrigins []string
	MetricsPath    string
	RequestTimeout time.Duration
	// RequireHTTPS rejects plaintext requests except health probes.
	RequireHTTPS bool
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.URL.Path != "/health" && r.URL.Path != "/ready" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and routes.
// Every business route carries exactly one role requirement.
func NewRouter(h Handlers, gate *auth.Gate, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if opts.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		router.Use(middleware.Timeout(opts.RequestTimeout))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.Health != nil {
		router.Get("/health", h.Health.Health)
		router.Get("/ready", h.Health.Ready)
	}
	if h.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, h.Metrics)
	}

	// Agent telemetry
	router.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.RoleAgent))
		r.Post("/telemetry", h.Telemetry.SubmitTelemetry)
		r.Post("/api/v1/agent/telemetry", h.Telemetry.SubmitTelemetry)
	})

	// Scoring engine callback
	router.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.RoleInternal))
		r.Post("/alert-ingestion", h.Alerts.IngestAlert)
		r.Post("/api/v1/internal/alert-ingestion", h.Alerts.IngestAlert)
	})

	if h.Dashboard != nil {
		router.Route("/api/v1/dashboard", func(r chi.Router) {
			r.Use(gate.Require(auth.RoleUser))
			h.Dashboard.RegisterRoutes(r)
		})
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("user_agent", util.SanitizeLogValue(r.UserAgent())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
