package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"
	"github.com/boddenberg/commission-tracker-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

type nowFunc interface {
	Now() time.Time
}

// Options configures the HTTP surface around the API.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.CommissionService, metrics *observability.Metrics, logger *zap.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(metrics.HTTPMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)

		// GET /v1/commissions?from=&to=&refresh=
		r.Get("/commissions", reportHandler(svc, logger))

		// GET /v1/commissions/agents
		// GET /v1/commissions/agents/{agentName}
		r.Get("/commissions/agents", agentSummariesHandler(svc, logger))
		r.Get("/commissions/agents/{agentName}", agentSummaryHandler(svc, logger))

		// GET /v1/dashboard?from=&to=&top=
		r.Get("/dashboard", dashboardHandler(svc, logger))

		// POST /v1/commission-runs
		r.Post("/commission-runs", createRunHandler(svc, logger))

		// GET /v1/rates/normalize?rate=
		r.Get("/rates/normalize", normalizeRateHandler(svc, logger))

		// GET /v1/metrics/allocator
		r.Get("/metrics/allocator", allocatorMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Probes
// ============================================================

func healthzHandler(svc *service.CommissionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health(r.Context()))
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func allocatorMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAllocatorSnapshot())
	}
}
