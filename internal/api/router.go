// Package api provides the HTTP surface of the forecast arbiter.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gridsight/arbiter-api/internal/api/handlers"
	"github.com/gridsight/arbiter-api/internal/api/middleware"
	"github.com/gridsight/arbiter-api/internal/auth"
	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/obs"
	"github.com/gridsight/arbiter-api/internal/queue"
	"github.com/gridsight/arbiter-api/internal/services"
)

// RouterConfig holds the configuration for the router.
type RouterConfig struct {
	Verifier *auth.Verifier
	DB       *db.DB
	Queue    *queue.Queue
	Metrics  *obs.Metrics

	UserService         *services.UserService
	SiteService         *services.SiteService
	ObservationService  *services.ObservationService
	ForecastService     *services.ForecastService
	CDFForecastService  *services.CDFForecastService
	AggregateService    *services.AggregateService
	ValuesService       *services.ValuesService
	ReportService       *services.ReportService
	RBACService         *services.RBACService
	OrganizationService *services.OrganizationService

	Logger *slog.Logger

	// AllowedOrigins specifies CORS allowed origins.
	// If empty, defaults to environment variable ALLOWED_ORIGINS or localhost only.
	AllowedOrigins []string

	// RequestTimeout is the maximum duration for request processing.
	// Default: 30 seconds
	RequestTimeout time.Duration
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		if envOrigins := os.Getenv("ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = strings.Split(envOrigins, ",")
			for i := range allowedOrigins {
				allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
			}
		} else {
			// Default to localhost only for security
			allowedOrigins = []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			}
		}
	}

	// Global middleware - order matters!
	// 1. RealIP must be first to get correct client IP
	r.Use(chimiddleware.RealIP)

	// 2. Request ID for tracing
	r.Use(middleware.RequestID)

	// 3. Panic recovery (early to catch any middleware panics)
	r.Use(middleware.Recoverer(cfg.Logger))

	// 4. Security headers - applies to all responses
	r.Use(middleware.SecurityHeaders)

	// 5. CORS - must be before other response-writing middleware
	// Note: AllowCredentials requires specific origins, not wildcards
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// 6. Request timeout - after CORS to ensure preflight responses work
	r.Use(chimiddleware.Timeout(requestTimeout))

	// 7. Logging - after timeout to capture accurate durations
	r.Use(middleware.Logger(cfg.Logger))

	// 8. Request metrics
	r.Use(cfg.Metrics.Instrument)

	// 9. Rate limiting
	rateLimiter := middleware.NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	// Create handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Queue, cfg.Logger)
	siteHandler := handlers.NewSiteHandler(cfg.SiteService, cfg.Logger)
	observationHandler := handlers.NewObservationHandler(cfg.ObservationService, cfg.ValuesService, cfg.Logger)
	forecastHandler := handlers.NewForecastHandler(cfg.ForecastService, cfg.ValuesService, cfg.Logger)
	cdfHandler := handlers.NewCDFForecastHandler(cfg.CDFForecastService, cfg.ValuesService, cfg.Logger)
	aggregateHandler := handlers.NewAggregateHandler(cfg.AggregateService, cfg.ValuesService, cfg.Logger)
	reportHandler := handlers.NewReportHandler(cfg.ReportService, cfg.Logger)
	userHandler := handlers.NewUserHandler(cfg.UserService, cfg.RBACService, cfg.Logger)
	roleHandler := handlers.NewRoleHandler(cfg.RBACService, cfg.Logger)
	permissionHandler := handlers.NewPermissionHandler(cfg.RBACService, cfg.Logger)
	organizationHandler := handlers.NewOrganizationHandler(cfg.OrganizationService, cfg.Logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Verifier, cfg.UserService)

	// Probes and metrics (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	// Custom 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":{"detail":["The requested resource was not found"]}}`))
	})

	// Custom 405 handler
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"errors":{"detail":["The request method is not allowed for this resource"]}}`))
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Route("/sites", func(r chi.Router) {
				r.Get("/", siteHandler.List)
				r.Post("/", siteHandler.Create)
				r.Route("/{site_id}", func(r chi.Router) {
					r.Get("/", siteHandler.Get)
					r.Post("/", siteHandler.Update)
					r.Delete("/", siteHandler.Delete)
				})
			})

			r.Route("/observations", func(r chi.Router) {
				r.Get("/", observationHandler.List)
				r.Post("/", observationHandler.Create)
				r.Route("/{observation_id}", func(r chi.Router) {
					r.Get("/", observationHandler.Get)
					r.Post("/", observationHandler.Update)
					r.Delete("/", observationHandler.Delete)
					r.Route("/values", func(r chi.Router) {
						r.Get("/", observationHandler.GetValues)
						r.Post("/", observationHandler.StoreValues)
						r.Get("/latest", observationHandler.GetLatest)
						r.Get("/timerange", observationHandler.GetTimeRange)
						r.Get("/gaps", observationHandler.GetGaps)
					})
				})
			})

			r.Route("/forecasts", func(r chi.Router) {
				r.Get("/", forecastHandler.List)
				r.Post("/", forecastHandler.Create)
				r.Route("/{forecast_id}", func(r chi.Router) {
					r.Get("/", forecastHandler.Get)
					r.Post("/", forecastHandler.Update)
					r.Delete("/", forecastHandler.Delete)
					r.Route("/values", func(r chi.Router) {
						r.Get("/", forecastHandler.GetValues)
						r.Post("/", forecastHandler.StoreValues)
						r.Get("/latest", forecastHandler.GetLatest)
						r.Get("/timerange", forecastHandler.GetTimeRange)
						r.Get("/gaps", forecastHandler.GetGaps)
					})
				})
			})

			r.Route("/cdf_forecasts", func(r chi.Router) {
				r.Get("/", cdfHandler.List)
				r.Post("/", cdfHandler.Create)

				r.Route("/single/{forecast_id}", func(r chi.Router) {
					r.Get("/", cdfHandler.GetSingle)
					r.Route("/values", func(r chi.Router) {
						r.Get("/", cdfHandler.GetSingleValues)
						r.Post("/", cdfHandler.StoreSingleValues)
						r.Get("/latest", cdfHandler.GetSingleLatest)
						r.Get("/timerange", cdfHandler.GetSingleTimeRange)
						r.Get("/gaps", cdfHandler.GetSingleGaps)
					})
				})

				r.Route("/{forecast_id}", func(r chi.Router) {
					r.Get("/", cdfHandler.Get)
					r.Post("/", cdfHandler.Update)
					r.Delete("/", cdfHandler.Delete)
				})
			})

			r.Route("/aggregates", func(r chi.Router) {
				r.Get("/", aggregateHandler.List)
				r.Post("/", aggregateHandler.Create)
				r.Route("/{aggregate_id}", func(r chi.Router) {
					r.Get("/", aggregateHandler.Get)
					r.Post("/", aggregateHandler.Update)
					r.Delete("/", aggregateHandler.Delete)
					r.Get("/values", aggregateHandler.GetValues)
				})
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/", reportHandler.List)
				r.Post("/", reportHandler.Create)
				r.Route("/{report_id}", func(r chi.Router) {
					r.Get("/", reportHandler.Get)
					r.Delete("/", reportHandler.Delete)
					r.Get("/recompute", reportHandler.Recompute)
					r.Post("/status/{status}", reportHandler.SetStatus)
					r.Post("/raw", reportHandler.StoreRaw)
					r.Get("/values", reportHandler.GetValues)
					r.Post("/values", reportHandler.StoreValue)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Get("/current", userHandler.Current)
				r.Route("/{user_id}", func(r chi.Router) {
					r.Get("/", userHandler.Get)
					r.Post("/roles/{role_id}", userHandler.GrantRole)
					r.Delete("/roles/{role_id}", userHandler.RevokeRole)
				})
			})

			r.Route("/roles", func(r chi.Router) {
				r.Get("/", roleHandler.List)
				r.Post("/", roleHandler.Create)
				r.Route("/{role_id}", func(r chi.Router) {
					r.Get("/", roleHandler.Get)
					r.Delete("/", roleHandler.Delete)
					r.Post("/permissions/{permission_id}", roleHandler.AddPermission)
					r.Delete("/permissions/{permission_id}", roleHandler.RemovePermission)
				})
			})

			r.Route("/permissions", func(r chi.Router) {
				r.Get("/", permissionHandler.List)
				r.Post("/", permissionHandler.Create)
				r.Route("/{permission_id}", func(r chi.Router) {
					r.Get("/", permissionHandler.Get)
					r.Delete("/", permissionHandler.Delete)
					r.Post("/objects/{object_id}", permissionHandler.AddObject)
					r.Delete("/objects/{object_id}", permissionHandler.RemoveObject)
				})
			})

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", organizationHandler.List)
				r.Post("/", organizationHandler.Create)
			})
		})
	})

	return r
}
