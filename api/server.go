/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     One zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/requests/*       Leave request lifecycle
  /api/working-days     Working-time calculator
  /api/balances/*       Balance reads
  /api/admin/*          Balance provisioning
  /health               Store health

SECURITY NOTE:
  Authentication happens upstream; the identity provider sets X-Actor-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the cross-cutting settings of the router.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Put("/{id}", h.EditRequest)
			r.Post("/{id}/submit", h.SubmitRequest)
			r.Post("/{id}/decision", h.DecideRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Post("/working-days", h.WorkingDays)

		r.Get("/balances/{userId}/{year}/{type}", h.GetBalance)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/balances", h.ProvisionBalance)
		})
	})

	return r
}

// requestLogger logs method, path, status, latency and request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("actor_id", r.Header.Get(ActorHeader)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
