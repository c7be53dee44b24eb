/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. accessLog:  slog request line plus Prometheus request metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the resident frontend
  6. Timeout:    Per-request deadline (RequestTimeout)

ROUTE GROUPS:
  /transactions/webhook        Public; authenticated by signature, not token
  /transactions/create-session Bearer token, RESIDENT
  /user/*                      Bearer token, RESIDENT
  /admin/*                     Bearer token, ADMIN
  /healthz, /metrics           Public
  /mock-checkout/*             Only when running without Stripe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}
	if h.MockCheckout != nil {
		r.Get("/mock-checkout/{sessionID}", h.MockCheckoutPage)
	}

	r.Route("/transactions", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Use(RequireRole(RoleResident))
			r.Post("/create-session", h.CreateSession)
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(RequireRole(RoleResident))
		r.Get("/invoices", h.ListMyInvoices)
		r.Get("/invoices/{id}", h.GetMyInvoice)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(RequireRole(RoleAdmin))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/all", h.ListTransactions)
			r.Delete("/delete", h.DeleteTransaction)
			r.Put("/update-status", h.UpdateTransactionStatus)
		})

		r.Get("/settings", h.ListSettings)
		r.Put("/settings/{key}", h.PutSetting)

		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs/{name}/run", h.RunJob)
	})

	return r
}

// accessLog logs one line per request and records request metrics under
// the matched route pattern, so path parameters do not explode label
// cardinality.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.Metrics.RecordHTTPRequest(r.Method, route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.Logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", requestID(r),
		)
	})
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
