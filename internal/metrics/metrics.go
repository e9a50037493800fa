package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	StatusSuccess            = "success"
	StatusValidationFailed   = "validation_failed"
	StatusDuplicate          = "duplicate"
	StatusWeakPassword       = "weak_password"
	StatusMissingDefaultRole = "missing_default_role"
	StatusInvalidCredentials = "invalid_credentials"
	StatusError              = "error"
)

// Registry holds every collector the service exports
type Registry struct {
	RegistrationsTotal  *prometheus.CounterVec
	LoginAttemptsTotal  *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_accounts_registrations_total",
			Help: "Registration attempts by outcome",
		}, []string{"status"}),
		LoginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_accounts_login_attempts_total",
			Help: "Login attempts by outcome",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_accounts_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shop_accounts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		r.RegistrationsTotal,
		r.LoginAttemptsTotal,
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
	)
	return r
}

// Registration counts one registration outcome. Safe on a nil Registry.
func (r *Registry) Registration(status string) {
	if r == nil {
		return
	}
	r.RegistrationsTotal.WithLabelValues(status).Inc()
}

// Login counts one login outcome. Safe on a nil Registry.
func (r *Registry) Login(status string) {
	if r == nil {
		return
	}
	r.LoginAttemptsTotal.WithLabelValues(status).Inc()
}

// Middleware records request count and latency labelled by the matched
// chi route pattern, so path parameters do not explode cardinality.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		r.HTTPRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.HTTPRequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
