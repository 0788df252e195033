package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_login_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Tenant registration counter
	RegistrationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_tenant_registrations_total",
			Help: "Total number of tenant registrations by outcome",
		},
		[]string{"outcome"},
	)

	// OTP lifecycle counter
	OTPCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_otp_events_total",
			Help: "Total number of OTP events",
		},
		[]string{"event"}, // sent, verified, invalid, expired, cooldown, swept
	)

	// Sequence allocation counter
	SequenceAllocationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_sequence_allocations_total",
			Help: "Total number of sequence allocations by counter family and outcome",
		},
		[]string{"family", "outcome"},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_errors_total",
			Help: "Total number of errors returned to clients by code",
		},
		[]string{"code"},
	)

	// Authentication failures by reason
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_auth_errors_total",
			Help: "Total number of authentication and authorization failures by type",
		},
		[]string{"type"},
	)

	// Tenant scoped resource operations
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmadesk_tenant_operations_total",
			Help: "Total number of tenant scoped resource operations",
		},
		[]string{"resource", "operation"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmadesk_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmadesk_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Gauge metrics
var (
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pharmadesk_info",
			Help: "Information about the service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegistrationCounter)
	prometheus.MustRegister(OTPCounter)
	prometheus.MustRegister(SequenceAllocationCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(ErrorCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(TenantOperationCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations:
//
//	defer prometheus.TrackDBOperation("query")()
func TrackDBOperation(operation string) func() {
	startTime := time.Now()
	return func() {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			labels := prometheus.Labels{
				"endpoint": c.Path(),
				"method":   c.Request().Method,
				"status":   status,
			}
			RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			HTTPRequestCounter.With(labels).Inc()

			return err
		}
	}
}

// RecordLogin records a login attempt outcome
func RecordLogin(outcome string) {
	LoginCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordRegistration records a tenant registration outcome
func RecordRegistration(outcome string) {
	RegistrationCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordOTP records an OTP lifecycle event
func RecordOTP(event string) {
	OTPCounter.With(prometheus.Labels{"event": event}).Inc()
}

// RecordOTPs records n OTP lifecycle events at once
func RecordOTPs(event string, n int64) {
	OTPCounter.With(prometheus.Labels{"event": event}).Add(float64(n))
}

// RecordAllocation records a sequence allocation
func RecordAllocation(family, outcome string) {
	SequenceAllocationCounter.With(prometheus.Labels{"family": family, "outcome": outcome}).Inc()
}

// RecordError records an error returned to a client
func RecordError(code string) {
	ErrorCounter.With(prometheus.Labels{"code": code}).Inc()
}

// RecordAuthError records an authentication or authorization failure
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordTenantOperation records a tenant scoped resource operation
func RecordTenantOperation(resource, operation string) {
	TenantOperationCounter.With(prometheus.Labels{"resource": resource, "operation": operation}).Inc()
}
