package metrics

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// Registry holds the rifa collectors; /metrics serves only this registry.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rifa",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rifa",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	checkouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "checkout",
		Name:      "initiated_total",
		Help:      "Checkout initiations by result.",
	}, []string{"result"})

	reconciles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "reconcile",
		Name:      "outcomes_total",
		Help:      "Reconciliation calls by outcome.",
	}, []string{"outcome"})

	reconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rifa",
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Duration of reconciliation calls including the gateway round trip.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"outcome"})

	gatewayErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "gateway",
		Name:      "errors_total",
		Help:      "Payment gateway failures by operation.",
	}, []string{"op"})

	draws = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "draw",
		Name:      "attempts_total",
		Help:      "Draw attempts by result.",
	}, []string{"result"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rifa",
		Subsystem: "notifier",
		Name:      "messages_total",
		Help:      "Admin notifications by event type and result.",
	}, []string{"event", "result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		checkouts,
		reconciles,
		reconcileDuration,
		gatewayErrors,
		draws,
		notifications,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency labelled by the chi
// route pattern, so path parameters do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordCheckout(result string) { checkouts.WithLabelValues(result).Inc() }

func RecordReconcile(outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	reconciles.WithLabelValues(outcome).Inc()
	reconcileDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordGatewayError(op string) { gatewayErrors.WithLabelValues(op).Inc() }

func RecordDraw(result string) { draws.WithLabelValues(result).Inc() }

func RecordNotification(event string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	notifications.WithLabelValues(event, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
