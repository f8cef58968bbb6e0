package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
)

const namespace = "optionflow"

// SchedulerStats is satisfied by *scheduler.Scheduler.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// CacheStats is satisfied by *bars.Resolver.
type CacheStats interface {
	CacheStats() (hits, misses int64)
}

// ClientCounter is satisfied by *ws.Hub.
type ClientCounter interface {
	ClientCount() int
}

// Metrics owns a private registry so several servers can coexist in
// one process.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	qualifying   prometheus.Counter
	premium      *prometheus.CounterVec
	profiles     *prometheus.CounterVec
}

// NewMetrics registers request, scan and profile metrics plus gauges
// read from the given sources. Any source may be nil.
func NewMetrics(sched SchedulerStats, cache CacheStats, clients ClientCounter) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Flow scans by outcome.",
		}, []string{"result"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of flow scans.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		qualifying: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualifying_trades_total",
			Help:      "Trades that matched a tier.",
		}),
		premium: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualifying_premium_dollars_total",
			Help:      "Premium of qualifying trades by option kind.",
		}, []string{"kind"}),
		profiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gamma_profiles_total",
			Help:      "Gamma profile requests by outcome.",
		}, []string{"result"}),
	}

	if sched != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Requests waiting for dispatch.",
		}, func() float64 { return float64(sched.Stats().QueueDepth) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "in_flight",
			Help:      "Requests currently executing.",
		}, func() float64 { return float64(sched.Stats().InFlight) })
		for _, p := range []scheduler.Priority{scheduler.Interactive, scheduler.Feature, scheduler.Background} {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "scheduler",
				Name:        "queued",
				Help:        "Queued requests by priority.",
				ConstLabels: prometheus.Labels{"priority": p.String()},
			}, func() float64 { return float64(sched.Stats().ByPriority[p]) })
		}
	}
	if cache != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bar_cache",
			Name:      "hits_total",
			Help:      "Minute-bar cache hits.",
		}, func() float64 { h, _ := cache.CacheStats(); return float64(h) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bar_cache",
			Name:      "misses_total",
			Help:      "Minute-bar cache misses.",
		}, func() float64 { _, m := cache.CacheStats(); return float64(m) })
	}
	if clients != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected flow stream clients.",
		}, func() float64 { return float64(clients.ClientCount()) })
	}

	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// ObserveScan records one scan. A nil receiver is a no-op.
func (m *Metrics) ObserveScan(report *service.Report, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(elapsed.Seconds())

	switch {
	case err == nil:
		m.scans.WithLabelValues("ok").Inc()
	case errors.Is(err, scanner.ErrUpstreamUnreachable):
		m.scans.WithLabelValues("unreachable").Inc()
	default:
		m.scans.WithLabelValues("error").Inc()
	}

	if report == nil {
		return
	}
	m.qualifying.Add(float64(report.Summary.Trades))
	m.premium.WithLabelValues("call").Add(report.Summary.CallPremium)
	m.premium.WithLabelValues("put").Add(report.Summary.PutPremium)
}

// ObserveProfile records one gamma profile request.
func (m *Metrics) ObserveProfile(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.profiles.WithLabelValues("error").Inc()
		return
	}
	m.profiles.WithLabelValues("ok").Inc()
}
