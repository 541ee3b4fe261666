package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "route_watch"

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cycles_total", Help: "Completed fetch-match-notify cycles by result"},
		[]string{"result"},
	)
	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cycles_skipped_total", Help: "Ticks skipped because a cycle was still running"})
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one cycle",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	RoutesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routes_fetched_total", Help: "Routes normalized from upstream payloads by caller"},
		[]string{"caller"},
	)
	RoutesMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routes_malformed_total", Help: "Upstream entries dropped during normalization by caller"},
		[]string{"caller"},
	)
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Route and search pairs that matched"})

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification attempts by status"},
		[]string{"status"},
	)
	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ledger_conflicts_total", Help: "Ledger inserts that found the ride already recorded"})
	HubClients      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "hub_clients", Help: "Connected websocket listeners"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

const (
	CallerCycle = "cycle"
	CallerLive  = "live"
)

type callerKey struct{}

// WithCaller tags ctx with who is fetching, so upstream counters for the
// cycle stay separate from dashboard reads.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerOf returns the tag set by WithCaller, defaulting to CallerCycle.
func CallerOf(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey{}).(string); ok && c != "" {
		return c
	}
	return CallerCycle
}
