package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TokenFastPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_token_fast_path_total",
		Help: "Token lookups served without taking the refresh lock",
	}, []string{"exchange"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_token_refresh_total",
		Help: "Outcomes of the locked refresh protocol",
	}, []string{"exchange", "result"})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinpilot_token_lock_wait_seconds",
		Help:    "Time spent waiting for the per-credential advisory lock",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange"})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_signals_total",
		Help: "Signals by terminal status",
	}, []string{"bot", "status"})

	SignalsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_signals_pushed_total",
		Help: "Signals appended to bot queues",
	}, []string{"bot"})

	PoisonEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_queue_poison_total",
		Help: "Malformed queue entries that were dropped",
	}, []string{"bot"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_trades_total",
		Help: "Per-subscriber trade attempts",
	}, []string{"status", "side"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpilot_risk_rejects_total",
		Help: "Total risk gate rejections",
	}, []string{"reason"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinpilot_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Serve exposes /metrics on addr for worker processes. It blocks until the listener fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
