// Package metrics exposes Prometheus counters for the content and chat paths.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ItemsFetched  *prometheus.CounterVec
	ItemsRejected *prometheus.CounterVec
	Pops          *prometheus.CounterVec
	Refills       *prometheus.CounterVec
	PoolSize      *prometheus.GaugeVec

	Deliveries *prometheus.CounterVec

	Replies         *prometheus.CounterVec
	GenerationTime  prometheus.Histogram
	QueuedChatTasks prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ItemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_items_fetched_total",
			Help: "Items accepted into a content pool",
		}, []string{"category"}),
		ItemsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_items_rejected_total",
			Help: "Fetched items dropped as malformed or filtered",
		}, []string{"category"}),
		Pops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_cache_pops_total",
			Help: "Pop requests by outcome",
		}, []string{"category", "result"}),
		Refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_cache_refills_total",
			Help: "Pool fills by outcome",
		}, []string{"category", "result"}),
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memebot_cache_pool_size",
			Help: "Pool length observed after the last fill or pop",
		}, []string{"category"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_autopost_deliveries_total",
			Help: "Scheduled deliveries by outcome",
		}, []string{"result"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebot_chat_replies_total",
			Help: "Conversation replies by outcome",
		}, []string{"result"}),
		GenerationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memebot_generation_duration_seconds",
			Help:    "Reply generation latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		QueuedChatTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memebot_chat_queued_tasks",
			Help: "Conversation tasks waiting across all channels",
		}),
	}
	m.registry.MustRegister(
		m.ItemsFetched, m.ItemsRejected, m.Pops, m.Refills, m.PoolSize,
		m.Deliveries, m.Replies, m.GenerationTime, m.QueuedChatTasks,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Fetched records a fill outcome: accepted and rejected item counts.
func (m *Metrics) Fetched(category string, accepted, rejected int) {
	if m == nil {
		return
	}
	m.ItemsFetched.WithLabelValues(category).Add(float64(accepted))
	m.ItemsRejected.WithLabelValues(category).Add(float64(rejected))
}

// Pop records a pop outcome ("hit", "miss" or "error").
func (m *Metrics) Pop(category, result string) {
	if m == nil {
		return
	}
	m.Pops.WithLabelValues(category, result).Inc()
}

// Refill records a fill outcome ("ok" or "failed").
func (m *Metrics) Refill(category, result string) {
	if m == nil {
		return
	}
	m.Refills.WithLabelValues(category, result).Inc()
}

// Pool records the observed length of a pool.
func (m *Metrics) Pool(category string, size int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues(category).Set(float64(size))
}

// Delivery records a scheduled delivery outcome.
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

// Reply records a conversation reply outcome and its generation latency.
func (m *Metrics) Reply(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(result).Inc()
	m.GenerationTime.Observe(took.Seconds())
}

// Queued adjusts the number of waiting conversation tasks.
func (m *Metrics) Queued(delta int) {
	if m == nil {
		return
	}
	m.QueuedChatTasks.Add(float64(delta))
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
