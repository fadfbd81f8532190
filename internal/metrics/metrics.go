// Package metrics holds the Prometheus collectors of the sync engine.
// Collectors are nil until Init runs, and every helper tolerates that so
// tests and tools can run without a registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Gauges
	SubscriptionsOpen prometheus.Gauge
	ScopesOpen        prometheus.Gauge

	// Counters
	SubscriptionAttach *prometheus.CounterVec // result: opened|reused|failed
	OptimisticOutcomes *prometheus.CounterVec // outcome: reconciled|rolled_back|expired
	Sends              *prometheus.CounterVec // result: ok|invalid|blocked|failed
	RelayEnvelopes     *prometheus.CounterVec // direction: published|received|skipped|dropped
	BulkLoads          *prometheus.CounterVec // result: ok|fallback|failed|stale
	StyleWrites        *prometheus.CounterVec // source

	// Histograms (seconds)
	SendDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SubscriptionsOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatsync_subscriptions_open", Help: "Underlying push subscriptions currently open"})
		ScopesOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatsync_scopes_open", Help: "Mounted scope handles"})
		SubscriptionAttach = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_subscription_attach_total", Help: "Subscription attach calls by result"}, []string{"result"})
		OptimisticOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_optimistic_outcomes_total", Help: "Settled optimistic echoes by outcome"}, []string{"outcome"})
		Sends = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_sends_total", Help: "Send pipeline runs by result"}, []string{"result"})
		RelayEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_relay_envelopes_total", Help: "Broadcast relay envelopes by direction"}, []string{"direction"})
		BulkLoads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_bulk_loads_total", Help: "Scope bulk loads by result"}, []string{"result"})
		StyleWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatsync_style_cache_writes_total", Help: "Style cache writes by source"}, []string{"source"})
		SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatsync_send_duration_seconds", Help: "Send pipeline duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// Inc increments the labelled counter if metrics are initialized.
func Inc(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

// AddGauge adds delta to g if metrics are initialized.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// ObserveSince records the time elapsed since start.
func ObserveSince(obs prometheus.Observer, start time.Time) {
	if obs != nil {
		obs.Observe(time.Since(start).Seconds())
	}
}
