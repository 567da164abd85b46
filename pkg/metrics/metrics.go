// Package metrics holds the Prometheus collectors for the recommendation pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "advisor"

var (
	// Reasoning provider metrics
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Reasoning provider calls by outcome",
		},
		[]string{"backend", "tier", "outcome"}, // outcome: ok|timeout|invalid|error
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Reasoning provider latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 10, 15},
		},
		[]string{"backend", "tier"},
	)

	ProviderTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by reasoning calls",
		},
		[]string{"backend", "type"}, // type: prompt|completion
	)

	ValidationRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_validation_retries_total",
			Help:      "Responses that failed schema validation and were retried",
		},
		[]string{"backend"},
	)

	// Budget metrics
	TierSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_selections_total",
			Help:      "Tier decisions, after budget downgrades",
		},
		[]string{"requested", "selected"}, // selected: critical|standard|bulk|skip
	)

	SpendUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Settled reasoning spend in USD",
		},
		[]string{"tier"},
	)

	BudgetUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_usage_pct",
			Help:      "Highest of daily and monthly budget usage, percent",
		},
	)

	// Cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Recommendation cache lookups",
		},
		[]string{"result"}, // result: hit|l2_hit|miss|shared
	)

	// Pipeline metrics
	Degradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Positions aggregated with a degraded input",
		},
		[]string{"reason"},
	)

	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Aggregated recommendations by action and conflict rule",
		},
		[]string{"action", "rule", "urgency"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "AnalyzePortfolio wall time",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg once. Nil means the default registerer.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			ProviderCalls,
			ProviderLatency,
			ProviderTokens,
			ValidationRetries,
			TierSelections,
			SpendUSD,
			BudgetUsage,
			CacheLookups,
			Degradations,
			Recommendations,
			BatchDuration,
		)
	})
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProvider records one reasoning call.
func ObserveProvider(backend, tier, outcome string, elapsed time.Duration) {
	ProviderCalls.WithLabelValues(backend, tier, outcome).Inc()
	ProviderLatency.WithLabelValues(backend, tier).Observe(elapsed.Seconds())
}
