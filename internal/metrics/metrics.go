// Package metrics exposes the prometheus collectors for generation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kindle"

var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generations_total",
		Help:      "Generation calls by outcome",
	}, []string{"status"})

	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_generated_total",
		Help:      "The total number of tokens sampled",
	})

	PromptTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prompt_tokens_total",
		Help:      "The total number of seed tokens prefilled",
	})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Wall time of complete generation calls",
		Buckets:   prometheus.DefBuckets,
	})

	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "forward_duration_seconds",
		Help:      "Histogram of forward pass times",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"phase"})

	TokensPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tokens_per_second",
		Help:      "Decode throughput of the last generation",
	})

	KVCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "kv_cache_bytes",
		Help:      "KV cache size of the last finished session",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently generating",
	})

	ContextLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "context_length_tokens",
		Help:      "Distribution of final sequence lengths",
		Buckets:   []float64{8, 32, 128, 256, 512, 1024, 2048, 4096},
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "numerical_instability_total",
		Help:      "Total number of NaN/Inf values detected in logits",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_errors_total",
		Help:      "Requests rejected before any computation",
	}, []string{"operation", "error_type"})
)

// RecordGeneration records a finished generation call.
func RecordGeneration(status string, promptTokens, generated int, duration time.Duration) {
	GenerationsTotal.WithLabelValues(status).Inc()
	PromptTokens.Add(float64(promptTokens))
	TokensGenerated.Add(float64(generated))
	GenerationDuration.Observe(duration.Seconds())
	if generated > 0 && duration > 0 {
		TokensPerSecond.Set(float64(generated) / duration.Seconds())
	}
}

func RecordForward(phase string, duration time.Duration) {
	ForwardDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func RecordKVCache(bytes int64) {
	KVCacheBytes.Set(float64(bytes))
}

func RecordContextLength(tokens int) {
	ContextLength.Observe(float64(tokens))
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// SessionStarted increments the active session gauge and returns the matching
// decrement.
func SessionStarted() func() {
	ActiveSessions.Inc()
	return ActiveSessions.Dec
}
