// Package metrics defines the Prometheus instrumentation for the voice
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the session pipeline.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Utterance metrics
	UtterancesCommitted prometheus.Counter
	UtterancesReady     prometheus.Counter
	UtteranceErrors     *prometheus.CounterVec
	UtteranceDuration   prometheus.Histogram

	// STT metrics
	STTChunksForwarded prometheus.Counter
	STTReconnects      prometheus.Counter
	STTFailures        prometheus.Counter

	// LLM metrics
	LLMRequests    prometheus.Counter
	LLMRetries     prometheus.Counter
	LLMCacheHits   prometheus.Counter
	LLMDuration    prometheus.Histogram
	SummaryRefresh prometheus.Counter
	SummaryErrors  prometheus.Counter
}

// New creates metrics registered against reg. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voiced_active_sessions",
			Help: "Current number of live sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),

		UtterancesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_utterances_committed_total",
			Help: "Total number of utterances committed from final transcripts",
		}),
		UtterancesReady: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_utterances_ready_total",
			Help: "Total number of utterances that reached Ready",
		}),
		UtteranceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiced_utterance_errors_total",
			Help: "Total number of utterances that ended in Error",
		}, []string{"stage"}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiced_utterance_duration_seconds",
			Help:    "Commit-to-Ready duration per utterance",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		STTChunksForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_stt_chunks_forwarded_total",
			Help: "Total number of audio chunks forwarded to the STT provider",
		}),
		STTReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_stt_reconnects_total",
			Help: "Total number of STT stream reconnects",
		}),
		STTFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_stt_failures_total",
			Help: "Total number of STT streams lost after exhausting retries",
		}),

		LLMRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_llm_requests_total",
			Help: "Total number of cleanup requests sent to the model",
		}),
		LLMRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_llm_retries_total",
			Help: "Total number of schema-violation retries",
		}),
		LLMCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_llm_cache_hits_total",
			Help: "Total number of cleanup results served from cache",
		}),
		LLMDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiced_llm_duration_seconds",
			Help:    "Duration of cleanup requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
		SummaryRefresh: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_summary_refreshes_total",
			Help: "Total number of summary refreshes issued",
		}),
		SummaryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiced_summary_errors_total",
			Help: "Total number of failed summary refreshes",
		}),
	}
}
