package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bot metrics for production monitoring
var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_turns_total",
			Help: "Total number of dialogue turns processed",
		},
		[]string{"outcome"}, // outcome: answered/low_balance/too_many_tokens/timeout/error
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soulai_turn_duration_seconds",
			Help:    "Dialogue turn duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	// Completion API metrics
	CompletionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_completion_requests_total",
			Help: "Total number of chat completion API requests",
		},
		[]string{"model", "status"},
	)

	CompletionRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulai_completion_request_duration_seconds",
			Help:    "Chat completion request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model"},
	)

	CompletionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_completion_retries_total",
			Help: "Total number of retried chat completion attempts",
		},
		[]string{"model"},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_tokens_total",
			Help: "Total number of completion tokens consumed",
		},
		[]string{"model", "type"}, // type: prompt/completion
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_cost_usd_total",
			Help: "Total completion cost charged to users in USD",
		},
		[]string{"model"},
	)

	// Billing metrics
	AdmissionDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soulai_admission_denied_total",
			Help: "Total number of turns refused for low balance",
		},
	)

	CreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_credits_total",
			Help: "Total number of admin balance top-ups",
		},
		[]string{"result"}, // result: success/denied
	)

	// Conversation metrics
	HistoryTrimmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soulai_history_trimmed_messages_total",
			Help: "Total number of history messages dropped to fit the token budget",
		},
	)

	// Session cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_session_cache_lookups_total",
			Help: "Total number of session cache lookups",
		},
		[]string{"kind", "result"}, // kind: chat/account, result: hit/miss
	)

	SessionFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_session_flushes_total",
			Help: "Total number of sessions written back to the store",
		},
		[]string{"kind", "status"},
	)

	// Telegram metrics
	UpdatesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulai_telegram_updates_total",
			Help: "Total number of Telegram updates received",
		},
		[]string{"source"}, // source: webhook/poll
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soulai_worker_active_chats",
			Help: "Current number of chats with a running worker",
		},
	)
)
