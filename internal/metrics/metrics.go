// Package metrics provides Prometheus instrumentation for ciabot. It exposes
// counters for the message pipeline, command handling and platform calls,
// plus a small HTTP status server.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound messages by outcome: "ignored", "gated",
	// "skipped", "too_long", "duplicate", "redacted" or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_messages_total",
		Help: "Total number of inbound messages processed, by outcome",
	}, []string{"outcome"})

	// GatedTotal counts messages the gate rejected, by reason.
	GatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_gated_total",
		Help: "Messages excluded from redaction, by gate reason",
	}, []string{"reason"})

	// RedactionsTotal counts replaced messages by cause: "trigger" or "random".
	RedactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_redactions_total",
		Help: "Messages replaced with a redacted copy, by cause",
	}, []string{"cause"})

	// RedactedWords records how many words were replaced per redaction.
	RedactedWords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciabot_redacted_words",
		Help:    "Number of words replaced in a redacted message",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// ReactionsTotal counts reactions added, by rule.
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_reactions_total",
		Help: "Letter reactions added to messages, by rule",
	}, []string{"rule"})

	// CommandsTotal counts slash commands by name and result: "ok",
	// "denied" or "error".
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_commands_total",
		Help: "Slash commands handled, by command and result",
	}, []string{"command", "result"})

	// PlatformErrors counts failed platform calls by operation: "send",
	// "delete" or "react".
	PlatformErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_platform_errors_total",
		Help: "Failed calls to the chat platform, by operation",
	}, []string{"op"})

	// HandleLatency records time spent handling one inbound message.
	HandleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciabot_handle_latency_seconds",
		Help:    "Inbound message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// SettingsReloads counts settings reloads by source: "command",
	// "file" or "peer".
	SettingsReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciabot_settings_reloads_total",
		Help: "Settings reloads, by what triggered them",
	}, []string{"source"})

	// TimeoutActive is 1 while an admin timeout suspends redaction. It is
	// computed on every scrape from the source given to TrackTimeout.
	TimeoutActive = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ciabot_timeout_active",
		Help: "Whether an admin timeout is currently suspending redaction",
	}, timeoutActive)
)

type trackedSettings struct{ src SettingsSource }

var timeoutSource atomic.Pointer[trackedSettings]

// TrackTimeout makes TimeoutActive report the timeout state of src.
func TrackTimeout(src SettingsSource) {
	timeoutSource.Store(&trackedSettings{src: src})
}

func timeoutActive() float64 {
	t := timeoutSource.Load()
	if t == nil || t.src == nil {
		return 0
	}
	if t.src.Snapshot().TimedOut(time.Now()) {
		return 1
	}
	return 0
}

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		GatedTotal,
		RedactionsTotal,
		RedactedWords,
		ReactionsTotal,
		CommandsTotal,
		PlatformErrors,
		HandleLatency,
		SettingsReloads,
		TimeoutActive,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
