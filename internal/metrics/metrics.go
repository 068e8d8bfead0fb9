// Package metrics exposes Prometheus instrumentation for playback, speech
// and the audio cache.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcast_active_sessions",
		Help: "Number of playback sessions currently running",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcast_sessions_total",
		Help: "Playback sessions by outcome",
	}, []string{"outcome"}) // completed, stopped, error

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatcast_session_duration_seconds",
		Help:    "Wall-clock duration of playback sessions",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
	})

	// Segment metrics
	segmentsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcast_segments_started_total",
		Help: "Segments published to observers",
	})

	segmentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcast_segments_skipped_total",
		Help: "Segments skipped without speech",
	}, []string{"reason"}) // no_voice, empty

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcast_transitions_total",
		Help: "Playback control operations",
	}, []string{"op"})

	// Speech metrics
	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcast_utterances_total",
		Help: "Utterances by engine and result",
	}, []string{"engine", "result"})

	utteranceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcast_utterance_seconds",
		Help:    "Time from speech request to completion",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"engine"})

	pings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcast_keepalive_pings_total",
		Help: "Silent keep-alive utterances issued",
	})

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcast_cache_lookups_total",
		Help: "Audio cache lookups by level and result",
	}, []string{"level", "result"})
)

// SessionStarted records a session entering playing.
func SessionStarted() {
	activeSessions.Inc()
}

// SessionEnded records the end of a session that reached playing.
func SessionEnded(outcome string, elapsed time.Duration) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(elapsed.Seconds())
}

// SegmentStarted records a published segment.
func SegmentStarted() {
	segmentsStarted.Inc()
}

// SegmentSkipped records a segment that produced no speech.
func SegmentSkipped(reason string) {
	segmentsSkipped.WithLabelValues(reason).Inc()
}

// Transition records a control operation such as pause or seek.
func Transition(op string) {
	transitions.WithLabelValues(op).Inc()
}

// UtteranceFinished records one utterance outcome.
func UtteranceFinished(engine, result string, elapsed time.Duration) {
	utterances.WithLabelValues(engine, result).Inc()
	if result == "ok" {
		utteranceLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
	}
}

// Ping records a keep-alive utterance.
func Ping() {
	pings.Inc()
}

// CacheLookup records a cache hit or miss.
func CacheLookup(level string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(level, result).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Debug("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
