package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes.
const (
	OutcomeCopied          = "copied"
	OutcomeEmpty           = "empty"
	OutcomeClipboardFailed = "clipboard_failed"
)

// Metrics holds the Prometheus collectors for one process. Each instance
// owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	FramesQueued  prometheus.Counter
	FramesDropped prometheus.Counter
	EngineErrors  prometheus.Counter
	Sessions      *prometheus.CounterVec
	FeedDuration  prometheus.Histogram
	Recording     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FramesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_audio_frames_queued_total",
			Help: "Total number of captured audio frames queued",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_audio_frames_dropped_total",
			Help: "Total number of captured audio frames dropped because the queue was full",
		}),
		EngineErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_engine_errors_total",
			Help: "Total number of recognition engine failures",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotmic_sessions_total",
			Help: "Completed recording sessions by outcome",
		}, []string{"outcome"}),
		FeedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotmic_engine_feed_duration_seconds",
			Help:    "Time spent feeding one batch to the recognition engine",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hotmic_recording",
			Help: "1 while a recording session is active",
		}),
	}
}

// FrameQueued implements audio.QueueObserver.
func (m *Metrics) FrameQueued() { m.FramesQueued.Inc() }

// FrameDropped implements audio.QueueObserver.
func (m *Metrics) FrameDropped() { m.FramesDropped.Inc() }

func (m *Metrics) EngineError() { m.EngineErrors.Inc() }

func (m *Metrics) SessionFinished(outcome string) {
	m.Sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFeed(d time.Duration) {
	m.FeedDuration.Observe(d.Seconds())
}

func (m *Metrics) SetRecording(on bool) {
	if on {
		m.Recording.Set(1)
		return
	}
	m.Recording.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
