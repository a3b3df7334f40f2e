package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.FrameQueued()
	m.FrameQueued()
	m.FrameDropped()
	m.EngineError()
	m.SessionFinished(OutcomeCopied)
	m.SessionFinished(OutcomeCopied)
	m.SessionFinished(OutcomeEmpty)
	m.SetRecording(true)

	if got := testutil.ToFloat64(m.FramesQueued); got != 2 {
		t.Fatalf("unexpected queued frames: %v", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped); got != 1 {
		t.Fatalf("unexpected dropped frames: %v", got)
	}
	if got := testutil.ToFloat64(m.EngineErrors); got != 1 {
		t.Fatalf("unexpected engine errors: %v", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues(OutcomeCopied)); got != 2 {
		t.Fatalf("unexpected copied sessions: %v", got)
	}
	if got := testutil.ToFloat64(m.Recording); got != 1 {
		t.Fatalf("expected recording gauge set")
	}
	m.SetRecording(false)
	if got := testutil.ToFloat64(m.Recording); got != 0 {
		t.Fatalf("expected recording gauge cleared")
	}
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.EngineError()
	if got := testutil.ToFloat64(b.EngineErrors); got != 0 {
		t.Fatalf("registries leaked between instances: %v", got)
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFeed(20 * time.Millisecond)
	m.FrameDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{
		"hotmic_audio_frames_dropped_total 1",
		"hotmic_engine_feed_duration_seconds_count 1",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %q in exposition:\n%s", name, body)
		}
	}
}
