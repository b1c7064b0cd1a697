package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveEvent("help", "replied")
	m.ObserveEvent("help", "replied")
	m.SchedulerRejected()
	m.ObserveAI("text", time.Now(), errors.New("boom"))
	m.TrackSessions(func() int { return 3 })
	m.TrackPending(func() int { return 1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`relaybot_events_total{route="help",status="replied"} 2`,
		`relaybot_scheduler_rejected_total 1`,
		`relaybot_ai_request_duration_seconds_count{capability="text",result="error"} 1`,
		`relaybot_sessions 3`,
		`relaybot_scheduler_pending 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("help", "replied")
	m.SchedulerRejected()
	m.ObserveAI("vision", time.Now(), nil)
	m.TrackSessions(func() int { return 1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}
