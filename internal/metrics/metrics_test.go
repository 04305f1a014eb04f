package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, reg)

	m.Grade(true)
	m.Grade(true)
	m.Grade(false)
	m.SessionStarted()
	m.Generated(5, time.Second, nil)
	m.Generated(0, time.Second, errors.New("boom"))
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.grades.WithLabelValues("correct")); got != 2 {
		t.Errorf("correct grades = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cardsGenerated); got != 5 {
		t.Errorf("cards generated = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.generationErrors); got != 1 {
		t.Errorf("generation errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Grade(true)
	m.ObserveHTTP("GET", "/", "200", time.Millisecond)
	m.SessionsSwept(2)
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, reg)
	m.ObserveHTTP("GET", "/api/study", "200", 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `autoflash_http_requests_total{method="GET",route="/api/study",status="200"} 1`) {
		t.Errorf("metric missing from exposition:\n%s", w.Body.String())
	}
}
