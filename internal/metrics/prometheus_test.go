package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.Attempt("generate", "groq", "ok", 0.1)
	m.CacheLookup("generate", true)
	m.GateOutcome("COMPLETED")
	m.Evidence(0, true)
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("s1")
	m.Attempt("generate", "groq", "rate_limit", 0.2)
	m.Attempt("generate", "groq", "rate_limit", 0.2)
	m.CacheLookup("generate", false)
	m.Evidence(0, true)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("generate", "groq", "rate_limit")); got != 2 {
		t.Errorf("Expected 2 attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.EvidenceNull); got != 1 {
		t.Errorf("Expected 1 null evidence outcome, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "casescribe_provider_attempts_total") {
		t.Error("Expected provider attempts in exposition output")
	}
}
