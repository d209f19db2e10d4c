package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.Submission()
	m.Verification("assigned")
	m.Verification("assigned")
	m.Rejection("unauthorized")

	if got := testutil.ToFloat64(m.Submissions); got != 1 {
		t.Fatalf("expected 1 submission, got %v", got)
	}
	if got := testutil.ToFloat64(m.Verifications.WithLabelValues("assigned")); got != 2 {
		t.Fatalf("expected 2 assigned, got %v", got)
	}
	if got := testutil.ToFloat64(m.Rejections.WithLabelValues("unauthorized")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submission()
	m.Verification("denied")
	m.Welcome()
	m.Panic("message")
}
