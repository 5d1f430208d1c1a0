package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, m *Metrics, name string) []*dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()
		}
	}
	return nil
}

func TestNewMetrics(t *testing.T) {
	if m := NewMetrics(); m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
}

func TestRecordRequest(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("GET", "default", 200, 10*time.Millisecond, 0, 312)
	m.RecordRequest("GET", "default", 200, 10*time.Millisecond, 0, 312)
	m.RecordRequest("POST", "fail", 404, time.Millisecond, 64, 180)

	metrics := gather(t, m, "llpeer_requests_total")
	if len(metrics) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(metrics))
	}
	for _, metric := range metrics {
		labels := map[string]string{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["rule"] == "default" && metric.GetCounter().GetValue() != 2 {
			t.Errorf("default rule count = %v, want 2", metric.GetCounter().GetValue())
		}
		if labels["rule"] == "fail" && labels["status"] != "404" {
			t.Errorf("fail rule status = %s, want 404", labels["status"])
		}
	}
}

func TestRecordHandlerError(t *testing.T) {
	m := NewMetrics()
	m.RecordHandlerError("decode")

	metrics := gather(t, m, "llpeer_handler_errors_total")
	if len(metrics) != 1 || metrics[0].GetCounter().GetValue() != 1 {
		t.Errorf("unexpected handler error metrics: %v", metrics)
	}
}

func TestActiveConnections(t *testing.T) {
	m := NewMetrics()
	m.IncActiveConnections()
	m.IncActiveConnections()
	m.DecActiveConnections()

	metrics := gather(t, m, "llpeer_active_connections")
	if len(metrics) != 1 || metrics[0].GetGauge().GetValue() != 1 {
		t.Errorf("active connections = %v, want 1", metrics)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	// Should not panic
	m.RecordRequest("GET", "default", 200, time.Millisecond, 0, 0)
	m.RecordHandlerError("read")
	m.RecordPortAttempt()
	m.IncActiveConnections()
	m.DecActiveConnections()
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordPortAttempt()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "llpeer_port_bind_attempts_total 1") {
		t.Errorf("metrics output missing bind attempts:\n%s", body)
	}
}

func BenchmarkRecordRequest(b *testing.B) {
	m := NewMetrics()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordRequest("GET", "default", 200, time.Millisecond, 0, 312)
	}
}
