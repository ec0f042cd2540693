package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNilMetricsIsNoop 验证 nil 接收者上的调用不会 panic。
func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetLinkState(3)
	m.SetConnected(true)
	m.ConnectAttempt()
	m.Registration("ok")
	m.ControlMessage(DirDown, "PING")
	m.Malformed()
	m.SessionOpened()
	m.SessionClosed()
	m.SessionOpenFailed()
	m.AddBytes(DirUp, 10)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

// TestCountersAndExposition 验证计数更新并可通过 /metrics 导出。
func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.AddBytes(DirUp, 100)
	m.AddBytes(DirUp, 0)
	m.ControlMessage(DirDown, "PING")
	m.SetLinkState(3)

	if v := testutil.ToFloat64(m.sessionsActive); v != 1 {
		t.Fatalf("sessions_active=%v", v)
	}
	if v := testutil.ToFloat64(m.sessionsTotal); v != 2 {
		t.Fatalf("sessions_total=%v", v)
	}
	if v := testutil.ToFloat64(m.bytes.WithLabelValues(DirUp)); v != 100 {
		t.Fatalf("bytes=%v", v)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"arrow_client_link_state 3", `arrow_client_control_messages_total{direction="down",type="PING"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
