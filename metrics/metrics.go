// Package metrics 汇总控制链路与会话转发的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未启用指标时调用方可直接传 nil。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arrow_client"

// Direction 标识字节或消息的流向。
const (
	DirUp   = "up"
	DirDown = "down"
)

type Metrics struct {
	reg *prometheus.Registry

	linkState       prometheus.Gauge
	connected       prometheus.Gauge
	connectAttempts prometheus.Counter
	registrations   *prometheus.CounterVec
	controlMessages *prometheus.CounterVec
	malformed       prometheus.Counter

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionFailures prometheus.Counter
	bytes           *prometheus.CounterVec
}

// New 创建独立 Registry 上的指标集合（附带 Go 运行时与进程指标）。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		linkState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Current control link state (0 idle, 1 connecting, 2 registering, 3 serving, 4 draining, 5 backing_off)",
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the control link is registered and serving",
		}),
		connectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of control connection attempts",
		}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration outcomes by result",
		}, []string{"result"}),
		controlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Control messages by direction and type",
		}, []string{"direction", "type"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_malformed_total",
			Help:      "Malformed control messages dropped",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live relay sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions opened",
		}),
		sessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_open_failures_total",
			Help:      "Local service connections that could not be opened",
		}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Relayed session bytes by direction",
		}, []string{"direction"}),
	}
}

// Registry 返回底层 Registry（测试与自定义导出使用）。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SetLinkState(ordinal int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(ordinal))
}

func (m *Metrics) SetConnected(v bool) {
	if m == nil {
		return
	}
	if v {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// Registration 记录一次注册结果（ok、NACK 错误码名称或 error）。
func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) ControlMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.controlMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) SessionOpenFailed() {
	if m == nil {
		return
	}
	m.sessionFailures.Inc()
}

func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}
