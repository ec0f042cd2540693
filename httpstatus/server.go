// Package httpstatus 提供本地只读 HTTP 接口：/status（JSON 健康状态）与 /metrics（Prometheus）。
package httpstatus

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	alog "arrow-client/log"
	"arrow-client/metrics"
	"arrow-client/relay"
	"arrow-client/status"
)

// Source 提供状态页所需的链路信息（link.Engine 实现）。
type Source interface {
	State() status.LinkState
	Target() (string, uint16)
	Connected() bool
	Sessions() []relay.SessionInfo
	StartedAt() time.Time
}

type SessionPayload struct {
	Session   uint32 `json:"session"`
	Service   uint16 `json:"service"`
	AgeMs     int64  `json:"age_ms"`
	BytesUp   int64  `json:"bytes_up"`
	BytesDown int64  `json:"bytes_down"`
}

type StatusPayload struct {
	Status          status.ClientStatus `json:"status"`
	State           status.LinkState    `json:"state"`
	Host            string              `json:"host"`
	Port            uint16              `json:"port"`
	Connected       bool                `json:"connected"`
	StartedAtUnixMs int64               `json:"started_at_unix_ms"`
	NowUnixMs       int64               `json:"now_unix_ms"`
	Sessions        []SessionPayload    `json:"sessions"`
	CPUPercent      float64             `json:"cpu_percent"`
	MemMB           float64             `json:"mem_mb"`
}

type handler struct {
	src          Source
	clientStatus func() status.ClientStatus
	sampler      *sysSampler
}

// NewRouter 构造状态接口路由。
// 参数：
// - src: 链路信息来源
// - clientStatus: 进程级状态（Starting/Running/Stopping）
// - m: 指标集合（nil 时 /metrics 返回 404）
func NewRouter(src Source, clientStatus func() status.ClientStatus, m *metrics.Metrics) http.Handler {
	h := &handler{src: src, clientStatus: clientStatus, sampler: newSysSampler()}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get("/status", h.status)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	host, port := h.src.Target()
	now := time.Now()
	sessions := h.src.Sessions()
	payload := StatusPayload{
		Status:          h.clientStatus(),
		State:           h.src.State(),
		Host:            host,
		Port:            port,
		Connected:       h.src.Connected(),
		StartedAtUnixMs: h.src.StartedAt().UnixMilli(),
		NowUnixMs:       now.UnixMilli(),
		Sessions:        make([]SessionPayload, 0, len(sessions)),
		CPUPercent:      h.sampler.CPUPercent(),
		MemMB:           h.sampler.MemMB(),
	}
	for _, s := range sessions {
		payload.Sessions = append(payload.Sessions, SessionPayload{
			Session:   s.ID,
			Service:   s.Service,
			AgeMs:     s.Age.Milliseconds(),
			BytesUp:   s.BytesUp,
			BytesDown: s.BytesDown,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		alog.With(map[string]any{"status": "http_error"}).WithError(err).Warn("状态接口写入失败")
	}
}

// Serve 在 listen 地址上提供 HTTP 服务，ctx 取消时优雅关闭。
// 返回：
// - error: 监听失败原因；正常关闭返回 nil
func Serve(ctx context.Context, listen string, h http.Handler) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	alog.With(map[string]any{"listen": ln.Addr().String(), "status": "http_listen"}).Info("状态接口已启动")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
