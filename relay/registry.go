// Package relay 维护虚拟会话注册表，并在云端数据帧与本地服务连接之间双向转发。
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"arrow-client/control"
	aerrors "arrow-client/errors"
	alog "arrow-client/log"
	"arrow-client/metrics"
)

// Uplink 是会话向云端回写数据与挂断通知的出口（通常为控制连接）。
type Uplink interface {
	SendData(service uint16, session uint32, chunk []byte) error
	SendHangUp(session uint32, code control.ErrorCode) error
}

// Opener 为新会话建立到本地服务的连接。
type Opener interface {
	Open(ctx context.Context, service uint16) (net.Conn, error)
}

// ErrOpenFailed 标记新会话的本地连接未能建立（会话未登记，也未发送 HUP）。
var ErrOpenFailed = errors.New("local service unavailable")

// Registry 是单条控制连接上的会话表。
type Registry struct {
	up      Uplink
	opener  Opener
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[uint32]*Session
	closing  bool

	wg sync.WaitGroup
}

// NewRegistry 创建会话表。
// 参数：
// - up: 数据与 HUP 的回写出口
// - opener: 本地服务连接器
// - m: 指标（可为 nil）
func NewRegistry(up Uplink, opener Opener, m *metrics.Metrics) *Registry {
	return &Registry{
		up:       up,
		opener:   opener,
		metrics:  m,
		sessions: make(map[uint32]*Session),
	}
}

// DispatchData 将一条云端数据帧交给对应会话；会话不存在时先建立本地连接。
// 参数：
// - ctx: 建立本地连接时使用的上下文
// - service: 帧的 service ID
// - session: 帧的 session ID
// - body: 帧负载（可为空，空负载只触发建连）
// 返回：
// - error: 本地连接或写入失败时返回 LocalServiceError。
//   建连失败时错误链包含 ErrOpenFailed，由调用方决定是否通知云端；
//   写入失败时会话已被拆除并已发送 HUP。
func (r *Registry) DispatchData(ctx context.Context, service uint16, session uint32, body []byte) error {
	s := r.lookup(session)
	if s == nil {
		var err error
		if s, err = r.open(ctx, service, session); err != nil {
			return err
		}
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := s.conn.Write(body); err != nil {
		r.finish(s, control.ConnectionError, true)
		return aerrors.Wrap(aerrors.CodeLocalService, fmt.Sprintf("write to local service (session %d)", session), err)
	}
	s.counters.down.Add(int64(len(body)))
	r.metrics.AddBytes(metrics.DirDown, len(body))
	return nil
}

func (r *Registry) open(ctx context.Context, service uint16, session uint32) (*Session, error) {
	r.mu.Lock()
	closing := r.closing
	r.mu.Unlock()
	if closing {
		return nil, aerrors.New(aerrors.CodeLocalService, "session registry is closed")
	}

	conn, err := r.opener.Open(ctx, service)
	if err != nil {
		r.metrics.SessionOpenFailed()
		return nil, aerrors.Wrap(aerrors.CodeLocalService, fmt.Sprintf("open local service %d (session %d)", service, session), fmt.Errorf("%w: %w", ErrOpenFailed, err))
	}
	s := newSession(session, service, conn)

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		_ = conn.Close()
		return nil, aerrors.New(aerrors.CodeLocalService, "session registry is closed")
	}
	r.sessions[session] = s
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.SessionOpened()
	alog.With(map[string]any{
		"session": session,
		"service": service,
		"status":  "session_open",
	}).Info("会话已建立")

	go r.pump(s)
	return s, nil
}

// pump 持续读取本地连接并回写云端，直到本地结束或会话被拆除。
func (r *Registry) pump(s *Session) {
	defer r.wg.Done()
	bp := getBuf()
	defer putBuf(bp)
	buf := *bp

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if uerr := r.up.SendData(s.service, s.id, buf[:n]); uerr != nil {
				alog.With(map[string]any{
					"session": s.id,
					"status":  "uplink_error",
				}).WithError(uerr).Warn("会话数据回写失败")
				r.finish(s, control.ConnectionError, false)
				return
			}
			s.counters.up.Add(int64(n))
			r.metrics.AddBytes(metrics.DirUp, n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				r.finish(s, control.NoError, true)
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			alog.With(map[string]any{
				"session": s.id,
				"status":  "read_error",
			}).WithError(err).Warn("本地服务读取失败")
			r.finish(s, control.ConnectionError, true)
			return
		}
	}
}

// finish 拆除会话（身份校验、幂等），首个拆除者按需发送 HUP。
func (r *Registry) finish(s *Session, code control.ErrorCode, notify bool) {
	if !s.stop() {
		return
	}
	r.remove(s)
	alog.With(map[string]any{
		"session": s.id,
		"code":    code.String(),
		"status":  "session_closed",
	}).Info("会话已关闭")
	if notify {
		if err := r.up.SendHangUp(s.id, code); err != nil {
			alog.With(map[string]any{"session": s.id, "status": "hup_error"}).WithError(err).Warn("发送 HUP 失败")
		}
	}
}

// remove 仅在表中记录仍是 s 本身时删除，避免误删同 ID 的新会话。
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
		r.mu.Unlock()
		r.metrics.SessionClosed()
		return
	}
	r.mu.Unlock()
}

// HandleHangUp 处理云端发来的 HUP：关闭本地连接并走与本地结束相同的拆除路径，
// 由首个拆除者向云端回送一次 HUP(NO_ERROR)。
// 返回：
// - bool: 会话是否存在
func (r *Registry) HandleHangUp(session uint32, code control.ErrorCode) bool {
	s := r.lookup(session)
	if s == nil {
		return false
	}
	alog.With(map[string]any{
		"session": session,
		"code":    code.String(),
		"status":  "session_hangup",
	}).Info("云端挂断会话")
	r.finish(s, control.NoError, true)
	return true
}

func (r *Registry) lookup(session uint32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[session]
}

// Has 判断会话是否存在。
func (r *Registry) Has(session uint32) bool { return r.lookup(session) != nil }

// Count 返回当前活跃会话数。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot 返回按会话 ID 排序的会话快照。
func (r *Registry) Snapshot() []SessionInfo {
	now := time.Now()
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info(now))
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll 关闭全部会话（不发送 HUP），并等待转发协程退出。之后的新会话请求都会失败。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closing = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		if s.stop() {
			r.remove(s)
		}
	}
	r.wg.Wait()
}
