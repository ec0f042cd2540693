package relay

import (
	"net"
	"sync/atomic"
	"time"
)

type counters struct {
	up   atomic.Int64
	down atomic.Int64
}

// Session 是一条虚拟会话：云端 session ID 与一条本地服务连接的绑定。
type Session struct {
	id      uint32
	service uint16
	conn    net.Conn
	created time.Time

	counters counters
	stopped  atomic.Bool
	done     chan struct{}
}

// SessionInfo 是会话的只读快照（用于状态页）。
type SessionInfo struct {
	ID        uint32
	Service   uint16
	Age       time.Duration
	BytesUp   int64
	BytesDown int64
}

func newSession(id uint32, service uint16, conn net.Conn) *Session {
	return &Session{
		id:      id,
		service: service,
		conn:    conn,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// stop 关闭本地连接。只有第一次调用返回 true，由该调用方决定是否发送 HUP。
func (s *Session) stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	_ = s.conn.SetDeadline(time.Now())
	_ = s.conn.Close()
	return true
}

func (s *Session) info(now time.Time) SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Service:   s.service,
		Age:       now.Sub(s.created),
		BytesUp:   s.counters.up.Load(),
		BytesDown: s.counters.down.Load(),
	}
}
