package link

import (
	"sync/atomic"
	"time"

	aerrors "arrow-client/errors"
)

// Watchdog 记录控制链路最近一次有效活动时间，空闲超过两个心跳周期即判定链路失效。
type Watchdog struct {
	interval time.Duration
	now      func() time.Time
	last     atomic.Int64
}

// NewWatchdog 创建心跳看门狗，初始活动时间为当前时刻。
func NewWatchdog(interval time.Duration) *Watchdog {
	w := &Watchdog{interval: interval, now: time.Now}
	w.Touch()
	return w
}

// Touch 记录一次控制活动。
func (w *Watchdog) Touch() { w.last.Store(w.now().UnixNano()) }

// Idle 返回距上次活动的时长。
func (w *Watchdog) Idle() time.Duration {
	return w.now().Sub(time.Unix(0, w.last.Load()))
}

// Check 在空闲时长超过 2×interval 时返回 LinkStale。
func (w *Watchdog) Check() error {
	if idle := w.Idle(); idle > 2*w.interval {
		return aerrors.Newf(aerrors.CodeLinkStale, "no control activity for %s", idle.Truncate(time.Millisecond))
	}
	return nil
}
