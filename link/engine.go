// Package link 实现 Arrow 控制连接的生命周期：连接、注册、服务、排空与退避重连。
package link

import (
	"context"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arrow-client/control"
	aerrors "arrow-client/errors"
	alog "arrow-client/log"
	"arrow-client/metrics"
	"arrow-client/relay"
	"arrow-client/status"
)

const (
	DefaultKeepalive      = 60 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultNackDelay      = 30 * time.Second
	DefaultNoNetworkDelay = 10 * time.Second
)

// Dialer 建立到 Arrow 服务端的传输连接（TLS 或明文）。
type Dialer interface {
	Dial(ctx context.Context, host string, port uint16) (net.Conn, error)
}

// Options 是引擎的显式配置。
type Options struct {
	Host string
	Port uint16

	UUID       string
	Passphrase string
	// MAC 非空时直接使用；否则通过 HardwareAddr 获取。
	MAC          string
	HardwareAddr func() (string, error)
	Services     []control.ServiceRecord

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
	ConnectTimeout    time.Duration
	NackDelay         time.Duration
	NoNetworkDelay    time.Duration

	Dialer   Dialer
	Opener   relay.Opener
	Listener Listener
	Metrics  *metrics.Metrics

	// LogEvents 为 false 时不向 Listener 转发 OnLog 事件（结构化日志照常输出）。
	LogEvents bool
	// AssumeNetwork 为 true 时不等待网络可用标记。
	AssumeNetwork bool

	Rand *rand.Rand
}

func (o *Options) applyDefaults() {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepalive
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.NackDelay <= 0 {
		o.NackDelay = DefaultNackDelay
	}
	if o.NoNetworkDelay <= 0 {
		o.NoNetworkDelay = DefaultNoNetworkDelay
	}
	if o.Listener == nil {
		o.Listener = NopListener{}
	}
}

type Engine struct {
	opts    Options
	backoff *Backoff
	started time.Time

	mu        sync.RWMutex
	host      string
	port      uint16
	state     status.LinkState
	connected bool
	registry  *relay.Registry

	wifi   atomic.Bool
	mobile atomic.Bool
	netCh  chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// New 创建生命周期引擎。
// 参数：
// - opts: 引擎配置（Dialer 与 Opener 必填，其余字段有默认值）
func New(opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		opts:    opts,
		backoff: NewBackoff(opts.Rand),
		started: time.Now(),
		host:    opts.Host,
		port:    opts.Port,
		state:   status.LinkIdle,
		netCh:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Run 运行状态机直到 ctx 取消或 Close 被调用；正常退出返回 nil。
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer e.setState(status.LinkIdle)
	offline := false
	for ctx.Err() == nil {
		if !e.networkAvailable() {
			e.setState(status.LinkBackingOff)
			if !offline {
				offline = true
				e.notify(Notification{Kind: NotifyNoNetwork, Message: "no network available"})
			}
			e.waitNetwork(ctx, e.opts.NoNetworkDelay)
			continue
		}
		offline = false

		mac, err := e.hardwareAddr()
		if err != nil {
			e.logEvent(-1, "unable to get MAC address: "+err.Error())
			e.notify(Notification{Kind: NotifyNoMAC, Message: err.Error()})
			e.backoff.Set(e.opts.NackDelay)
		}

		delay := e.backoff.Next()
		if delay > 0 {
			e.setState(status.LinkBackingOff)
			alog.With(map[string]any{"delay_ms": delay.Milliseconds(), "status": "backoff"}).Info("等待重连")
		}
		if sleepCtx(ctx, delay+e.backoff.Jitter()) != nil {
			break
		}
		if err != nil {
			continue
		}

		res := e.attempt(ctx, mac)
		if ctx.Err() != nil {
			break
		}
		switch {
		case res.redirect != nil:
			e.setTarget(res.redirect.Host, res.redirect.Port)
			e.backoff.Reset()
		case res.rejected:
			e.backoff.Set(e.opts.NackDelay)
		}
	}
	e.logEvent(0, "arrow client stopped")
	return nil
}

// Close 停止 Run（幂等）。
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.opts.Listener.OnLog(0, "")
	})
}

// SetWiFiAvailable 设置 WiFi 网络可用标记。
func (e *Engine) SetWiFiAvailable(v bool) {
	e.wifi.Store(v)
	e.signalNetwork()
}

// SetMobileAvailable 设置移动网络可用标记。
func (e *Engine) SetMobileAvailable(v bool) {
	e.mobile.Store(v)
	e.signalNetwork()
}

func (e *Engine) signalNetwork() {
	select {
	case e.netCh <- struct{}{}:
	default:
	}
}

func (e *Engine) networkAvailable() bool {
	return e.opts.AssumeNetwork || e.wifi.Load() || e.mobile.Load()
}

// waitNetwork 等待 d 或直到网络标记变化。
func (e *Engine) waitNetwork(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-e.netCh:
	}
}

func (e *Engine) hardwareAddr() (string, error) {
	mac := e.opts.MAC
	if mac == "" && e.opts.HardwareAddr != nil {
		var err error
		if mac, err = e.opts.HardwareAddr(); err != nil {
			return "", err
		}
	}
	if mac == "" {
		return "", aerrors.New(aerrors.CodeInvalidArgument, "no hardware address configured")
	}
	return mac, nil
}

// State 返回当前状态。
func (e *Engine) State() status.LinkState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Target 返回当前连接目标（REDIRECT 后会更新）。
func (e *Engine) Target() (string, uint16) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.host, e.port
}

// Connected 判断是否已注册并处于服务状态。
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Sessions 返回当前连接上的会话快照。
func (e *Engine) Sessions() []relay.SessionInfo {
	e.mu.RLock()
	reg := e.registry
	e.mu.RUnlock()
	if reg == nil {
		return nil
	}
	return reg.Snapshot()
}

// StartedAt 返回引擎创建时间。
func (e *Engine) StartedAt() time.Time { return e.started }

func (e *Engine) setState(s status.LinkState) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.opts.Metrics.SetLinkState(s.Ordinal())
	if prev != s {
		alog.With(map[string]any{"from": prev.String(), "to": s.String(), "status": "link_state"}).Debug("链路状态变化")
	}
}

func (e *Engine) setTarget(host string, port uint16) {
	e.mu.Lock()
	e.host, e.port = host, port
	e.mu.Unlock()
}

func (e *Engine) setServing(reg *relay.Registry) {
	e.mu.Lock()
	e.registry = reg
	e.connected = reg != nil
	e.mu.Unlock()
	e.opts.Metrics.SetConnected(reg != nil)
}

// logEvent 输出结构化日志，并按配置转发给 Listener。
func (e *Engine) logEvent(code int64, msg string) {
	entry := alog.With(map[string]any{"code": code, "status": "event"})
	switch {
	case code < 0:
		entry.Warn(msg)
	case code > 0:
		entry.WithField("error", control.ErrorCode(code).String()).Warn(msg)
	default:
		entry.Info(msg)
	}
	if e.opts.LogEvents {
		e.opts.Listener.OnLog(code, msg)
	}
}

func (e *Engine) notify(n Notification) {
	alog.Component("link").WithFields(logrus.Fields{"kind": n.Kind.String(), "status": "notify"}).Info(n.Message)
	e.opts.Listener.OnNotify(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
