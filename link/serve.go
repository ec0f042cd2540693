package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"arrow-client/control"
	aerrors "arrow-client/errors"
	alog "arrow-client/log"
	"arrow-client/metrics"
	"arrow-client/relay"
	"arrow-client/status"
	"arrow-client/transport"
)

// registerMessageID 是 REGISTER 固定使用的消息 ID。
const registerMessageID = 0

// attemptResult 描述一次连接尝试的结局，供 Run 决定退避策略。
type attemptResult struct {
	// rejected 表示注册被拒（需固定 30s 退避）。
	rejected bool
	redirect *control.Redirect
	err      error
}

// controlLink 是一条已建立的控制连接，同时作为会话表的 Uplink。
type controlLink struct {
	conn    *transport.Conn
	nextID  atomic.Uint32
	metrics *metrics.Metrics
}

func newControlLink(conn *transport.Conn, m *metrics.Metrics) *controlLink {
	cl := &controlLink{conn: conn, metrics: m}
	cl.nextID.Store(registerMessageID)
	return cl
}

// messageID 分配下一个客户端消息 ID（REGISTER 之后从 1 开始）。
func (cl *controlLink) messageID() uint16 { return uint16(cl.nextID.Add(1)) }

func (cl *controlLink) send(m control.Message) error {
	cl.metrics.ControlMessage(metrics.DirUp, m.Type().String())
	return cl.conn.WriteFrame(transport.Frame{Service: control.ServiceID, Body: control.Marshal(m)})
}

// SendData 将本地服务数据封帧回写云端。
func (cl *controlLink) SendData(service uint16, session uint32, chunk []byte) error {
	return cl.conn.WriteFrame(transport.Frame{Service: service, Session: session, Body: chunk})
}

// SendHangUp 通知云端会话已结束。
func (cl *controlLink) SendHangUp(session uint32, code control.ErrorCode) error {
	return cl.send(control.HangUp{MessageID: cl.messageID(), SessionID: session, ErrorCode: code})
}

// attempt 执行一次完整的 连接 → 注册 → 服务 → 排空。
func (e *Engine) attempt(ctx context.Context, mac string) attemptResult {
	host, port := e.Target()
	e.setState(status.LinkConnecting)
	e.opts.Metrics.ConnectAttempt()
	alog.With(map[string]any{"host": host, "port": port, "status": "connecting"}).Info("连接 Arrow 服务")

	raw, err := e.opts.Dialer.Dial(ctx, host, port)
	if err != nil {
		if ctx.Err() == nil {
			e.logEvent(-1, fmt.Sprintf("unable to connect to %s:%d: %v", host, port, err))
		}
		return attemptResult{err: err}
	}
	conn := transport.NewConn(raw, e.opts.ReadTimeout, e.opts.ConnectTimeout)
	alog.With(map[string]any{"remote": conn.RemoteAddr().String(), "status": "dialed"}).Debug("传输连接已建立")
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	cl := newControlLink(conn, e.opts.Metrics)

	e.setState(status.LinkRegistering)
	ack, err := e.register(cl, mac)
	if err != nil {
		if ctx.Err() == nil {
			e.opts.Metrics.Registration("error")
			e.logEvent(-1, "registration failed: "+err.Error())
		}
		if aerrors.Is(err, aerrors.CodeInvalidArgument) {
			e.notify(Notification{Kind: NotifyError, Message: err.Error()})
			return attemptResult{rejected: true, err: err}
		}
		return attemptResult{err: err}
	}
	switch ack.ErrorCode {
	case control.NoError:
	case control.Unauthorized:
		e.opts.Metrics.Registration(ack.ErrorCode.String())
		e.logEvent(int64(ack.ErrorCode), "the client is not registered, pair it with your account")
		e.notify(Notification{Kind: NotifyRegisterRequired, Message: "registration required", MAC: mac})
		return attemptResult{rejected: true, err: aerrors.New(aerrors.CodeProtocol, ack.ErrorCode.String())}
	default:
		e.opts.Metrics.Registration(ack.ErrorCode.String())
		e.logEvent(int64(ack.ErrorCode), "registration rejected: "+ack.ErrorCode.String())
		e.notify(Notification{Kind: NotifyError, Message: "registration rejected: " + ack.ErrorCode.String()})
		return attemptResult{rejected: true, err: aerrors.New(aerrors.CodeProtocol, ack.ErrorCode.String())}
	}

	e.opts.Metrics.Registration("ok")
	e.backoff.Reset()
	reg := relay.NewRegistry(cl, e.opts.Opener, e.opts.Metrics)
	e.setServing(reg)
	e.setState(status.LinkServing)
	e.logEvent(0, fmt.Sprintf("connected to %s:%d", host, port))
	e.notify(Notification{Kind: NotifyRegistered, Message: "connected to " + host})
	e.opts.Listener.OnConnected(host)

	redirect, err := e.serve(ctx, cl, reg)

	e.setState(status.LinkDraining)
	reg.CloseAll()
	_ = conn.Close()
	e.setServing(nil)
	e.opts.Listener.OnDisconnected()

	switch {
	case redirect != nil:
		e.logEvent(0, "redirected to "+redirect.Address())
	case ctx.Err() != nil:
	case err != nil:
		alog.With(map[string]any{"err_code": aerrors.Code(err), "status": "link_lost"}).Debug("控制链路结束")
		e.logEvent(-1, "connection lost: "+err.Error())
	}
	return attemptResult{redirect: redirect, err: err}
}

// register 发送 REGISTER 并读取唯一的应答帧。
// 返回：
// - control.Ack: 注册应答（ErrorCode 由调用方解释）
// - error: 参数非法（InvalidArgument）、传输失败或应答不合法（Protocol）
func (e *Engine) register(cl *controlLink, mac string) (control.Ack, error) {
	msg, err := control.NewRegister(registerMessageID, e.opts.UUID, e.opts.Passphrase, mac, e.opts.Services)
	if err != nil {
		return control.Ack{}, err
	}
	if err := cl.send(msg); err != nil {
		return control.Ack{}, err
	}

	deadline := time.Now().Add(e.opts.ConnectTimeout)
	var f transport.Frame
	for {
		f, err = cl.conn.ReadFrame()
		if errors.Is(err, transport.ErrReadTimeout) {
			if time.Now().After(deadline) {
				return control.Ack{}, aerrors.New(aerrors.CodeTransport, "registration response timed out")
			}
			continue
		}
		if err != nil {
			return control.Ack{}, aerrors.Wrap(aerrors.CodeTransport, "read registration response", err)
		}
		break
	}
	if !f.IsControl() {
		return control.Ack{}, aerrors.Newf(aerrors.CodeProtocol, "expected control frame, got service %d", f.Service)
	}
	env, err := control.ParseEnvelope(f.Body)
	if err != nil {
		return control.Ack{}, aerrors.Wrap(aerrors.CodeProtocol, "invalid registration response", err)
	}
	cl.metrics.ControlMessage(metrics.DirDown, env.Type.String())
	ack, err := control.AsAck(env)
	if err != nil {
		return control.Ack{}, aerrors.Wrap(aerrors.CodeProtocol, "invalid registration response", err)
	}
	if ack.MessageID != registerMessageID {
		return control.Ack{}, aerrors.Newf(aerrors.CodeProtocol, "unexpected ACK message id %d", ack.MessageID)
	}
	return ack, nil
}

// serve 运行服务阶段读循环，直到 REDIRECT、链路失效、网络不可用或取消。
func (e *Engine) serve(ctx context.Context, cl *controlLink, reg *relay.Registry) (*control.Redirect, error) {
	wd := NewWatchdog(e.opts.KeepaliveInterval)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.networkAvailable() {
			return nil, aerrors.New(aerrors.CodeTransport, "network no longer available")
		}
		if err := wd.Check(); err != nil {
			return nil, err
		}

		f, err := cl.conn.ReadFrame()
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, aerrors.Wrap(aerrors.CodeTransport, "read frame", err)
		}

		if !f.IsControl() {
			e.dispatchData(ctx, cl, reg, f)
			continue
		}
		redirect, err := e.handleControl(cl, reg, wd, f.Body)
		if err != nil || redirect != nil {
			return redirect, err
		}
	}
}

// dispatchData 把数据帧交给会话表；仅在本地连接建立失败时回送 HUP(CONNECTION_ERROR)，
// 写入失败的 HUP 已由会话表发出。
func (e *Engine) dispatchData(ctx context.Context, cl *controlLink, reg *relay.Registry, f transport.Frame) {
	err := reg.DispatchData(ctx, f.Service, f.Session, f.Body)
	if err == nil {
		return
	}
	e.logEvent(-1, err.Error())
	if errors.Is(err, relay.ErrOpenFailed) {
		if herr := cl.SendHangUp(f.Session, control.ConnectionError); herr != nil {
			alog.With(map[string]any{"session": f.Session, "status": "hup_error"}).WithError(herr).Warn("发送 HUP 失败")
		}
	}
}

// handleControl 按到达顺序处理一条控制消息。
// 返回：
// - *control.Redirect: 收到 REDIRECT 时非空
// - error: 回写应答失败（传输错误）
func (e *Engine) handleControl(cl *controlLink, reg *relay.Registry, wd *Watchdog, body []byte) (*control.Redirect, error) {
	env, err := control.ParseEnvelope(body)
	if err != nil {
		e.opts.Metrics.Malformed()
		e.logEvent(-1, "dropping control message: "+err.Error())
		return nil, nil
	}
	e.opts.Metrics.ControlMessage(metrics.DirDown, env.Type.String())
	if !env.Type.Known() {
		e.logEvent(-1, "unhandled control message: "+env.Type.String())
		return nil, nil
	}
	msg, err := control.Decode(env)
	if err != nil {
		e.opts.Metrics.Malformed()
		e.logEvent(-1, "dropping control message: "+err.Error())
		return nil, nil
	}
	wd.Touch()

	fields := map[string]any{"msg_id": msg.ID(), "type": msg.Type().String(), "status": "control"}
	switch m := msg.(type) {
	case control.Ping:
		return nil, cl.send(control.Ack{MessageID: m.MessageID, ErrorCode: control.NoError})
	case control.GetStatus:
		return nil, cl.send(control.NewStatus(m.MessageID, 0, uint32(reg.Count())))
	case control.HangUp:
		if !reg.HandleHangUp(m.SessionID, m.ErrorCode) {
			alog.With(fields).WithField("session", m.SessionID).Warn("HUP 指向未知会话")
		}
	case control.Redirect:
		return &m, nil
	case control.ResetServiceTable, control.ScanNetwork, control.GetScanReport:
		alog.With(fields).Debug("忽略控制消息")
	case control.Ack, control.Register, control.Update, control.Status, control.ScanReport:
		e.logEvent(-1, "unhandled control message: "+msg.Type().String())
	}
	return nil, nil
}
