package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"arrow-client/config"
	"arrow-client/control"
	"arrow-client/relay"
	"arrow-client/status"
	"arrow-client/transport"
)

const (
	testUUID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	testPass = "0f8fad5b-d9cb-469f-a165-70867728950e"
	testMAC  = "00:11:22:aa:bb:cc"
)

// fakeCloud 是测试用 Arrow 服务端：只负责接受连接，协议由测试逐帧驱动。
type fakeCloud struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &fakeCloud{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return c
}

func (c *fakeCloud) port() uint16 { return uint16(c.ln.Addr().(*net.TCPAddr).Port) }

func (c *fakeCloud) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-c.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatalf("no connection from engine")
		return nil
	}
}

func readFrame(t *testing.T, c net.Conn) transport.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	f, err := transport.ReadFrame(c)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func readControl(t *testing.T, c net.Conn) control.Message {
	t.Helper()
	f := readFrame(t, c)
	if !f.IsControl() {
		t.Fatalf("expected control frame, got service %d", f.Service)
	}
	env, err := control.ParseEnvelope(f.Body)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	m, err := control.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func sendControl(t *testing.T, c net.Conn, m control.Message) {
	t.Helper()
	if err := transport.WriteFrame(c, transport.Frame{Service: control.ServiceID, Body: control.Marshal(m)}); err != nil {
		t.Fatalf("send %s: %v", m.Type(), err)
	}
}

func expectRegister(t *testing.T, c net.Conn) control.Register {
	t.Helper()
	m := readControl(t, c)
	r, ok := m.(control.Register)
	if !ok {
		t.Fatalf("expected REGISTER, got %s", m.Type())
	}
	if r.MessageID != 0 || r.MAC.String() != testMAC || r.UUID.String() != testUUID {
		t.Fatalf("unexpected register %+v", r)
	}
	return r
}

type recordingListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected int
	logs         []int64
	notes        []Notification
}

func (l *recordingListener) OnConnected(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, host)
}

func (l *recordingListener) OnDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected++
}

func (l *recordingListener) OnLog(code int64, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, code)
}

func (l *recordingListener) OnNotify(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, n)
}

func (l *recordingListener) hasNote(kind NotificationKind) (Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notes {
		if n.Kind == kind {
			return n, true
		}
	}
	return Notification{}, false
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connected), l.disconnected
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// echoServer 启动一个本地回显服务，返回端口。
func echoServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { _, _ = io.Copy(c, c); _ = c.Close() }()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

type engineHarness struct {
	engine   *Engine
	listener *recordingListener
	cancel   context.CancelFunc
	done     chan error
	once     sync.Once
}

func startEngine(t *testing.T, cloudPort uint16, localPort int, mutate func(*Options)) *engineHarness {
	t.Helper()
	l := &recordingListener{}
	opts := Options{
		Host:           "127.0.0.1",
		Port:           cloudPort,
		UUID:           testUUID,
		Passphrase:     testPass,
		MAC:            testMAC,
		ReadTimeout:    20 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		Dialer:         &transport.Dialer{ConnectTimeout: time.Second},
		Opener:         relay.NewDialer(config.LocalConfig{Network: "tcp", Host: "127.0.0.1", Port: localPort}, nil, time.Second),
		Listener:       l,
		LogEvents:      true,
		AssumeNetwork:  true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &engineHarness{engine: e, listener: l, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- e.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *engineHarness) stop(t *testing.T) {
	t.Helper()
	h.once.Do(func() {
		h.cancel()
		select {
		case err := <-h.done:
			if err != nil {
				t.Errorf("run returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("engine did not stop after cancellation")
		}
	})
}

// TestEngineServesControlAndSessions 覆盖注册成功、PING/ACK、GET_STATUS、会话转发与 HUP。
func TestEngineServesControlAndSessions(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), echoServer(t), nil)

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.NoError})
	waitFor(t, 2*time.Second, h.engine.Connected)
	if h.engine.State() != status.LinkServing {
		t.Fatalf("state=%s", h.engine.State())
	}

	// 非法控制消息被丢弃，不影响连接
	if err := transport.WriteFrame(conn, transport.Frame{Body: []byte{1, 2}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sendControl(t, conn, control.Ping{MessageID: 7})
	if m := readControl(t, conn); m != (control.Ack{MessageID: 7, ErrorCode: control.NoError}) {
		t.Fatalf("expected ACK(7), got %#v", m)
	}

	sendControl(t, conn, control.GetStatus{MessageID: 8})
	if m := readControl(t, conn); m != control.NewStatus(8, 0, 0) {
		t.Fatalf("expected STATUS(8,0), got %#v", m)
	}

	if err := transport.WriteFrame(conn, transport.Frame{Service: 1, Session: 5, Body: []byte("hello")}); err != nil {
		t.Fatalf("write data: %v", err)
	}
	var echoed []byte
	for len(echoed) < 5 {
		f := readFrame(t, conn)
		if f.Service != 1 || f.Session != 5 {
			t.Fatalf("unexpected frame %+v", f)
		}
		echoed = append(echoed, f.Body...)
	}
	if string(echoed) != "hello" {
		t.Fatalf("echo %q", echoed)
	}

	sendControl(t, conn, control.GetStatus{MessageID: 9})
	if m := readControl(t, conn); m != control.NewStatus(9, 0, 1) {
		t.Fatalf("expected one active session, got %#v", m)
	}
	if s := h.engine.Sessions(); len(s) != 1 || s[0].ID != 5 {
		t.Fatalf("sessions %+v", s)
	}

	sendControl(t, conn, control.HangUp{MessageID: 10, SessionID: 5, ErrorCode: control.NoError})
	if m := readControl(t, conn); !isHangUp(m, 5, control.NoError) {
		t.Fatalf("expected HUP(5, NO_ERROR) after peer hang-up, got %#v", m)
	}
	sendControl(t, conn, control.GetStatus{MessageID: 11})
	if m := readControl(t, conn); m != control.NewStatus(11, 0, 0) {
		t.Fatalf("expected no active session after HUP, got %#v", m)
	}

	h.stop(t)
	if c, d := h.listener.counts(); c != 1 || d != 1 {
		t.Fatalf("connected=%d disconnected=%d", c, d)
	}
	if h.engine.State() != status.LinkIdle || h.engine.Connected() {
		t.Fatalf("state after stop: %s", h.engine.State())
	}
}

// TestEngineUnauthorized 验证 UNAUTHORIZED 触发注册提示并进入 30s 退避。
func TestEngineUnauthorized(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), closedPort(t), nil)

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.Unauthorized})

	waitFor(t, 2*time.Second, func() bool {
		_, ok := h.listener.hasNote(NotifyRegisterRequired)
		return ok && h.engine.State() == status.LinkBackingOff
	})
	n, _ := h.listener.hasNote(NotifyRegisterRequired)
	if n.MAC != testMAC {
		t.Fatalf("notification MAC %q", n.MAC)
	}
	if d := h.engine.backoff.Peek(); d < 30*time.Second {
		t.Fatalf("expected random phase after fixed 30s, next=%s", d)
	}
	if c, _ := h.listener.counts(); c != 0 {
		t.Fatalf("unexpected OnConnected")
	}
}

// TestEngineRejectsMismatchedAck 验证注册应答 ID 不符时不进入服务状态。
func TestEngineRejectsMismatchedAck(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), closedPort(t), nil)

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 3, ErrorCode: control.NoError})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := transport.ReadFrame(conn); !errors.Is(err, io.EOF) {
		t.Fatalf("expected engine to drop connection, got %v", err)
	}
	if h.engine.Connected() {
		t.Fatalf("engine must not be connected")
	}
}

// TestEngineRedirect 验证 REDIRECT 更新目标并立即重连新地址。
func TestEngineRedirect(t *testing.T) {
	first := newFakeCloud(t)
	second := newFakeCloud(t)
	h := startEngine(t, first.port(), closedPort(t), nil)

	conn := first.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.NoError})
	target := "127.0.0.1:" + strconv.Itoa(int(second.port()))
	r, err := control.NewRedirect(3, target)
	if err != nil {
		t.Fatalf("NewRedirect: %v", err)
	}
	sendControl(t, conn, r)

	conn2 := second.accept(t)
	expectRegister(t, conn2)
	if host, port := h.engine.Target(); host != "127.0.0.1" || port != second.port() {
		t.Fatalf("target %s:%d", host, port)
	}
	sendControl(t, conn2, control.Ack{MessageID: 0, ErrorCode: control.NoError})
	waitFor(t, 2*time.Second, h.engine.Connected)
}

// TestEngineStaleLinkReconnects 验证心跳超时后断开并重新注册。
func TestEngineStaleLinkReconnects(t *testing.T) {
	cloud := newFakeCloud(t)
	startEngine(t, cloud.port(), closedPort(t), func(o *Options) {
		o.KeepaliveInterval = 50 * time.Millisecond
		o.ReadTimeout = 10 * time.Millisecond
	})

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.NoError})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := transport.ReadFrame(conn); !errors.Is(err, io.EOF) {
		t.Fatalf("expected stale link to be closed, got %v", err)
	}
	expectRegister(t, cloud.accept(t))
}

// TestEngineLocalServiceFailure 验证本地服务不可达时回送 HUP(CONNECTION_ERROR)。
func TestEngineLocalServiceFailure(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), closedPort(t), nil)

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.NoError})
	waitFor(t, 2*time.Second, h.engine.Connected)

	if err := transport.WriteFrame(conn, transport.Frame{Service: 1, Session: 6, Body: []byte("x")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readControl(t, conn)
	hup, ok := m.(control.HangUp)
	if !ok || hup.SessionID != 6 || hup.ErrorCode != control.ConnectionError {
		t.Fatalf("expected HUP(6, CONNECTION_ERROR), got %#v", m)
	}
	if !h.engine.Connected() {
		t.Fatalf("local failure must not tear down the control link")
	}
}

func isHangUp(m control.Message, session uint32, code control.ErrorCode) bool {
	hup, ok := m.(control.HangUp)
	return ok && hup.SessionID == session && hup.ErrorCode == code
}

type brokenLocalConn struct{ net.Conn }

func (brokenLocalConn) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

// brokenLocalOpener 建立成功但写入总是失败的本地连接。
type brokenLocalOpener struct {
	mu    sync.Mutex
	peers []net.Conn
}

func (o *brokenLocalOpener) Open(ctx context.Context, service uint16) (net.Conn, error) {
	a, b := net.Pipe()
	o.mu.Lock()
	o.peers = append(o.peers, b)
	o.mu.Unlock()
	return brokenLocalConn{a}, nil
}

func (o *brokenLocalOpener) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.peers {
		_ = p.Close()
	}
}

// TestEngineLocalWriteFailureSingleHangUp 验证新会话首次写入失败只回送一次 HUP(CONNECTION_ERROR)。
func TestEngineLocalWriteFailureSingleHangUp(t *testing.T) {
	cloud := newFakeCloud(t)
	op := &brokenLocalOpener{}
	defer op.close()
	h := startEngine(t, cloud.port(), 0, func(o *Options) { o.Opener = op })

	conn := cloud.accept(t)
	expectRegister(t, conn)
	sendControl(t, conn, control.Ack{MessageID: 0, ErrorCode: control.NoError})
	waitFor(t, 2*time.Second, h.engine.Connected)

	if err := transport.WriteFrame(conn, transport.Frame{Service: 1, Session: 9, Body: []byte("x")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readControl(t, conn); !isHangUp(m, 9, control.ConnectionError) {
		t.Fatalf("expected HUP(9, CONNECTION_ERROR), got %#v", m)
	}
	sendControl(t, conn, control.GetStatus{MessageID: 3})
	if m := readControl(t, conn); m != control.NewStatus(3, 0, 0) {
		t.Fatalf("expected STATUS right after the single HUP, got %#v", m)
	}
}

// TestEngineWaitsForNetwork 验证无可用网络时不发起连接，网络可用后立即连接。
func TestEngineWaitsForNetwork(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), closedPort(t), func(o *Options) {
		o.AssumeNetwork = false
	})

	waitFor(t, 2*time.Second, func() bool {
		_, ok := h.listener.hasNote(NotifyNoNetwork)
		return ok
	})
	select {
	case <-cloud.conns:
		t.Fatalf("engine connected without network")
	case <-time.After(100 * time.Millisecond):
	}
	h.engine.SetMobileAvailable(true)
	expectRegister(t, cloud.accept(t))
}

// TestEngineNoMAC 验证无法获取 MAC 时通知宿主并退避。
func TestEngineNoMAC(t *testing.T) {
	cloud := newFakeCloud(t)
	h := startEngine(t, cloud.port(), closedPort(t), func(o *Options) {
		o.MAC = ""
		o.HardwareAddr = func() (string, error) { return "", fmt.Errorf("interface wlan0 not found") }
	})

	waitFor(t, 2*time.Second, func() bool {
		_, ok := h.listener.hasNote(NotifyNoMAC)
		return ok && h.engine.State() == status.LinkBackingOff
	})
	select {
	case <-cloud.conns:
		t.Fatalf("engine connected without MAC")
	case <-time.After(100 * time.Millisecond):
	}
}
