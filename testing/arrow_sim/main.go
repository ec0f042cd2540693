package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"arrow-client/control"
	"arrow-client/transport"
)

// main 启动一个 Arrow 云端模拟器。
// 使用说明：
// - 在 -listen 上等待 arrow-client 连接（明文 TCP，客户端需关闭 tls.enabled）
// - 对 REGISTER 回复 ACK（-deny 时回复 UNAUTHORIZED）
// - 周期性发送 PING 与 GET_STATUS
// - 在 -bridge 上接受本地连接，每条连接映射为一个会话，经控制连接转发到客户端的本地服务
func main() {
	listen := flag.String("listen", "127.0.0.1:8900", "control listen address")
	bridge := flag.String("bridge", "127.0.0.1:9554", "viewer listen address (empty to disable)")
	service := flag.Int("service", 1, "service id used for bridged sessions")
	ping := flag.Duration("ping", 10*time.Second, "PING interval")
	deny := flag.Bool("deny", false, "answer REGISTER with UNAUTHORIZED")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		panic(err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	sim := &simulator{service: uint16(*service), ping: *ping, deny: *deny, viewers: make(map[uint32]net.Conn)}
	if *bridge != "" {
		bl, err := net.Listen("tcp", *bridge)
		if err != nil {
			panic(err)
		}
		go func() {
			<-ctx.Done()
			_ = bl.Close()
		}()
		go sim.acceptViewers(bl)
	}

	fmt.Printf("arrow_sim listening on %s\n", *listen)
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		sim.serveCamera(ctx, c)
	}
}

type simulator struct {
	service uint16
	ping    time.Duration
	deny    bool

	mu      sync.Mutex
	camera  *transport.Conn
	viewers map[uint32]net.Conn

	nextSession atomic.Uint32
	nextMsg     atomic.Uint32
}

func (s *simulator) msgID() uint16 { return uint16(s.nextMsg.Add(1)) }

func (s *simulator) currentCamera() *transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *simulator) sendControl(c *transport.Conn, m control.Message) error {
	return c.WriteFrame(transport.Frame{Service: control.ServiceID, Body: control.Marshal(m)})
}

// serveCamera 处理一条客户端控制连接，直到断开。
func (s *simulator) serveCamera(ctx context.Context, raw net.Conn) {
	c := transport.NewConn(raw, 0, 0)
	defer c.Close()
	fmt.Printf("camera connected from %s\n", c.RemoteAddr())

	f, err := c.ReadFrame()
	if err != nil {
		fmt.Printf("read REGISTER: %v\n", err)
		return
	}
	env, err := control.ParseEnvelope(f.Body)
	if err != nil {
		fmt.Printf("invalid REGISTER: %v\n", err)
		return
	}
	reg, err := control.AsRegister(env)
	if err != nil {
		fmt.Printf("invalid REGISTER: %v\n", err)
		return
	}
	fmt.Printf("REGISTER uuid=%s mac=%s services=%d\n", reg.UUID, reg.MAC, len(reg.Services))
	for _, svc := range reg.Services {
		fmt.Printf("  service id=%d type=%s %s:%d%s\n", svc.ID, svc.Type, svc.IP, svc.Port, svc.Path)
	}

	code := control.NoError
	if s.deny {
		code = control.Unauthorized
	}
	if err := s.sendControl(c, control.Ack{MessageID: reg.MessageID, ErrorCode: code}); err != nil || s.deny {
		return
	}

	s.mu.Lock()
	s.camera = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.camera = nil
		for id, v := range s.viewers {
			_ = v.Close()
			delete(s.viewers, id)
		}
		s.mu.Unlock()
	}()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepalive(cctx, c)

	for {
		f, err := c.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Printf("camera read: %v\n", err)
			}
			fmt.Println("camera disconnected")
			return
		}
		if !f.IsControl() {
			s.toViewer(f)
			continue
		}
		env, err := control.ParseEnvelope(f.Body)
		if err != nil {
			fmt.Printf("malformed control: %v\n", err)
			continue
		}
		msg, err := control.Decode(env)
		if err != nil {
			fmt.Printf("malformed control: %v\n", err)
			continue
		}
		switch m := msg.(type) {
		case control.Ack:
			fmt.Printf("ACK id=%d code=%s\n", m.MessageID, m.ErrorCode)
		case control.Status:
			fmt.Printf("STATUS id=%d sessions=%d\n", m.RequestID, m.ActiveSessions)
		case control.HangUp:
			fmt.Printf("HUP session=%d code=%s\n", m.SessionID, m.ErrorCode)
			s.closeViewer(m.SessionID)
		default:
			fmt.Printf("control %s id=%d\n", msg.Type(), msg.ID())
		}
	}
}

func (s *simulator) keepalive(ctx context.Context, c *transport.Conn) {
	t := time.NewTicker(s.ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.sendControl(c, control.Ping{MessageID: s.msgID()}); err != nil {
				return
			}
			if err := s.sendControl(c, control.GetStatus{MessageID: s.msgID()}); err != nil {
				return
			}
		}
	}
}

func (s *simulator) acceptViewers(ln net.Listener) {
	for {
		v, err := ln.Accept()
		if err != nil {
			return
		}
		go s.serveViewer(v)
	}
}

// serveViewer 把一条本地连接的数据封帧发往客户端，结束时发送 HUP。
func (s *simulator) serveViewer(v net.Conn) {
	cam := s.currentCamera()
	if cam == nil {
		fmt.Println("viewer rejected: no camera connected")
		_ = v.Close()
		return
	}
	id := s.nextSession.Add(1) & transport.MaxSessionID
	s.mu.Lock()
	s.viewers[id] = v
	s.mu.Unlock()
	fmt.Printf("session %d opened\n", id)

	buf := make([]byte, 32*1024)
	for {
		n, err := v.Read(buf)
		if n > 0 {
			if werr := cam.WriteFrame(transport.Frame{Service: s.service, Session: id, Body: buf[:n]}); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	if s.closeViewer(id) {
		_ = s.sendControl(cam, control.HangUp{MessageID: s.msgID(), SessionID: id, ErrorCode: control.NoError})
	}
	fmt.Printf("session %d closed\n", id)
}

func (s *simulator) toViewer(f transport.Frame) {
	s.mu.Lock()
	v := s.viewers[f.Session]
	s.mu.Unlock()
	if v == nil {
		return
	}
	if _, err := v.Write(f.Body); err != nil {
		fmt.Fprintf(os.Stderr, "viewer %d write: %v\n", f.Session, err)
	}
}

func (s *simulator) closeViewer(id uint32) bool {
	s.mu.Lock()
	v, ok := s.viewers[id]
	delete(s.viewers, id)
	s.mu.Unlock()
	if ok {
		_ = v.Close()
	}
	return ok
}
