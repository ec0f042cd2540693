package relay

import (
	"context"
	"net"
	"strconv"
	"time"

	srt "github.com/datarhei/gosrt"

	"arrow-client/config"
	aerrors "arrow-client/errors"
)

// Dialer 按服务 ID 连接本地服务，支持 TCP 与 SRT 两种传输。
type Dialer struct {
	Network     string
	Host        string
	DefaultPort int
	// Ports 为 service ID 到本地端口的映射；为空时所有服务都使用 DefaultPort。
	Ports   map[uint16]int
	Timeout time.Duration
	SRT     srt.Config
}

// NewDialer 根据本地服务配置与服务表构造 Dialer。
// 参数：
// - local: 本地服务配置（网络类型、地址、默认端口、SRT 参数）
// - services: 服务表配置（port 为 0 时取默认端口）
// - timeout: 建连超时
func NewDialer(local config.LocalConfig, services []config.ServiceConfig, timeout time.Duration) *Dialer {
	d := &Dialer{
		Network:     local.Network,
		Host:        local.Host,
		DefaultPort: local.Port,
		Ports:       make(map[uint16]int, len(services)),
		Timeout:     timeout,
	}
	for _, s := range services {
		port := s.Port
		if port == 0 {
			port = local.Port
		}
		d.Ports[uint16(s.ID)] = port
	}
	if d.Network == "srt" {
		scfg := srt.DefaultConfig()
		if local.SRTLatency > 0 {
			scfg.Latency = time.Duration(local.SRTLatency) * time.Millisecond
		}
		if timeout > 0 {
			scfg.ConnectionTimeout = timeout
		}
		scfg.StreamId = local.SRTStreamID
		d.SRT = scfg
	}
	return d
}

// Open 连接 service 对应的本地服务。
// 返回：
// - error: 服务未知或连接失败
func (d *Dialer) Open(ctx context.Context, service uint16) (net.Conn, error) {
	port := d.DefaultPort
	if len(d.Ports) > 0 {
		p, ok := d.Ports[service]
		if !ok {
			return nil, aerrors.Newf(aerrors.CodeLocalService, "unknown service %d", service)
		}
		port = p
	}
	addr := net.JoinHostPort(d.Host, strconv.Itoa(port))

	if d.Network == "srt" {
		return d.dialSRT(ctx, addr)
	}
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, "tcp", addr)
}

// dialSRT 在独立协程中执行阻塞的 SRT 握手，以便响应 ctx 取消。
func (d *Dialer) dialSRT(ctx context.Context, addr string) (net.Conn, error) {
	type result struct {
		conn srt.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := srt.Dial("srt", addr, d.SRT)
		ch <- result{conn: c, err: err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
