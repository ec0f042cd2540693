package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"arrow-client/config"
	aerrors "arrow-client/errors"
)

// Dialer 建立到 Arrow 服务端的控制连接：TCP（可经 SOCKS5）+ 可选 TLS。
type Dialer struct {
	ConnectTimeout time.Duration
	// RootCAs 为 nil 时不启用 TLS。
	RootCAs *x509.CertPool
	// Proxy 为 SOCKS5 代理地址（host:port），为空表示直连。
	Proxy string
}

// NewDialer 根据 TLS 配置构造 Dialer。
// 参数：
// - cfg: TLS 配置（enabled 时必须能加载 CA 证书）
// - connectTimeout: TCP 建连与 TLS 握手的总超时
// 返回：
// - error: CA 文件不可读或不含证书
func NewDialer(cfg config.TLSConfig, connectTimeout time.Duration) (*Dialer, error) {
	d := &Dialer{ConnectTimeout: connectTimeout, Proxy: cfg.Proxy}
	if !cfg.Enabled {
		return d, nil
	}
	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.CodeInvalidArgument, "read CA file", err)
	}
	pool, err := LoadCertPool(pem)
	if err != nil {
		return nil, err
	}
	d.RootCAs = pool
	return d, nil
}

// LoadCertPool 从 PEM 文本构造只信任其中证书的证书池。
func LoadCertPool(pem []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, aerrors.New(aerrors.CodeInvalidArgument, "no certificates found in CA bundle")
	}
	return pool, nil
}

// Dial 连接 host:port，返回可直接交给 NewConn 的连接。
// 返回：
// - error: 建连、代理或握手失败时返回 TransportError
func (d *Dialer) Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	raw, err := d.dialTCP(ctx, addr)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.CodeTransport, fmt.Sprintf("connect %s", addr), err)
	}
	if d.RootCAs == nil {
		return raw, nil
	}
	tc := tls.Client(raw, &tls.Config{
		RootCAs:    d.RootCAs,
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, aerrors.Wrap(aerrors.CodeTransport, fmt.Sprintf("tls handshake %s", addr), err)
	}
	return tc, nil
}

func (d *Dialer) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.ConnectTimeout, KeepAlive: 30 * time.Second}
	if d.Proxy == "" {
		return nd.DialContext(ctx, "tcp", addr)
	}
	pd, err := proxy.SOCKS5("tcp", d.Proxy, nil, nd)
	if err != nil {
		return nil, err
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return pd.Dial("tcp", addr)
}
