package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	aerrors "arrow-client/errors"
)

// ErrReadTimeout 表示读超时内没有新帧到达，连接本身仍然可用。
var ErrReadTimeout = errors.New("transport: read timeout")

const readBufferSize = 64 * 1024

// Conn 封装一条控制连接：读取单协程使用，写入可并发。
type Conn struct {
	raw net.Conn
	br  *bufio.Reader

	readTimeout  time.Duration
	frameTimeout time.Duration

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn 创建控制连接封装。
// 参数：
// - c: 底层连接（TLS 或明文 TCP）
// - readTimeout: 等待下一帧首字节的超时（0 表示不限）
// - frameTimeout: 帧开始后读完剩余部分、以及单次写入的超时（0 表示不限）
func NewConn(c net.Conn, readTimeout, frameTimeout time.Duration) *Conn {
	return &Conn{
		raw:          c,
		br:           bufio.NewReaderSize(c, readBufferSize),
		readTimeout:  readTimeout,
		frameTimeout: frameTimeout,
	}
}

// ReadFrame 读取下一帧。
// 返回：
// - error: 首字节等待超时返回 ErrReadTimeout；对端关闭返回 io.EOF；其它为 TransportError
func (c *Conn) ReadFrame() (Frame, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.raw.SetReadDeadline(time.Time{})
	}
	if _, err := c.br.Peek(1); err != nil {
		if isTimeout(err) {
			return Frame{}, ErrReadTimeout
		}
		if c.closed.Load() {
			return Frame{}, net.ErrClosed
		}
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, aerrors.Wrap(aerrors.CodeTransport, "read frame", err)
	}
	if c.frameTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.frameTimeout))
	} else {
		_ = c.raw.SetReadDeadline(time.Time{})
	}
	return ReadFrame(c.br)
}

// WriteFrame 编码并整帧写出（线程安全，不同写者的帧不会交错）。
func (c *Conn) WriteFrame(f Frame) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	buf, err := AppendFrame(make([]byte, 0, HeaderSize+len(f.Body)), f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.frameTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.frameTimeout))
	}
	if _, err := c.raw.Write(buf); err != nil {
		return aerrors.Wrap(aerrors.CodeTransport, "write frame", err)
	}
	return nil
}

// Close 关闭连接（幂等）。
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// RemoteAddr 返回对端地址。
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
