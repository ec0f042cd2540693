// Package transport 实现 Arrow 外层帧编解码与控制连接的读写封装。
//
// 帧格式：version(1B, =0) ‖ service(2B BE) ‖ session(3B BE) ‖ size(4B BE) ‖ body。
package transport

import (
	"encoding/binary"
	"errors"
	"io"

	aerrors "arrow-client/errors"
)

const (
	Version      = 0
	HeaderSize   = 1 + 2 + 3 + 4
	MaxBodySize  = 4 << 20
	MaxSessionID = 0x00ffffff
)

// Frame 是一条外层帧：service 为 0 时 body 为控制消息，否则为会话数据。
type Frame struct {
	Service uint16
	Session uint32
	Body    []byte
}

// IsControl 判断是否为控制帧。
func (f Frame) IsControl() bool { return f.Service == 0 }

// AppendFrame 将帧编码追加到 dst。
// 返回：
// - error: session 超出 24 位或 body 超过 MaxBodySize
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if f.Session > MaxSessionID {
		return dst, aerrors.Newf(aerrors.CodeInvalidArgument, "session id %d exceeds 24 bits", f.Session)
	}
	if len(f.Body) > MaxBodySize {
		return dst, aerrors.Newf(aerrors.CodeInvalidArgument, "frame body too large: %d", len(f.Body))
	}
	var hdr [HeaderSize]byte
	hdr[0] = Version
	binary.BigEndian.PutUint16(hdr[1:3], f.Service)
	hdr[3] = byte(f.Session >> 16)
	hdr[4] = byte(f.Session >> 8)
	hdr[5] = byte(f.Session)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(f.Body)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Body...), nil
}

// WriteFrame 将整帧编码后一次写出。
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderSize+len(f.Body)), f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame 从 r 读取一条完整帧。
// 返回：
// - error: 帧开始前遇到 EOF 时原样返回 io.EOF；帧中途断开或头部非法时返回 TransportError
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, aerrors.Wrap(aerrors.CodeTransport, "read frame header", err)
	}
	if hdr[0] != Version {
		return Frame{}, aerrors.Newf(aerrors.CodeTransport, "unsupported frame version %d", hdr[0])
	}
	size := binary.BigEndian.Uint32(hdr[6:10])
	if size > MaxBodySize {
		return Frame{}, aerrors.Newf(aerrors.CodeTransport, "frame body too large: %d", size)
	}
	f := Frame{
		Service: binary.BigEndian.Uint16(hdr[1:3]),
		Session: uint32(hdr[3])<<16 | uint32(hdr[4])<<8 | uint32(hdr[5]),
	}
	if size == 0 {
		return f, nil
	}
	f.Body = make([]byte, size)
	if _, err := io.ReadFull(r, f.Body); err != nil {
		return Frame{}, aerrors.Wrap(aerrors.CodeTransport, "read frame body", err)
	}
	return f, nil
}
