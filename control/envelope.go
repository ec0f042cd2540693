package control

import (
	"encoding/binary"

	aerrors "arrow-client/errors"
)

// HeaderSize 为控制消息头长度：msg_id(2) + type(2)。
const HeaderSize = 4

// Envelope 是未按类型解析的通用控制消息。
type Envelope struct {
	MessageID uint16
	Type      Type
	Data      []byte
}

// ParseEnvelope 从帧 body 解析通用控制消息。
// 参数：
// - body: service ID 为 0 的帧负载
// 返回：
// - Envelope: 解析结果（Data 引用 body 的底层数组）
// - error: body 长度不足 4 字节时返回 MalformedMessage
func ParseEnvelope(body []byte) (Envelope, error) {
	if len(body) < HeaderSize {
		return Envelope{}, aerrors.New(aerrors.CodeMalformedMessage, "control message shorter than header")
	}
	return Envelope{
		MessageID: binary.BigEndian.Uint16(body[0:2]),
		Type:      Type(binary.BigEndian.Uint16(body[2:4])),
		Data:      body[HeaderSize:],
	}, nil
}

// Bytes 编码为帧 body。
func (e Envelope) Bytes() []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(e.Data))
	binary.BigEndian.PutUint16(out[0:2], e.MessageID)
	binary.BigEndian.PutUint16(out[2:4], uint16(e.Type))
	return append(out, e.Data...)
}

// expect 校验信封类型与数据长度，供各类型视图复用。
// size < 0 表示不校验长度。
func (e Envelope) expect(t Type, size int) error {
	if e.Type != t {
		return aerrors.New(aerrors.CodeTypeMismatch, "the message is not "+t.String()+" (got "+e.Type.String()+")")
	}
	if size > 0 && e.Data == nil {
		return aerrors.New(aerrors.CodeMalformedMessage, t.String()+" has no data")
	}
	if size >= 0 && len(e.Data) != size {
		return aerrors.New(aerrors.CodeMalformedMessage, t.String()+" contains invalid data")
	}
	return nil
}
