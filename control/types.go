// Package control 实现 Arrow 控制子协议（service ID 0）的消息编解码与服务表构造。
//
// 控制消息格式：msg_id(2B BE) ‖ type(2B BE) ‖ data。所有数值字段均为大端无符号整数。
package control

import "fmt"

// ServiceID 为保留给控制子协议的伪服务 ID。
const ServiceID uint16 = 0x0000

type Type uint16

const (
	TypeAck           Type = 0x0000
	TypePing          Type = 0x0001
	TypeRegister      Type = 0x0002
	TypeRedirect      Type = 0x0003
	TypeUpdate        Type = 0x0004
	TypeHangUp        Type = 0x0005
	TypeResetSvcTable Type = 0x0006
	TypeScanNetwork   Type = 0x0007
	TypeGetStatus     Type = 0x0008
	TypeStatus        Type = 0x0009
	TypeGetScanReport Type = 0x000a
	TypeScanReport    Type = 0x000b
)

var typeNames = map[Type]string{
	TypeAck:           "ACK",
	TypePing:          "PING",
	TypeRegister:      "REGISTER",
	TypeRedirect:      "REDIRECT",
	TypeUpdate:        "UPDATE",
	TypeHangUp:        "HUP",
	TypeResetSvcTable: "RESET_SVC_TABLE",
	TypeScanNetwork:   "SCAN_NETWORK",
	TypeGetStatus:     "GET_STATUS",
	TypeStatus:        "STATUS",
	TypeGetScanReport: "GET_SCAN_REPORT",
	TypeScanReport:    "SCAN_REPORT",
}

// String 返回消息类型的协议名称。
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(t))
}

// Known 判断类型码是否为已定义的控制消息类型。
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ErrorCode 是 ACK/HUP 携带的 32 位错误码。
type ErrorCode uint32

const (
	NoError                    ErrorCode = 0x00000000
	UnsupportedProtocolVersion ErrorCode = 0x00000001
	Unauthorized               ErrorCode = 0x00000002
	ConnectionError            ErrorCode = 0x00000003
	UnsupportedMethod          ErrorCode = 0x00000004
	InternalServerError        ErrorCode = 0xffffffff
)

// String 返回错误码的协议名称。
func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case UnsupportedProtocolVersion:
		return "UNSUPPORTED_PROTOCOL_VERSION"
	case Unauthorized:
		return "UNAUTHORIZED"
	case ConnectionError:
		return "CONNECTION_ERROR"
	case UnsupportedMethod:
		return "UNSUPPORTED_METHOD"
	case InternalServerError:
		return "INTERNAL_SERVER_ERROR"
	default:
		return fmt.Sprintf("ERROR(0x%08x)", uint32(c))
	}
}

// StatusFlagScan 表示网络扫描进行中（本客户端不做扫描，恒为 0）。
const StatusFlagScan uint32 = 0x00000001
