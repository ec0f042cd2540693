package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	aerrors "arrow-client/errors"
)

// Message 是控制消息的封闭和类型，仅由本包中的具体类型实现。
type Message interface {
	ID() uint16
	Type() Type
	data() []byte
}

type Ack struct {
	MessageID uint16
	ErrorCode ErrorCode
}

type Ping struct {
	MessageID uint16
}

type Register struct {
	MessageID  uint16
	UUID       uuid.UUID
	MAC        MAC
	Passphrase uuid.UUID
	Services   []ServiceRecord
}

type Redirect struct {
	MessageID uint16
	Host      string
	Port      uint16
}

// Update 的负载格式未定义，按原样保留。
type Update struct {
	MessageID uint16
	Payload   []byte
}

type HangUp struct {
	MessageID uint16
	SessionID uint32
	ErrorCode ErrorCode
}

type ResetServiceTable struct {
	MessageID uint16
}

type ScanNetwork struct {
	MessageID uint16
}

type GetStatus struct {
	MessageID uint16
}

// Status 是对 GET_STATUS 的应答；RequestID 回显请求的消息 ID。
type Status struct {
	MessageID      uint16
	RequestID      uint16
	Flags          uint32
	ActiveSessions uint32
}

type GetScanReport struct {
	MessageID uint16
}

// ScanReport 的负载格式未定义，按原样保留。
type ScanReport struct {
	MessageID uint16
	Payload   []byte
}

const (
	ackLen      = 4
	hangUpLen   = 8
	statusLen   = 10
	registerLen = 16 + 6 + 16

	// MaxSessionID 是 HUP 中 3 字节 session 字段可表达的最大值。
	MaxSessionID uint32 = 0x00ffffff
)

func (m Ack) ID() uint16               { return m.MessageID }
func (m Ping) ID() uint16              { return m.MessageID }
func (m Register) ID() uint16          { return m.MessageID }
func (m Redirect) ID() uint16          { return m.MessageID }
func (m Update) ID() uint16            { return m.MessageID }
func (m HangUp) ID() uint16            { return m.MessageID }
func (m ResetServiceTable) ID() uint16 { return m.MessageID }
func (m ScanNetwork) ID() uint16       { return m.MessageID }
func (m GetStatus) ID() uint16         { return m.MessageID }
func (m Status) ID() uint16            { return m.MessageID }
func (m GetScanReport) ID() uint16     { return m.MessageID }
func (m ScanReport) ID() uint16        { return m.MessageID }

func (Ack) Type() Type               { return TypeAck }
func (Ping) Type() Type              { return TypePing }
func (Register) Type() Type          { return TypeRegister }
func (Redirect) Type() Type          { return TypeRedirect }
func (Update) Type() Type            { return TypeUpdate }
func (HangUp) Type() Type            { return TypeHangUp }
func (ResetServiceTable) Type() Type { return TypeResetSvcTable }
func (ScanNetwork) Type() Type       { return TypeScanNetwork }
func (GetStatus) Type() Type         { return TypeGetStatus }
func (Status) Type() Type            { return TypeStatus }
func (GetScanReport) Type() Type     { return TypeGetScanReport }
func (ScanReport) Type() Type        { return TypeScanReport }

func (m Ack) data() []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(m.ErrorCode))
}

func (Ping) data() []byte { return nil }

func (m Register) data() []byte {
	out := make([]byte, 0, registerLen+64*(len(m.Services)+1))
	out = append(out, m.UUID[:]...)
	out = append(out, m.MAC[:]...)
	out = append(out, m.Passphrase[:]...)
	return AppendServiceTable(out, m.Services)
}

func (m Redirect) data() []byte {
	s := m.Host + ":" + strconv.Itoa(int(m.Port))
	return append([]byte(s), 0)
}

func (m Update) data() []byte { return bytes.Clone(m.Payload) }

func (m HangUp) data() []byte {
	out := binary.BigEndian.AppendUint32(nil, m.SessionID&MaxSessionID)
	return binary.BigEndian.AppendUint32(out, uint32(m.ErrorCode))
}

func (ResetServiceTable) data() []byte { return nil }
func (ScanNetwork) data() []byte       { return nil }
func (GetStatus) data() []byte         { return nil }

func (m Status) data() []byte {
	out := binary.BigEndian.AppendUint16(nil, m.RequestID)
	out = binary.BigEndian.AppendUint32(out, m.Flags)
	return binary.BigEndian.AppendUint32(out, m.ActiveSessions)
}

func (GetScanReport) data() []byte { return nil }

func (m ScanReport) data() []byte { return bytes.Clone(m.Payload) }

// NewStatus 构造 GET_STATUS 的应答，消息 ID 与 request_id 均回显请求 ID。
func NewStatus(requestID uint16, flags, sessions uint32) Status {
	return Status{MessageID: requestID, RequestID: requestID, Flags: flags, ActiveSessions: sessions}
}

// NewRegister 构造 REGISTER 消息并校验身份参数。
// 参数：
// - id: 消息 ID
// - clientUUID: 客户端 UUID 文本
// - passphrase: 口令（UUID 文本）
// - mac: 客户端网卡 MAC（aa:bb:cc:dd:ee:ff）
// - services: 服务表（可为空，表尾总会追加）
// 返回：
// - error: 任一参数格式非法时返回 InvalidArgument
func NewRegister(id uint16, clientUUID, passphrase, mac string, services []ServiceRecord) (Register, error) {
	u, err := uuid.Parse(clientUUID)
	if err != nil {
		return Register{}, aerrors.Wrap(aerrors.CodeInvalidArgument, "invalid client UUID", err)
	}
	p, err := uuid.Parse(passphrase)
	if err != nil {
		return Register{}, aerrors.Wrap(aerrors.CodeInvalidArgument, "invalid passphrase", err)
	}
	m, err := ParseMAC(mac)
	if err != nil {
		return Register{}, err
	}
	return Register{MessageID: id, UUID: u, MAC: m, Passphrase: p, Services: services}, nil
}

// NewRedirect 由 "host:port" 构造 REDIRECT 消息（用于模拟器与测试）。
func NewRedirect(id uint16, hostPort string) (Redirect, error) {
	host, port, err := splitHostPort(hostPort)
	if err != nil {
		return Redirect{}, aerrors.Wrap(aerrors.CodeInvalidArgument, "invalid redirect target", err)
	}
	return Redirect{MessageID: id, Host: host, Port: port}, nil
}

// Address 返回 "host:port" 形式的目标地址。
func (m Redirect) Address() string { return m.Host + ":" + strconv.Itoa(int(m.Port)) }

// splitHostPort 将文本按冒号切分为恰好两段，并解析端口。
func splitHostPort(s string) (string, uint16, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("expected host:port, got %q", s)
	}
	if parts[0] == "" {
		return "", 0, fmt.Errorf("empty host in %q", s)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return parts[0], uint16(port), nil
}

// Encode 将具体消息转换为通用信封。
func Encode(m Message) Envelope {
	return Envelope{MessageID: m.ID(), Type: m.Type(), Data: m.data()}
}

// Marshal 将具体消息编码为帧 body。
func Marshal(m Message) []byte { return Encode(m).Bytes() }

// Decode 按类型码把通用信封解析为具体消息。
// 返回：
// - error: 未知类型或数据非法时返回 MalformedMessage
func Decode(e Envelope) (Message, error) {
	switch e.Type {
	case TypeAck:
		return AsAck(e)
	case TypePing:
		return AsPing(e)
	case TypeRegister:
		return AsRegister(e)
	case TypeRedirect:
		return AsRedirect(e)
	case TypeUpdate:
		return AsUpdate(e)
	case TypeHangUp:
		return AsHangUp(e)
	case TypeResetSvcTable:
		return AsResetServiceTable(e)
	case TypeScanNetwork:
		return AsScanNetwork(e)
	case TypeGetStatus:
		return AsGetStatus(e)
	case TypeStatus:
		return AsStatus(e)
	case TypeGetScanReport:
		return AsGetScanReport(e)
	case TypeScanReport:
		return AsScanReport(e)
	default:
		return nil, aerrors.New(aerrors.CodeMalformedMessage, "unknown control message type "+e.Type.String())
	}
}

// AsAck 在信封上构造 ACK 视图。
func AsAck(e Envelope) (Ack, error) {
	if err := e.expect(TypeAck, ackLen); err != nil {
		return Ack{}, err
	}
	return Ack{MessageID: e.MessageID, ErrorCode: ErrorCode(binary.BigEndian.Uint32(e.Data))}, nil
}

// AsPing 在信封上构造 PING 视图。
func AsPing(e Envelope) (Ping, error) {
	if err := e.expect(TypePing, 0); err != nil {
		return Ping{}, err
	}
	return Ping{MessageID: e.MessageID}, nil
}

// AsRegister 在信封上构造 REGISTER 视图（包含服务表解析）。
func AsRegister(e Envelope) (Register, error) {
	if err := e.expect(TypeRegister, -1); err != nil {
		return Register{}, err
	}
	if len(e.Data) < registerLen {
		return Register{}, aerrors.New(aerrors.CodeMalformedMessage, "REGISTER contains invalid data")
	}
	r := Register{MessageID: e.MessageID}
	copy(r.UUID[:], e.Data[0:16])
	copy(r.MAC[:], e.Data[16:22])
	copy(r.Passphrase[:], e.Data[22:38])
	svc, rest, err := ParseServiceTable(e.Data[registerLen:])
	if err != nil {
		return Register{}, err
	}
	if len(rest) != 0 {
		return Register{}, aerrors.New(aerrors.CodeMalformedMessage, "trailing bytes after service table")
	}
	r.Services = svc
	return r, nil
}

// AsRedirect 在信封上构造 REDIRECT 视图。
// 负载必须是以 NUL 结尾的 "host:port"。
func AsRedirect(e Envelope) (Redirect, error) {
	if err := e.expect(TypeRedirect, -1); err != nil {
		return Redirect{}, err
	}
	if len(e.Data) < 2 || e.Data[len(e.Data)-1] != 0 {
		return Redirect{}, aerrors.New(aerrors.CodeMalformedMessage, "REDIRECT contains invalid data")
	}
	host, port, err := splitHostPort(string(e.Data[:len(e.Data)-1]))
	if err != nil {
		return Redirect{}, aerrors.Wrap(aerrors.CodeMalformedMessage, "REDIRECT contains invalid data", err)
	}
	return Redirect{MessageID: e.MessageID, Host: host, Port: port}, nil
}

// AsUpdate 在信封上构造 UPDATE 视图。
func AsUpdate(e Envelope) (Update, error) {
	if err := e.expect(TypeUpdate, -1); err != nil {
		return Update{}, err
	}
	return Update{MessageID: e.MessageID, Payload: cloneOrNil(e.Data)}, nil
}

// AsHangUp 在信封上构造 HUP 视图。
// session 字段只取 4 字节中的低 3 字节。
func AsHangUp(e Envelope) (HangUp, error) {
	if err := e.expect(TypeHangUp, hangUpLen); err != nil {
		return HangUp{}, err
	}
	d := e.Data
	return HangUp{
		MessageID: e.MessageID,
		SessionID: uint32(d[1])<<16 | uint32(d[2])<<8 | uint32(d[3]),
		ErrorCode: ErrorCode(binary.BigEndian.Uint32(d[4:8])),
	}, nil
}

// AsResetServiceTable 在信封上构造 RESET_SVC_TABLE 视图。
func AsResetServiceTable(e Envelope) (ResetServiceTable, error) {
	if err := e.expect(TypeResetSvcTable, 0); err != nil {
		return ResetServiceTable{}, err
	}
	return ResetServiceTable{MessageID: e.MessageID}, nil
}

// AsScanNetwork 在信封上构造 SCAN_NETWORK 视图。
func AsScanNetwork(e Envelope) (ScanNetwork, error) {
	if err := e.expect(TypeScanNetwork, 0); err != nil {
		return ScanNetwork{}, err
	}
	return ScanNetwork{MessageID: e.MessageID}, nil
}

// AsGetStatus 在信封上构造 GET_STATUS 视图。
func AsGetStatus(e Envelope) (GetStatus, error) {
	if err := e.expect(TypeGetStatus, 0); err != nil {
		return GetStatus{}, err
	}
	return GetStatus{MessageID: e.MessageID}, nil
}

// AsStatus 在信封上构造 STATUS 视图。
func AsStatus(e Envelope) (Status, error) {
	if err := e.expect(TypeStatus, statusLen); err != nil {
		return Status{}, err
	}
	return Status{
		MessageID:      e.MessageID,
		RequestID:      binary.BigEndian.Uint16(e.Data[0:2]),
		Flags:          binary.BigEndian.Uint32(e.Data[2:6]),
		ActiveSessions: binary.BigEndian.Uint32(e.Data[6:10]),
	}, nil
}

// AsGetScanReport 在信封上构造 GET_SCAN_REPORT 视图。
func AsGetScanReport(e Envelope) (GetScanReport, error) {
	if err := e.expect(TypeGetScanReport, 0); err != nil {
		return GetScanReport{}, err
	}
	return GetScanReport{MessageID: e.MessageID}, nil
}

// AsScanReport 在信封上构造 SCAN_REPORT 视图。
func AsScanReport(e Envelope) (ScanReport, error) {
	if err := e.expect(TypeScanReport, -1); err != nil {
		return ScanReport{}, err
	}
	return ScanReport{MessageID: e.MessageID, Payload: cloneOrNil(e.Data)}, nil
}

func cloneOrNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return bytes.Clone(b)
}
