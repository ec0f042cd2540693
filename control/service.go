package control

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	aerrors "arrow-client/errors"
)

// MAC 是 6 字节硬件地址。
type MAC [6]byte

// String 以 aa:bb:cc:dd:ee:ff 形式输出。
func (m MAC) String() string {
	var sb strings.Builder
	for i, b := range m {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{b}))
	}
	return sb.String()
}

// ParseMAC 解析恰好由 6 个冒号分隔的十六进制字节组成的 MAC 地址。
// 返回：
// - error: 格式不符时返回 InvalidArgument
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(s, ":")
	if len(parts) != len(m) {
		return MAC{}, aerrors.Newf(aerrors.CodeInvalidArgument, "invalid MAC address [%s]", s)
	}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return MAC{}, aerrors.Newf(aerrors.CodeInvalidArgument, "invalid MAC address [%s]", s)
		}
		if len(p) == 1 {
			p = "0" + p
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return MAC{}, aerrors.Wrap(aerrors.CodeInvalidArgument, fmt.Sprintf("invalid MAC address [%s]", s), err)
		}
		m[i] = b[0]
	}
	return m, nil
}

type ServiceType uint16

const (
	ServiceControl         ServiceType = 0x0000
	ServiceRTSP            ServiceType = 0x0001
	ServiceLockedRTSP      ServiceType = 0x0002
	ServiceUnknownRTSP     ServiceType = 0x0003
	ServiceUnsupportedRTSP ServiceType = 0x0004
	ServiceHTTP            ServiceType = 0x0005
	ServiceMJPEG           ServiceType = 0x0006
	ServiceLockedMJPEG     ServiceType = 0x0007
	ServiceTCP             ServiceType = 0xffff
)

var serviceTypeNames = map[string]ServiceType{
	"rtsp":             ServiceRTSP,
	"locked_rtsp":      ServiceLockedRTSP,
	"unknown_rtsp":     ServiceUnknownRTSP,
	"unsupported_rtsp": ServiceUnsupportedRTSP,
	"http":             ServiceHTTP,
	"mjpeg":            ServiceMJPEG,
	"locked_mjpeg":     ServiceLockedMJPEG,
	"tcp":              ServiceTCP,
}

// ParseServiceType 将配置中的服务类型名称解析为协议值。
func ParseServiceType(name string) (ServiceType, error) {
	t, ok := serviceTypeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, aerrors.Newf(aerrors.CodeInvalidArgument, "unknown service type %q", name)
	}
	return t, nil
}

// String 返回服务类型名称。
func (t ServiceType) String() string {
	if t == ServiceControl {
		return "control"
	}
	for n, v := range serviceTypeNames {
		if v == t {
			return n
		}
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// ServiceRecord 是注册时上报的一条服务表记录。
type ServiceRecord struct {
	ID   uint16
	Type ServiceType
	MAC  MAC
	IP   netip.Addr
	Port uint16
	Path string
}

const (
	ipVersion4 = 4
	ipFieldLen = 16
	// svc_id(2) + svc_type(2) + mac(6) + ip_version(1) + ip(16) + port(2)
	recordFixedLen = 2 + 2 + 6 + 1 + ipFieldLen + 2
)

// NewServiceRecord 构造服务表记录并校验参数。
// 参数：
// - id: 服务 ID（不可为 0，0 保留给控制伪服务与表尾）
// - typ: 服务类型
// - mac: 服务所在主机 MAC（未知时为 00:00:00:00:00:00）
// - ip: IPv4 地址
// - port: 服务端口
// - path: URL 路径（不得包含 NUL）
func NewServiceRecord(id uint16, typ ServiceType, mac string, ip netip.Addr, port uint16, path string) (ServiceRecord, error) {
	if id == 0 {
		return ServiceRecord{}, aerrors.New(aerrors.CodeInvalidArgument, "service ID 0 is reserved")
	}
	m, err := ParseMAC(mac)
	if err != nil {
		return ServiceRecord{}, err
	}
	if !ip.Is4() {
		return ServiceRecord{}, aerrors.Newf(aerrors.CodeInvalidArgument, "service address %s is not IPv4", ip)
	}
	if strings.IndexByte(path, 0) >= 0 {
		return ServiceRecord{}, aerrors.New(aerrors.CodeInvalidArgument, "service path contains NUL")
	}
	return ServiceRecord{ID: id, Type: typ, MAC: m, IP: ip, Port: port, Path: path}, nil
}

// IsSentinel 判断记录是否为表尾（service ID 与类型均为 0）。
func (r ServiceRecord) IsSentinel() bool { return r.ID == 0 && r.Type == ServiceControl }

// appendRecord 追加一条记录的线格式。
func appendRecord(dst []byte, r ServiceRecord) []byte {
	var fixed [recordFixedLen]byte
	binary.BigEndian.PutUint16(fixed[0:2], r.ID)
	binary.BigEndian.PutUint16(fixed[2:4], uint16(r.Type))
	copy(fixed[4:10], r.MAC[:])
	fixed[10] = ipVersion4
	if r.IP.Is4() {
		a4 := r.IP.As4()
		copy(fixed[11:15], a4[:])
	}
	binary.BigEndian.PutUint16(fixed[27:29], r.Port)
	dst = append(dst, fixed[:]...)
	dst = append(dst, r.Path...)
	return append(dst, 0)
}

// AppendServiceTable 按给定顺序追加服务表，并总是追加表尾记录。
func AppendServiceTable(dst []byte, records []ServiceRecord) []byte {
	for _, r := range records {
		dst = appendRecord(dst, r)
	}
	return appendRecord(dst, ServiceRecord{})
}

// ParseServiceTable 解析服务表直到（包含）表尾记录。
// 返回：
// - []ServiceRecord: 不含表尾的记录（无记录时为 nil）
// - []byte: 表尾之后的剩余字节
// - error: 结构非法时返回 MalformedMessage
func ParseServiceTable(b []byte) ([]ServiceRecord, []byte, error) {
	var out []ServiceRecord
	for {
		if len(b) < recordFixedLen+1 {
			return nil, nil, aerrors.New(aerrors.CodeMalformedMessage, "service table truncated")
		}
		var r ServiceRecord
		r.ID = binary.BigEndian.Uint16(b[0:2])
		r.Type = ServiceType(binary.BigEndian.Uint16(b[2:4]))
		copy(r.MAC[:], b[4:10])
		if b[10] != ipVersion4 && b[10] != 0 {
			return nil, nil, aerrors.Newf(aerrors.CodeMalformedMessage, "unsupported ip version %d", b[10])
		}
		var a4 [4]byte
		copy(a4[:], b[11:15])
		r.IP = netip.AddrFrom4(a4)
		r.Port = binary.BigEndian.Uint16(b[27:29])
		rest := b[recordFixedLen:]
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return nil, nil, aerrors.New(aerrors.CodeMalformedMessage, "service path not NUL-terminated")
		}
		r.Path = string(rest[:end])
		b = rest[end+1:]
		if r.IsSentinel() {
			return out, b, nil
		}
		out = append(out, r)
	}
}
