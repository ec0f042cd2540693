package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ClientStatus string

const (
	ClientStarting ClientStatus = "Starting"
	ClientRunning  ClientStatus = "Running"
	ClientStopping ClientStatus = "Stopping"
	ClientStopped  ClientStatus = "Stopped"
)

// String 返回进程状态文本。
func (s ClientStatus) String() string { return string(s) }

// ParseClientStatus 将文本解析为 ClientStatus。
// 参数：
// - v: 状态文本（Starting/Running/Stopping/Stopped）
// 返回：
// - ClientStatus: 解析结果
// - error: 未知状态时返回错误
func ParseClientStatus(v string) (ClientStatus, error) {
	switch strings.TrimSpace(v) {
	case string(ClientStarting):
		return ClientStarting, nil
	case string(ClientRunning):
		return ClientRunning, nil
	case string(ClientStopping):
		return ClientStopping, nil
	case string(ClientStopped):
		return ClientStopped, nil
	default:
		return "", fmt.Errorf("unknown ClientStatus: %q", v)
	}
}

// MarshalJSON 将 ClientStatus 编码为 JSON 字符串。
func (s ClientStatus) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 ClientStatus。
func (s *ClientStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseClientStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LinkState 是控制连接生命周期状态机的当前状态。
type LinkState string

const (
	LinkIdle        LinkState = "Idle"
	LinkConnecting  LinkState = "Connecting"
	LinkRegistering LinkState = "Registering"
	LinkServing     LinkState = "Serving"
	LinkDraining    LinkState = "Draining"
	LinkBackingOff  LinkState = "BackingOff"
)

// String 返回链路状态文本。
func (s LinkState) String() string { return string(s) }

// Ordinal 返回状态的数值编号（用于指标导出）。
func (s LinkState) Ordinal() int {
	switch s {
	case LinkConnecting:
		return 1
	case LinkRegistering:
		return 2
	case LinkServing:
		return 3
	case LinkDraining:
		return 4
	case LinkBackingOff:
		return 5
	default:
		return 0
	}
}

// ParseLinkState 将文本解析为 LinkState。
// 参数：
// - v: 状态文本（Idle/Connecting/Registering/Serving/Draining/BackingOff）
// 返回：
// - LinkState: 解析结果
// - error: 未知状态时返回错误
func ParseLinkState(v string) (LinkState, error) {
	switch strings.TrimSpace(v) {
	case string(LinkIdle):
		return LinkIdle, nil
	case string(LinkConnecting):
		return LinkConnecting, nil
	case string(LinkRegistering):
		return LinkRegistering, nil
	case string(LinkServing):
		return LinkServing, nil
	case string(LinkDraining):
		return LinkDraining, nil
	case string(LinkBackingOff):
		return LinkBackingOff, nil
	default:
		return "", fmt.Errorf("unknown LinkState: %q", v)
	}
}

// MarshalJSON 将 LinkState 编码为 JSON 字符串。
func (s LinkState) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 LinkState。
func (s *LinkState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseLinkState(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
