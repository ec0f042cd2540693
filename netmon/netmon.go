// Package netmon 轮询本机网卡状态，向链路引擎报告 WiFi / 移动网络是否可用。
package netmon

import (
	"context"
	"fmt"
	"net"
	"time"

	"arrow-client/config"
	alog "arrow-client/log"
)

// Sink 接收网络可用性变化（link.Engine 实现）。
type Sink interface {
	SetWiFiAvailable(bool)
	SetMobileAvailable(bool)
}

type Monitor struct {
	wifi     []string
	mobile   []string
	interval time.Duration
	ifaceUp  func(name string) bool
}

// New 根据网络配置创建轮询器。
func New(cfg config.NetworkConfig) *Monitor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		wifi:     cfg.WiFi,
		mobile:   cfg.Mobile,
		interval: interval,
		ifaceUp:  interfaceUp,
	}
}

// Poll 立即检查一次，返回 WiFi 与移动网络是否至少有一个网卡可用。
func (m *Monitor) Poll() (wifi, mobile bool) {
	return m.anyUp(m.wifi), m.anyUp(m.mobile)
}

func (m *Monitor) anyUp(names []string) bool {
	for _, n := range names {
		if m.ifaceUp(n) {
			return true
		}
	}
	return false
}

// Run 周期性轮询并把结果推送给 sink，直到 ctx 取消。首次结果立即推送，之后只推送变化。
func (m *Monitor) Run(ctx context.Context, sink Sink) {
	wifi, mobile := m.Poll()
	sink.SetWiFiAvailable(wifi)
	sink.SetMobileAvailable(mobile)
	m.logChange(wifi, mobile)

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w, mo := m.Poll()
			if w != wifi {
				sink.SetWiFiAvailable(w)
			}
			if mo != mobile {
				sink.SetMobileAvailable(mo)
			}
			if w != wifi || mo != mobile {
				m.logChange(w, mo)
			}
			wifi, mobile = w, mo
		}
	}
}

func (m *Monitor) logChange(wifi, mobile bool) {
	alog.Component("netmon").WithFields(map[string]any{"wifi": wifi, "mobile": mobile, "status": "network"}).Info("网络可用性变化")
}

// interfaceUp 判断网卡存在、已启用且至少配置了一个地址。
func interfaceUp(name string) bool {
	ifi, err := net.InterfaceByName(name)
	if err != nil || ifi.Flags&net.FlagUp == 0 {
		return false
	}
	addrs, err := ifi.Addrs()
	return err == nil && len(addrs) > 0
}

// HardwareAddr 返回指定网卡的 MAC 地址（aa:bb:cc:dd:ee:ff）。
// 返回：
// - error: 网卡不存在或没有 6 字节硬件地址
func HardwareAddr(name string) (string, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("interface %s: %w", name, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return "", fmt.Errorf("interface %s has no MAC address", name)
	}
	return ifi.HardwareAddr.String(), nil
}
