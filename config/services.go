package config

import (
	"fmt"
	"net/netip"

	"arrow-client/control"
)

const unknownMAC = "00:00:00:00:00:00"

// ServiceRecords 将服务配置转换为 REGISTER 上报的服务表。
// 规则：
// - port 为 0 时使用 local.port
// - 地址取 local.host（非 IPv4 时回退到 127.0.0.1）
// 返回：
// - error: 服务类型或参数非法
func (c Config) ServiceRecords() ([]control.ServiceRecord, error) {
	ip, err := netip.ParseAddr(c.Local.Host)
	if err != nil || !ip.Is4() {
		ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	out := make([]control.ServiceRecord, 0, len(c.Services))
	for _, s := range c.Services {
		typ, err := control.ParseServiceType(s.Type)
		if err != nil {
			return nil, err
		}
		port := s.Port
		if port == 0 {
			port = c.Local.Port
		}
		rec, err := control.NewServiceRecord(uint16(s.ID), typ, unknownMAC, ip, uint16(port), s.Path)
		if err != nil {
			return nil, fmt.Errorf("service %d: %w", s.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
