package control

import (
	"net/netip"
	"testing"

	aerrors "arrow-client/errors"
)

// TestServiceTableSentinel 验证空表仅包含表尾，N 条记录产生 N+1 条。
func TestServiceTableSentinel(t *testing.T) {
	empty := AppendServiceTable(nil, nil)
	if len(empty) != recordFixedLen+1 {
		t.Fatalf("empty table len=%d", len(empty))
	}
	for _, b := range empty {
		if b != 0 && b != ipVersion4 {
			t.Fatalf("unexpected sentinel bytes %x", empty)
		}
	}
	recs, rest, err := ParseServiceTable(empty)
	if err != nil || recs != nil || len(rest) != 0 {
		t.Fatalf("parse empty: %v %v %v", recs, rest, err)
	}

	ip := netip.MustParseAddr("192.168.1.10")
	a, _ := NewServiceRecord(1, ServiceRTSP, "aa:bb:cc:dd:ee:ff", ip, 554, "/video/h264")
	b, _ := NewServiceRecord(2, ServiceHTTP, "0:0:0:0:0:1", ip, 80, "")
	table := AppendServiceTable(nil, []ServiceRecord{a, b})
	want := 3*(recordFixedLen+1) + len("/video/h264")
	if len(table) != want {
		t.Fatalf("table len=%d want %d", len(table), want)
	}
	recs, rest, err = ParseServiceTable(append(table, 9))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 2 || recs[0] != a || recs[1] != b {
		t.Fatalf("records mismatch: %+v", recs)
	}
	if len(rest) != 1 || rest[0] != 9 {
		t.Fatalf("rest=%x", rest)
	}
}

// TestServiceRecordLayout 验证 IPv4 地址左对齐写入 16 字节字段。
func TestServiceRecordLayout(t *testing.T) {
	r, err := NewServiceRecord(0x0102, ServiceTCP, "00:00:00:00:00:00", netip.MustParseAddr("10.0.0.1"), 0x1f90, "/x")
	if err != nil {
		t.Fatalf("NewServiceRecord: %v", err)
	}
	out := AppendServiceTable(nil, []ServiceRecord{r})
	if out[0] != 0x01 || out[1] != 0x02 || out[2] != 0xff || out[3] != 0xff {
		t.Fatalf("header bytes %x", out[:4])
	}
	if out[10] != 4 || out[11] != 10 || out[14] != 1 || out[15] != 0 {
		t.Fatalf("ip bytes %x", out[10:27])
	}
	if out[27] != 0x1f || out[28] != 0x90 || string(out[29:31]) != "/x" || out[31] != 0 {
		t.Fatalf("tail bytes %x", out[27:32])
	}
}

// TestNewServiceRecordValidation 验证记录构造参数校验。
func TestNewServiceRecordValidation(t *testing.T) {
	ip := netip.MustParseAddr("127.0.0.1")
	cases := []struct {
		name string
		fn   func() error
	}{
		{"zero id", func() error { _, err := NewServiceRecord(0, ServiceRTSP, "00:00:00:00:00:00", ip, 1, ""); return err }},
		{"bad mac", func() error { _, err := NewServiceRecord(1, ServiceRTSP, "00:00", ip, 1, ""); return err }},
		{"ipv6", func() error {
			_, err := NewServiceRecord(1, ServiceRTSP, "00:00:00:00:00:00", netip.MustParseAddr("::1"), 1, "")
			return err
		}},
		{"nul path", func() error { _, err := NewServiceRecord(1, ServiceRTSP, "00:00:00:00:00:00", ip, 1, "a\x00b"); return err }},
	}
	for _, tc := range cases {
		if err := tc.fn(); !aerrors.Is(err, aerrors.CodeInvalidArgument) {
			t.Fatalf("%s: expected invalid argument, got %v", tc.name, err)
		}
	}
}

// TestParseMACAndServiceType 验证 MAC 与服务类型名称解析。
func TestParseMACAndServiceType(t *testing.T) {
	m, err := ParseMAC("0:1a:2B:3c:4d:5e")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	if m.String() != "00:1a:2b:3c:4d:5e" {
		t.Fatalf("mac=%s", m)
	}
	if _, err := ParseMAC("001:1a:2b:3c:4d:5e"); !aerrors.Is(err, aerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument")
	}
	typ, err := ParseServiceType(" RTSP ")
	if err != nil || typ != ServiceRTSP || typ.String() != "rtsp" {
		t.Fatalf("ParseServiceType: %v %v", typ, err)
	}
	if _, err := ParseServiceType("ftp"); !aerrors.Is(err, aerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument")
	}
}

// TestParseServiceTableTruncated 验证截断与未终止路径被拒绝。
func TestParseServiceTableTruncated(t *testing.T) {
	full := AppendServiceTable(nil, nil)
	if _, _, err := ParseServiceTable(full[:10]); !aerrors.Is(err, aerrors.CodeMalformedMessage) {
		t.Fatalf("truncated accepted")
	}
	noNul := append([]byte(nil), full[:recordFixedLen]...)
	noNul = append(noNul, 'x')
	if _, _, err := ParseServiceTable(noNul); !aerrors.Is(err, aerrors.CodeMalformedMessage) {
		t.Fatalf("unterminated path accepted")
	}
}
