package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"arrow-client/config"
)

// TestInitJSONAddsRuntimeFields 验证 JSON 格式输出并由 hook 补齐 goid/ts_ms/func 字段。
func TestInitJSONAddsRuntimeFields(t *testing.T) {
	if err := Init(config.LoggingConfig{Level: "debug", Format: "json", Output: "console"}); err != nil {
		t.Fatal(err)
	}
	defer Close()
	var buf bytes.Buffer
	L().SetOutput(&buf)
	Component("relay").WithField("status", "session_start").Info("会话开始")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("bad json %q: %v", buf.String(), err)
	}
	if rec["status"] != "session_start" || rec["msg"] != "会话开始" || rec["component"] != "relay" {
		t.Fatalf("bad record: %v", rec)
	}
	for _, k := range []string{"goid", "ts_ms"} {
		if _, ok := rec[k]; !ok {
			t.Fatalf("missing %s: %v", k, rec)
		}
	}
	fn, _ := rec["func"].(string)
	if !strings.Contains(fn, "TestInitJSONAddsRuntimeFields") {
		t.Fatalf("func=%q", fn)
	}
}

// TestInitFileOutput 验证 file 输出会创建目录，Close 后文件内容已落盘。
func TestInitFileOutput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "arrow.log")
	cfg := config.LoggingConfig{Level: "bogus", Format: "text", Output: "file", FilePath: p, MaxSize: 1 << 20, MaxAge: 1}
	if err := Init(cfg); err != nil {
		t.Fatal(err)
	}
	if L().GetLevel().String() != "info" {
		t.Fatalf("level=%s", L().GetLevel())
	}
	With(map[string]any{"status": "probe"}).Info("写入文件")
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "status=probe") {
		t.Fatalf("log file %q", raw)
	}
	if err := Init(config.LoggingConfig{Output: "discard"}); err != nil {
		t.Fatal(err)
	}
}
