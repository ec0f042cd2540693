package status

import (
	"encoding/json"
	"testing"
)

// TestStatusParseAndJSON 验证 status 系列枚举的解析与 JSON 编解码。
func TestStatusParseAndJSON(t *testing.T) {
	for _, v := range []string{"Starting", "Running", "Stopping", "Stopped"} {
		if _, err := ParseClientStatus(v); err != nil {
			t.Fatalf("client parse %q: %v", v, err)
		}
	}
	for _, v := range []string{"Idle", "Connecting", "Registering", "Serving", "Draining", "BackingOff"} {
		if _, err := ParseLinkState(v); err != nil {
			t.Fatalf("link parse %q: %v", v, err)
		}
	}

	b, err := json.Marshal(LinkServing)
	if err != nil {
		t.Fatal(err)
	}
	var ls LinkState
	if err := json.Unmarshal(b, &ls); err != nil {
		t.Fatal(err)
	}
	if ls != LinkServing || ls.Ordinal() != 3 {
		t.Fatalf("ls=%s ordinal=%d", ls, ls.Ordinal())
	}

	b, err = json.Marshal(ClientRunning)
	if err != nil {
		t.Fatal(err)
	}
	var cs ClientStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		t.Fatal(err)
	}
	if cs != ClientRunning {
		t.Fatalf("cs=%s", cs)
	}
}

// TestStatusParseUnknown 验证未知文本会被拒绝。
func TestStatusParseUnknown(t *testing.T) {
	if _, err := ParseLinkState("Flying"); err == nil {
		t.Fatalf("expected error")
	}
	var ls LinkState
	if err := json.Unmarshal([]byte(`"Flying"`), &ls); err == nil {
		t.Fatalf("expected error")
	}
	if err := json.Unmarshal([]byte(`3`), &ls); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseClientStatus(""); err == nil {
		t.Fatalf("expected error")
	}
}
