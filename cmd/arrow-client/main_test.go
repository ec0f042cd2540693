package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestResolveConfigPath 验证目录参数会补全为 config.yaml。
func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	if got := resolveConfigPath(dir); got != filepath.Join(dir, "config.yaml") {
		t.Fatalf("dir: got %s", got)
	}
	file := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(file, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := resolveConfigPath(file); got != file {
		t.Fatalf("file: got %s", got)
	}
	if got := resolveConfigPath(""); got != "configs/config.yaml" {
		t.Fatalf("empty: got %s", got)
	}
}

// TestVersionCommand 验证 version 子命令输出版本号。
func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Fatalf("output %q", out.String())
	}
}

// TestIdentityCommand 验证 identity 子命令创建身份文件并输出配置中的 MAC。
func TestIdentityCommand(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "identity.yaml")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "arrow:\n  mac: \"00:11:22:33:44:55\"\n  identity_file: " + idPath + "\ntls:\n  enabled: false\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd := identityCmd()
	cmd.Flags().String("config_path", cfgPath, "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "mac:        00:11:22:33:44:55") || !strings.Contains(out.String(), "uuid:") {
		t.Fatalf("output %q", out.String())
	}
	if _, err := os.Stat(idPath); err != nil {
		t.Fatalf("identity file not created: %v", err)
	}
}
