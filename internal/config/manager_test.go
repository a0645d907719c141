package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
http:
  addr: ":8080"
dispatch:
  country_code: "44"
  attachment_delay: 2s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./history.db
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.CountryCode != "44" || cfg.Dispatch.AttachmentDelay != "2s" {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return the committed config")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"http":{"addr":":1"},"telegram":{}}`))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"http":{}}{"http":{}}`))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverridesAddr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"http":{"addr":":5000"}}`)

	t.Setenv(EnvPort, "7000")
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Fatalf("addr = %q, want :7000", cfg.HTTP.Addr)
	}

	t.Setenv(EnvListenAddr, "127.0.0.1:9000")
	cfg, err = NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %q, want listen addr override to win", cfg.HTTP.Addr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{}`)
	writeFile(t, filepath.Join(dir, ".env"), "BULKSENDER_LOG_LEVEL=warn\n")
	t.Cleanup(func() { os.Unsetenv(EnvLogLevel) })

	m := NewConfigManager(path)
	m.LoadDotEnv()
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q, want warn from .env", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]*Config{
		"bad delay":        {Dispatch: DispatchConfig{AttachmentDelay: "soon"}},
		"negative video":   {Dispatch: DispatchConfig{MaxVideoMB: -1}},
		"country letters":  {Dispatch: DispatchConfig{CountryCode: "+91"}},
		"sqlite no path":   {Storage: &StorageConfig{Driver: "sqlite"}},
		"postgres no dsn":  {Storage: &StorageConfig{Driver: "postgres"}},
		"unknown driver":   {Storage: &StorageConfig{Driver: "mongo", Path: "x"}},
		"chat no target":   {Logging: LoggingConfig{Chat: LoggingChat{Enabled: true}}},
		"bad janitor zone": {Janitor: &JanitorConfig{Timezone: "Mars/Olympus"}},
	}
	for name, cfg := range cases {
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Validate(&Config{Storage: &StorageConfig{Driver: "none"}}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"dispatch":{"country_code":"91"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"dispatch":{"country_code":"44"}}`)

	select {
	case cfg := <-sub:
		if cfg.Dispatch.CountryCode != "44" {
			t.Fatalf("published country_code = %q", cfg.Dispatch.CountryCode)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	<-done
}

func TestSummarizeConfigChangeHidesDSN(t *testing.T) {
	oldCfg := &Config{Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://a"}}
	newCfg := &Config{
		Storage:  &StorageConfig{Driver: "postgres", DSN: "postgres://b"},
		Dispatch: DispatchConfig{CountryCode: "1"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "dispatch" {
		t.Fatalf("changed = %v, want only dispatch", changed)
	}
	if got := RestartRequired([]string{"dispatch", "http", "logging"}); len(got) != 1 || got[0] != "http" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := NewConfigManager(filepath.Join("..", "..", "config.example.yaml")).Load()
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Dispatch.CountryCode != "91" || cfg.Storage == nil || cfg.Janitor == nil || !cfg.Janitor.Enabled {
		t.Fatalf("example config = %+v", cfg)
	}
}

func TestDecodeRejectsSecondYAMLDocument(t *testing.T) {
	_, err := Decode("config.yaml", []byte("http:\n  addr: \":1\"\n---\nhttp:\n  addr: \":2\"\n"))
	if err == nil {
		t.Fatal("expected multi-document error")
	}
	cfg, err := Decode("config.yml", nil)
	if err != nil || cfg == nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestParseOptionalDuration(t *testing.T) {
	if d, _ := ParseOptionalDuration("x", "", 10*time.Second); d != 10*time.Second {
		t.Fatalf("empty = %s", d)
	}
	if d, _ := ParseOptionalDuration("x", "0s", 10*time.Second); d != 0 {
		t.Fatalf("0s = %s", d)
	}
	if d, _ := ParseDurationOrDefault("x", "0s", 10*time.Second); d != 10*time.Second {
		t.Fatalf("timeout 0s = %s", d)
	}
	if _, err := ParseOptionalDuration("x", "-1s", 0); err == nil {
		t.Fatal("negative accepted")
	}
}
