package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: ./bot.log
storage:
  path: ./data/schedules.db
  busy_timeout: "5s"
dispatch:
  tick: "30s"
notify:
  workers: 2
  queue_size: 128
  rate_per_sec: 3
  retry_max: 3
  retry_base: "500ms"
  retry_max_delay: "10s"
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.File.Enabled {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/schedules.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Dispatch.Tick != "30s" {
		t.Errorf("tick = %q", cfg.Dispatch.Tick)
	}
	if cfg.Notify == nil || cfg.Notify.QueueSize != 128 {
		t.Errorf("notify = %+v", cfg.Notify)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
  "telegram": {"token": "t", "poll_timeout": "5s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"path": "x.db"}
}`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.PollTimeout != "5s" || cfg.Storage.Path != "x.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Notify != nil {
		t.Error("omitted notify section should stay nil")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  pool_timeout: "5s"
logging:
  level: info
  console: true
storage:
  path: x.db
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected misspelled key to be rejected")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"t","poll_timeout":"5s"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"storage":{"path":"x"}}{"extra":1}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  10s ", 10 * time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"-1s", 0, true},
		{"banana", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("f", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Errorf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "3s", 7*time.Second); err != nil || d != 3*time.Second {
		t.Errorf("set: got %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Path: "a.db"},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug", Console: true},
		Storage:  StorageConfig{Path: "a.db"},
		Dispatch: DispatchConfig{Tick: "15s"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "dispatch": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Errorf("unexpected section %q", c)
		}
	}
}
