package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/errors"
	"github.com/logsift/logsift/pkg/window"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}

func TestDefaultStreamBindings(t *testing.T) {
	kinds := Default().StreamKinds()

	want := map[string]model.Kind{
		"logs-structured": model.KindStructured,
		"logs-syslog-raw": model.KindSyslog,
		"logs-nginx-raw":  model.KindNginx,
		"logs-app-mixed":  model.KindAppLegacy,
		"telemetry-otel":  model.KindOTelSpan,
	}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %d streams, got %d", len(want), len(kinds))
	}
	for stream, kind := range want {
		if kinds[stream] != kind {
			t.Errorf("stream %s: expected kind %v, got %v", stream, kind, kinds[stream])
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesExplicitFile(t *testing.T) {
	path := writeConfig(t, `
parsers:
  default_year: 1999
windows:
  lateness: 45s
  shards: 8
server:
  port: 7777
`)

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Parsers.DefaultYear != 1999 {
		t.Errorf("Expected default_year 1999, got %d", cfg.Parsers.DefaultYear)
	}
	if cfg.Windows.Lateness.Std() != 45*time.Second {
		t.Errorf("Expected lateness 45s, got %v", cfg.Windows.Lateness.Std())
	}
	if cfg.Windows.Shards != 8 {
		t.Errorf("Expected 8 shards, got %d", cfg.Windows.Shards)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Expected port 7777, got %d", cfg.Server.Port)
	}

	// Untouched sections keep their defaults
	if cfg.Windows.MaxSkew.Std() != time.Hour {
		t.Errorf("Expected default max_skew 1h, got %v", cfg.Windows.MaxSkew.Std())
	}
	if cfg.Alerts.ErrorRateCriticalPct != 10 {
		t.Errorf("Expected default error rate threshold, got %v", cfg.Alerts.ErrorRateCriticalPct)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	m := NewManager()
	err := m.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config")
	}
	if !errors.IsCode(err, errors.CodeSourceNotFound) {
		t.Errorf("Expected source-not-found code, got %v", errors.GetCode(err))
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "windows: [not a mapping")

	m := NewManager()
	if err := m.Load(path); err == nil {
		t.Fatal("Expected error for malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOGSIFT_DEFAULT_YEAR", "2001")
	t.Setenv("LOGSIFT_PORT", "9999")
	t.Setenv("LOGSIFT_CHECKPOINT_BACKEND", "redis")

	m := NewManager()
	if err := m.Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Parsers.DefaultYear != 2001 {
		t.Errorf("Expected default_year 2001, got %d", cfg.Parsers.DefaultYear)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Checkpoint.Backend != "redis" {
		t.Errorf("Expected redis backend, got %s", cfg.Checkpoint.Backend)
	}
}

func TestFlushOnShutdownExplicitFalse(t *testing.T) {
	if !Default().FlushOnShutdown() {
		t.Fatal("Expected flush on shutdown by default")
	}

	path := writeConfig(t, "windows:\n  flush_on_shutdown: false\n")
	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Get().FlushOnShutdown() {
		t.Error("Expected explicit false to survive merging")
	}
}

func TestInputsFromFile(t *testing.T) {
	path := writeConfig(t, `
inputs:
  - stream: logs-structured
    path: app.jsonl
  - stream: logs-syslog-raw
    path: /var/log/syslog
    follow: true
`)

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if len(cfg.Inputs) != 2 {
		t.Fatalf("Expected 2 inputs, got %d", len(cfg.Inputs))
	}
	if cfg.Inputs[0].Stream != "logs-structured" || cfg.Inputs[0].Path != "app.jsonl" {
		t.Errorf("Unexpected first input: %+v", cfg.Inputs[0])
	}
	if cfg.Inputs[0].Follow {
		t.Error("Expected follow to default to false")
	}
	if !cfg.Inputs[1].Follow {
		t.Error("Expected follow true on second input")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected inputs to validate, got %v", err)
	}
}

func TestQueryDurationOverride(t *testing.T) {
	cfg := Default()
	cfg.Windows.Durations[window.QueryErrorRateByService] = Duration(5 * time.Minute)

	if d := cfg.QueryDuration(window.QueryErrorRateByService, time.Minute); d != 5*time.Minute {
		t.Errorf("Expected 5m override, got %v", d)
	}
	if d := cfg.QueryDuration(window.QueryLatencyByService, time.Minute); d != time.Minute {
		t.Errorf("Expected stock 1m, got %v", d)
	}
}

func TestDurationYAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}

	if err := yaml.Unmarshal([]byte("d: 90s"), &v); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v.D.Std() != 90*time.Second {
		t.Errorf("Expected 90s, got %v", v.D.Std())
	}

	if err := yaml.Unmarshal([]byte("d: 1000000000"), &v); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v.D.Std() != time.Second {
		t.Errorf("Expected integer nanoseconds, got %v", v.D.Std())
	}

	if err := yaml.Unmarshal([]byte("d: fast"), &v); err == nil {
		t.Error("Expected error for unparsable duration")
	}

	out, err := yaml.Marshal(Duration(2 * time.Minute))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "2m0s\n" {
		t.Errorf("Expected duration string form, got %q", out)
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no streams", func(c *Config) { c.Streams = nil }},
		{"unknown format", func(c *Config) { c.Streams["logs-structured"] = "csv2" }},
		{"ancient default year", func(c *Config) { c.Parsers.DefaultYear = 1868 }},
		{"zero workers", func(c *Config) { c.Parsers.Workers = 0 }},
		{"bad timezone", func(c *Config) { c.Parsers.Timezone = "Mars/Olympus" }},
		{"negative lateness", func(c *Config) { c.Windows.Lateness = Duration(-time.Second) }},
		{"zero shards", func(c *Config) { c.Windows.Shards = 0 }},
		{"nil flush choice", func(c *Config) { c.Windows.FlushOnShutdown = nil }},
		{"unknown query duration", func(c *Config) { c.Windows.Durations["warp-speed"] = Duration(time.Minute) }},
		{"zero query duration", func(c *Config) { c.Windows.Durations[window.QueryLatencyByService] = 0 }},
		{"broken alert tiers", func(c *Config) { c.Alerts.ErrorRateCriticalPct = 1 }},
		{"input without stream", func(c *Config) { c.Inputs = []InputConfig{{Path: "app.log"}} }},
		{"input on unbound stream", func(c *Config) { c.Inputs = []InputConfig{{Stream: "logs-noexist", Path: "app.log"}} }},
		{"input without path", func(c *Config) { c.Inputs = []InputConfig{{Stream: "logs-structured"}} }},
		{"empty dlq dir", func(c *Config) { c.DLQ.Dir = "" }},
		{"bad checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.Checkpoint.Backend = "s3"; c.Checkpoint.S3.Bucket = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Parsers.Workers = 0
	cfg.Windows.Shards = 0
	cfg.DLQ.Dir = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	multi, ok := err.(*errors.MultiError)
	if !ok {
		t.Fatalf("Expected MultiError, got %T", err)
	}
	if len(multi.Errors) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(multi.Errors), multi)
	}
}
