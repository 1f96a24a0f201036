package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSchema = `
engine: {
	binary:              string & !=""
	default_timeout_ms?: int & >0
	grace_period_ms?:    int & >0
	artifact_extensions?: [...string]
}

data_dir?:                 string
admin_addr?:               string
health_check_interval_ms?: int & >0

recovery?: {
	max_retries?:                   int & >=0
	retry_delay_ms?:                int & >0
	exponential_backoff?:           bool
	crash_rate_threshold_per_hour?: int & >0
	auto_restart?:                  bool
	graceful_shutdown_timeout_ms?:  int & >0
}

log_level?: "debug" | "info" | "warn" | "error"
log_json?:  bool
`

func writeTestFiles(t *testing.T, yaml string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "orchestrator.yaml")
	schemaPath := filepath.Join(dir, "orchestrator.cue")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, schemaPath
}

func TestLoadConfig_Valid(t *testing.T) {
	cfgPath, schemaPath := writeTestFiles(t, `
engine:
  binary: /usr/local/bin/openwam
  default_timeout_ms: 60000
data_dir: /var/lib/enginesim
recovery:
  max_retries: 5
`)
	cfg, err := Load(cfgPath, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Engine.Binary != "/usr/local/bin/openwam" {
		t.Errorf("binary = %q", cfg.Engine.Binary)
	}
	if cfg.Engine.DefaultTimeoutMs != 60000 {
		t.Errorf("timeout = %d, want 60000", cfg.Engine.DefaultTimeoutMs)
	}
	if cfg.Recovery.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Recovery.MaxRetries)
	}
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	cfgPath, schemaPath := writeTestFiles(t, `
engine:
  binary: /usr/local/bin/openwam
`)
	cfg, err := Load(cfgPath, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Engine.DefaultTimeoutMs != 1800000 {
		t.Errorf("default timeout = %d, want 30 minutes", cfg.Engine.DefaultTimeoutMs)
	}
	if cfg.Engine.GracePeriodMs != 5000 {
		t.Errorf("default grace = %d, want 5000", cfg.Engine.GracePeriodMs)
	}
	if cfg.Recovery.CrashRateThresholdPerHour != 5 {
		t.Errorf("default crash rate threshold = %d, want 5", cfg.Recovery.CrashRateThresholdPerHour)
	}
	if cfg.Recovery.GracefulShutdownTimeoutMs != 30000 {
		t.Errorf("default shutdown timeout = %d, want 30000", cfg.Recovery.GracefulShutdownTimeoutMs)
	}
	if len(cfg.Engine.ArtifactExtensions) == 0 {
		t.Error("default artifact extensions missing")
	}
}

func TestLoadConfig_SchemaViolation(t *testing.T) {
	cfgPath, schemaPath := writeTestFiles(t, `
engine:
  binary: /usr/local/bin/openwam
log_level: loud
`)
	if _, err := Load(cfgPath, schemaPath); err == nil {
		t.Fatal("expected schema violation for invalid log level")
	} else if !strings.Contains(err.Error(), "schema") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, schemaPath := writeTestFiles(t, "engine: {binary: x}")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), schemaPath); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
