// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine describes the external simulation executable and how runs treat it.
type Engine struct {
	Binary             string   `yaml:"binary"`
	DefaultTimeoutMs   int      `yaml:"default_timeout_ms"`
	GracePeriodMs      int      `yaml:"grace_period_ms"`
	ArtifactExtensions []string `yaml:"artifact_extensions"`
}

// Recovery holds the crash supervisor's retry policy.
type Recovery struct {
	MaxRetries                int  `yaml:"max_retries"`
	RetryDelayMs              int  `yaml:"retry_delay_ms"`
	ExponentialBackoff        bool `yaml:"exponential_backoff"`
	CrashRateThresholdPerHour int  `yaml:"crash_rate_threshold_per_hour"`
	AutoRestart               bool `yaml:"auto_restart"`
	GracefulShutdownTimeoutMs int  `yaml:"graceful_shutdown_timeout_ms"`
}

// OrchestratorConfig is the root configuration for the orchestration server.
type OrchestratorConfig struct {
	Engine                Engine   `yaml:"engine"`
	DataDir               string   `yaml:"data_dir"`
	AdminAddr             string   `yaml:"admin_addr"`
	HealthCheckIntervalMs int      `yaml:"health_check_interval_ms"`
	Recovery              Recovery `yaml:"recovery"`
	LogLevel              string   `yaml:"log_level"`
	LogJSON               bool     `yaml:"log_json"`
}

// Defaults matching the operational values the server was tuned with.
const (
	DefaultTimeout          = 30 * time.Minute
	DefaultGracePeriod      = 5 * time.Second
	DefaultHealthInterval   = 10 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultRetryDelay       = time.Second
	DefaultMaxRetries       = 3
	DefaultCrashRatePerHour = 5
)

// DefaultArtifactExtensions are the result-file families scanned for in run
// output directories.
var DefaultArtifactExtensions = []string{".csv", ".dat", ".res", ".out", ".avl"}

// Load loads YAML config, validates it against a CUE schema, and fills defaults.
func Load(configPath, cueSchemaPath string) (*OrchestratorConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg OrchestratorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if cfg.Engine.Binary == "" {
		return nil, fmt.Errorf("engine.binary is required")
	}
	return &cfg, nil
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.Engine.DefaultTimeoutMs <= 0 {
		c.Engine.DefaultTimeoutMs = int(DefaultTimeout / time.Millisecond)
	}
	if c.Engine.GracePeriodMs <= 0 {
		c.Engine.GracePeriodMs = int(DefaultGracePeriod / time.Millisecond)
	}
	if len(c.Engine.ArtifactExtensions) == 0 {
		c.Engine.ArtifactExtensions = append([]string(nil), DefaultArtifactExtensions...)
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = ":8080"
	}
	if c.HealthCheckIntervalMs <= 0 {
		c.HealthCheckIntervalMs = int(DefaultHealthInterval / time.Millisecond)
	}
	if c.Recovery.MaxRetries <= 0 {
		c.Recovery.MaxRetries = DefaultMaxRetries
	}
	if c.Recovery.RetryDelayMs <= 0 {
		c.Recovery.RetryDelayMs = int(DefaultRetryDelay / time.Millisecond)
	}
	if c.Recovery.CrashRateThresholdPerHour <= 0 {
		c.Recovery.CrashRateThresholdPerHour = DefaultCrashRatePerHour
	}
	if c.Recovery.GracefulShutdownTimeoutMs <= 0 {
		c.Recovery.GracefulShutdownTimeoutMs = int(DefaultShutdownTimeout / time.Millisecond)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// DefaultTimeoutDuration returns the per-run deadline as a duration.
func (c *OrchestratorConfig) DefaultTimeoutDuration() time.Duration {
	return time.Duration(c.Engine.DefaultTimeoutMs) * time.Millisecond
}

// GracePeriodDuration returns the cancel escalation grace as a duration.
func (c *OrchestratorConfig) GracePeriodDuration() time.Duration {
	return time.Duration(c.Engine.GracePeriodMs) * time.Millisecond
}

// HealthCheckInterval returns the lock refresh interval as a duration.
func (c *OrchestratorConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}
