// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inputlat configuration.
type Config struct {
	Version int `yaml:"version"`

	Tracker   TrackerConfig   `yaml:"tracker"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Redis     RedisConfig     `yaml:"redis"`
	Export    ExportConfig    `yaml:"export"`
	Report    ReportConfig    `yaml:"report"`
}

// TrackerConfig controls the correlation engine.
type TrackerConfig struct {
	// TimeoutWindow is the dispatch-unresponsiveness tolerance after
	// which an in-flight record is flushed regardless of completeness.
	TimeoutWindow time.Duration `yaml:"timeout_window"`
}

// SinksConfig selects where completed timelines go.
type SinksConfig struct {
	// Enabled lists active sinks: jsonl | parquet | redis | otel
	Enabled []string `yaml:"enabled"`

	// JSONLPath is the jsonl sink output ("-" for stdout).
	JSONLPath string `yaml:"jsonl_path"`

	// ParquetPath is the parquet sink output file.
	ParquetPath string `yaml:"parquet_path"`

	// Compression for the parquet sink: snappy | zstd | gzip | none
	Compression string `yaml:"compression"`

	// BatchSize is the parquet row-group flush threshold.
	BatchSize int `yaml:"batch_size"`
}

// TelemetryConfig for the OTLP exporter and span sink.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`
	ServiceName string        `yaml:"service_name"`
	Environment string        `yaml:"environment"`
	Insecure    bool          `yaml:"insecure"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig for the Redis stream sink.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Stream   string        `yaml:"stream"`
	MaxLen   int64         `yaml:"max_len"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ExportConfig for S3 artifact upload.
type ExportConfig struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// ReportConfig for the latency summary report.
type ReportConfig struct {
	// XLSXPath writes the summary workbook when set.
	XLSXPath string `yaml:"xlsx_path"`

	// Percentiles to compute, in percent.
	Percentiles []float64 `yaml:"percentiles"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Tracker: TrackerConfig{
			TimeoutWindow: 5 * time.Second,
		},
		Sinks: SinksConfig{
			Enabled:     []string{"jsonl"},
			JSONLPath:   "-",
			ParquetPath: "timelines.parquet",
			Compression: "snappy",
			BatchSize:   1024,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "inputlat",
			Environment: "development",
			Insecure:    true,
			Timeout:     30 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Stream:  "inputlat:timelines",
			MaxLen:  100_000,
			Timeout: 5 * time.Second,
		},
		Export: ExportConfig{
			Prefix: "inputlat/",
		},
		Report: ReportConfig{
			Percentiles: []float64{50, 95, 99},
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, surface errors for existing ones
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/inputlat/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".inputlat", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".inputlat.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Tracker.TimeoutWindow != 0 {
		m.config.Tracker.TimeoutWindow = src.Tracker.TimeoutWindow
	}

	if len(src.Sinks.Enabled) > 0 {
		m.config.Sinks.Enabled = src.Sinks.Enabled
	}
	if src.Sinks.JSONLPath != "" {
		m.config.Sinks.JSONLPath = src.Sinks.JSONLPath
	}
	if src.Sinks.ParquetPath != "" {
		m.config.Sinks.ParquetPath = src.Sinks.ParquetPath
	}
	if src.Sinks.Compression != "" {
		m.config.Sinks.Compression = src.Sinks.Compression
	}
	if src.Sinks.BatchSize != 0 {
		m.config.Sinks.BatchSize = src.Sinks.BatchSize
	}

	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.Environment != "" {
		m.config.Telemetry.Environment = src.Telemetry.Environment
	}
	if src.Telemetry.Timeout != 0 {
		m.config.Telemetry.Timeout = src.Telemetry.Timeout
	}

	if src.Redis.Address != "" {
		m.config.Redis.Address = src.Redis.Address
	}
	if src.Redis.Password != "" {
		m.config.Redis.Password = src.Redis.Password
	}
	if src.Redis.Database != 0 {
		m.config.Redis.Database = src.Redis.Database
	}
	if src.Redis.Stream != "" {
		m.config.Redis.Stream = src.Redis.Stream
	}
	if src.Redis.MaxLen != 0 {
		m.config.Redis.MaxLen = src.Redis.MaxLen
	}
	if src.Redis.Timeout != 0 {
		m.config.Redis.Timeout = src.Redis.Timeout
	}

	if src.Export.Bucket != "" {
		m.config.Export.Bucket = src.Export.Bucket
	}
	if src.Export.Prefix != "" {
		m.config.Export.Prefix = src.Export.Prefix
	}
	if src.Export.Region != "" {
		m.config.Export.Region = src.Export.Region
	}
	if src.Export.Endpoint != "" {
		m.config.Export.Endpoint = src.Export.Endpoint
	}
	if src.Export.UsePathStyle {
		m.config.Export.UsePathStyle = true
	}

	if src.Report.XLSXPath != "" {
		m.config.Report.XLSXPath = src.Report.XLSXPath
	}
	if len(src.Report.Percentiles) > 0 {
		m.config.Report.Percentiles = src.Report.Percentiles
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("INPUTLAT_TIMEOUT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			m.config.Tracker.TimeoutWindow = d
		}
	}

	if v := os.Getenv("INPUTLAT_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}

	if v := os.Getenv("INPUTLAT_REDIS_ADDRESS"); v != "" {
		m.config.Redis.Address = v
	}

	if v := os.Getenv("INPUTLAT_REDIS_DB"); v != "" {
		var db int
		if _, err := fmt.Sscanf(v, "%d", &db); err == nil {
			m.config.Redis.Database = db
		}
	}

	if v := os.Getenv("INPUTLAT_S3_BUCKET"); v != "" {
		m.config.Export.Bucket = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".inputlat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
