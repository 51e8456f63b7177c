package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Tracker.TimeoutWindow != 5*time.Second {
		t.Errorf("default timeout window = %v, want 5s", cfg.Tracker.TimeoutWindow)
	}
	if len(cfg.Sinks.Enabled) != 1 || cfg.Sinks.Enabled[0] != "jsonl" {
		t.Errorf("default sinks = %v, want [jsonl]", cfg.Sinks.Enabled)
	}
	if cfg.Telemetry.Enabled {
		t.Error("telemetry should be disabled by default")
	}
}

func TestMergeKeepsDefaultsForZeroValues(t *testing.T) {
	m := NewManager()
	m.merge(&Config{
		Tracker: TrackerConfig{TimeoutWindow: 2 * time.Second},
		Redis:   RedisConfig{Address: "redis:6379"},
	})

	cfg := m.Get()
	if cfg.Tracker.TimeoutWindow != 2*time.Second {
		t.Errorf("merged timeout window = %v, want 2s", cfg.Tracker.TimeoutWindow)
	}
	if cfg.Redis.Address != "redis:6379" {
		t.Errorf("merged redis address = %q", cfg.Redis.Address)
	}
	// Untouched fields keep defaults.
	if cfg.Redis.Stream != "inputlat:timelines" {
		t.Errorf("redis stream lost its default: %q", cfg.Redis.Stream)
	}
	if cfg.Sinks.JSONLPath != "-" {
		t.Errorf("jsonl path lost its default: %q", cfg.Sinks.JSONLPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INPUTLAT_TIMEOUT_WINDOW", "250ms")
	t.Setenv("INPUTLAT_OTLP_ENDPOINT", "collector:4317")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Tracker.TimeoutWindow != 250*time.Millisecond {
		t.Errorf("env timeout window = %v, want 250ms", cfg.Tracker.TimeoutWindow)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("env otlp endpoint not applied: %+v", cfg.Telemetry)
	}
}
