package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.MinColumnCount = 12
	cfg.CurrencyOffset = 3
	cfg.ProvinceOffset = 10
	cfg.ProductOffset = 11
	return cfg
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestInvalidMaxConcurrentJobs(t *testing.T) {
	for _, v := range []int{0, -1, -100} {
		cfg := validConfig()
		cfg.MaxConcurrentJobs = v
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for max concurrent jobs %d", v)
		}
	}
}

func TestInvalidNumWorkers(t *testing.T) {
	for _, v := range []int{0, -1} {
		cfg := validConfig()
		cfg.NumWorkers = v
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for num workers %d", v)
		}
	}
}

func TestInvalidFragmentMaxBytes(t *testing.T) {
	cfg := validConfig()
	cfg.FragmentMaxBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero fragment max bytes")
	}
}

func TestHeartbeatTimeoutMustExceedInterval(t *testing.T) {
	cfg := validConfig()
	cfg.HeartbeatInterval = 30 * time.Second
	cfg.HeartbeatTimeout = 30 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when heartbeat timeout equals interval")
	}
	cfg.HeartbeatTimeout = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when heartbeat timeout is below interval")
	}
}

func TestInvalidMemoryThresholdPercent(t *testing.T) {
	for _, v := range []int{0, -1, 101} {
		cfg := validConfig()
		cfg.MemoryThresholdPct = v
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for memory threshold percent %d", v)
		}
	}
}

func TestMissingInstanceIndex(t *testing.T) {
	cfg := validConfig()
	cfg.InstanceIndex = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing instance index")
	}
}

func TestInvalidMinColumnCount(t *testing.T) {
	cfg := validConfig()
	cfg.MinColumnCount = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero min column count")
	}
}

func TestInvalidFieldOffsets(t *testing.T) {
	cfg := validConfig()
	cfg.CurrencyOffset = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative currency offset")
	}
}

func TestMemoryThresholdBytes(t *testing.T) {
	cfg := validConfig()
	cfg.ContainerMemoryMB = 2048
	cfg.MemoryThresholdPct = 75
	want := int64(2048) * 1024 * 1024 * 75 / 100
	if got := cfg.MemoryThresholdBytes(); got != want {
		t.Errorf("MemoryThresholdBytes() = %d, want %d", got, want)
	}
}

func TestDefaultsMatchSpecTable(t *testing.T) {
	cfg := Default()
	if cfg.MaxConcurrentJobs != 1 {
		t.Errorf("MaxConcurrentJobs default = %d, want 1", cfg.MaxConcurrentJobs)
	}
	if cfg.NumWorkers != 2 {
		t.Errorf("NumWorkers default = %d, want 2", cfg.NumWorkers)
	}
	if cfg.FragmentMaxBytes != 32*1024*1024 {
		t.Errorf("FragmentMaxBytes default = %d, want 32MiB", cfg.FragmentMaxBytes)
	}
	if cfg.FailFastThreshold != 50000 {
		t.Errorf("FailFastThreshold default = %d, want 50000", cfg.FailFastThreshold)
	}
}
