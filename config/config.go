// Package config implements the configuration management as specified in
// section 6 of the design specification. It handles validation of all
// fragment-processing parameters; loading values from the environment is
// explicitly out of scope for the core (see spec.md section 1) and lives
// in cmd/fragproc instead.
package config

import (
	"time"

	"github.com/gurre/ddb-pitr/internal/xerrors"
)

// Config holds all configuration for the fragment processing core, as
// enumerated in section 6 of the design specification. Field comments
// give the default named in that table; zero values are never silently
// substituted by Validate — callers must supply explicit values (see
// Open Question A/B: there is no hardcoded validator default either).
type Config struct {
	MaxConcurrentJobs  int           // MAX_CONCURRENT_JOBS, default 1
	NumWorkers         int           // NUM_WORKERS, default 2
	FragmentMaxBytes   int64         // FRAGMENT_MAX_BYTES, default 32 MiB
	HeartbeatInterval  time.Duration // HEARTBEAT_INTERVAL, default 15s
	HeartbeatTimeout   time.Duration // HEARTBEAT_TIMEOUT, default 60s
	MetricsLogInterval time.Duration // METRICS_LOG_INTERVAL, default 10s
	FailFastThreshold  int64         // FAIL_FAST_THRESHOLD, default 50000
	MemoryThresholdPct int           // MEMORY_THRESHOLD_PERCENT, default 75
	ContainerMemoryMB  int64         // CONTAINER_MEMORY_MB, default 2048
	InstanceIndex      string        // INSTANCE_INDEX, default "0"

	// Validator configuration, Open Questions A and B: there is no
	// hardcoded default, callers must supply these explicitly.
	MinColumnCount int // minimum semicolon-separated column count
	CurrencyOffset int // column index of the currency field
	ProvinceOffset int // column index of the province field
	ProductOffset  int // column index of the product field
}

// MemoryThresholdBytes returns the absolute byte threshold derived from
// ContainerMemoryMB and MemoryThresholdPct, per section 5.
func (c *Config) MemoryThresholdBytes() int64 {
	return c.ContainerMemoryMB * 1024 * 1024 * int64(c.MemoryThresholdPct) / 100
}

// Validate ensures all required fields are present and have valid
// values, per section 6.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return xerrors.New("max concurrent jobs must be at least 1")
	}
	if c.NumWorkers < 1 {
		return xerrors.New("num workers must be at least 1")
	}
	if c.FragmentMaxBytes < 1 {
		return xerrors.New("fragment max bytes must be at least 1")
	}
	if c.HeartbeatInterval < time.Second {
		return xerrors.New("heartbeat interval must be at least 1 second")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return xerrors.New("heartbeat timeout must exceed heartbeat interval")
	}
	if c.MetricsLogInterval < time.Second {
		return xerrors.New("metrics log interval must be at least 1 second")
	}
	if c.FailFastThreshold < 1 {
		return xerrors.New("fail fast threshold must be at least 1")
	}
	if c.MemoryThresholdPct < 1 || c.MemoryThresholdPct > 100 {
		return xerrors.New("memory threshold percent must be between 1 and 100")
	}
	if c.ContainerMemoryMB < 1 {
		return xerrors.New("container memory MB must be at least 1")
	}
	if c.InstanceIndex == "" {
		return xerrors.New("instance index is required")
	}
	if c.MinColumnCount < 1 {
		return xerrors.New("min column count must be at least 1")
	}
	if c.CurrencyOffset < 0 || c.ProvinceOffset < 0 || c.ProductOffset < 0 {
		return xerrors.New("field offsets must be non-negative")
	}
	return nil
}

// Default returns the configuration defaults named in section 6, with
// the validator offsets left for the caller to set explicitly per Open
// Questions A and B.
func Default() *Config {
	return &Config{
		MaxConcurrentJobs:  1,
		NumWorkers:         2,
		FragmentMaxBytes:   32 * 1024 * 1024,
		HeartbeatInterval:  15 * time.Second,
		HeartbeatTimeout:   60 * time.Second,
		MetricsLogInterval: 10 * time.Second,
		FailFastThreshold:  50000,
		MemoryThresholdPct: 75,
		ContainerMemoryMB:  2048,
		InstanceIndex:      "0",
	}
}
