// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RuntimeConfig and its loaders. A config is built once at startup and
// shared read-only afterwards.

package control

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-rt/api"
)

// Environment variables read by FromEnv.
const (
	EnvWorkerCount       = "HIOLOAD_RT_WORKER_COUNT"
	EnvReactorCount      = "HIOLOAD_RT_REACTOR_COUNT"
	EnvBackendKind       = "HIOLOAD_RT_BACKEND_KIND"
	EnvSchedulingPolicy  = "HIOLOAD_RT_SCHEDULING_POLICY"
	EnvNUMAAffinity      = "HIOLOAD_RT_NUMA_AFFINITY_ENABLED"
	EnvMaxWorkerRestarts = "HIOLOAD_RT_MAX_WORKER_RESTARTS"
	EnvRestartBackoff    = "HIOLOAD_RT_RESTART_BACKOFF"
	EnvMaxRestartBackoff = "HIOLOAD_RT_MAX_RESTART_BACKOFF"
	EnvBackoffMultiplier = "HIOLOAD_RT_RESTART_BACKOFF_MULTIPLIER"
	EnvHeartbeatTimeout  = "HIOLOAD_RT_HEARTBEAT_TIMEOUT"
	EnvMaxQueueDepth     = "HIOLOAD_RT_MAX_QUEUE_DEPTH"
	EnvBatchSize         = "HIOLOAD_RT_BATCH_SIZE"
	EnvIdlePollInterval  = "HIOLOAD_RT_IDLE_POLL_INTERVAL"
	EnvPollTimeout       = "HIOLOAD_RT_POLL_TIMEOUT"
	EnvAgingThreshold    = "HIOLOAD_RT_AGING_THRESHOLD"
	EnvShutdownTimeout   = "HIOLOAD_RT_SHUTDOWN_TIMEOUT"
	EnvLogLevel          = "HIOLOAD_RT_LOG_LEVEL"
	EnvLogJSON           = "HIOLOAD_RT_LOG_JSON"
)

// Defaults applied to every field the host leaves unset.
const (
	DefaultReactorCount      = 1
	DefaultMaxWorkerRestarts = 5
	DefaultRestartBackoff    = 100 * time.Millisecond
	DefaultMaxRestartBackoff = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxQueueDepth     = 1024
	DefaultBatchSize         = 32
	DefaultIdlePollInterval  = 10 * time.Millisecond
	DefaultPollTimeout       = 100 * time.Millisecond
	DefaultAgingThreshold    = 50 * time.Millisecond
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultLogLevel          = "info"
)

// RecoveryConfig governs worker fault recovery.
type RecoveryConfig struct {
	// MaxWorkerRestarts is the restart budget for the whole pool. Zero
	// takes the default; a negative value never exhausts.
	MaxWorkerRestarts int           `toml:"max_worker_restarts" json:"max_worker_restarts"`
	RestartBackoff    time.Duration `toml:"restart_backoff" json:"restart_backoff"`
	MaxRestartBackoff time.Duration `toml:"max_restart_backoff" json:"max_restart_backoff"`
	BackoffMultiplier float64       `toml:"restart_backoff_multiplier" json:"restart_backoff_multiplier"`
	// HeartbeatTimeout > 0 faults a worker stuck in one job that long.
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout" json:"heartbeat_timeout"`
}

// PerformanceConfig holds queueing and polling knobs.
type PerformanceConfig struct {
	MaxQueueDepth    int           `toml:"max_queue_depth" json:"max_queue_depth"`
	BatchSize        int           `toml:"batch_size" json:"batch_size"`
	IdlePollInterval time.Duration `toml:"idle_poll_interval" json:"idle_poll_interval"`
	PollTimeout      time.Duration `toml:"poll_timeout" json:"poll_timeout"`
	// AgingThreshold promotes queued priority work one band once it has
	// waited this long. Zero takes the default; negative disables aging.
	AgingThreshold time.Duration `toml:"aging_threshold" json:"aging_threshold"`
}

// RuntimeConfig is the complete runtime configuration.
type RuntimeConfig struct {
	// WorkerCount 0 means one worker per CPU.
	WorkerCount  int `toml:"worker_count" json:"worker_count"`
	ReactorCount int `toml:"reactor_count" json:"reactor_count"`

	BackendKind      api.BackendKind      `toml:"backend_kind" json:"backend_kind"`
	SchedulingPolicy api.SchedulingPolicy `toml:"scheduling_policy" json:"scheduling_policy"`
	NUMAAffinity     bool                 `toml:"numa_affinity_enabled" json:"numa_affinity_enabled"`

	Recovery    RecoveryConfig    `toml:"recovery" json:"recovery"`
	Performance PerformanceConfig `toml:"performance" json:"performance"`

	ShutdownTimeout time.Duration `toml:"shutdown_timeout" json:"shutdown_timeout"`
	LogLevel        string        `toml:"log_level" json:"log_level"`
	LogJSON         bool          `toml:"log_json" json:"log_json"`
}

// DefaultRuntimeConfig returns the documented defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WorkerCount:      0,
		ReactorCount:     DefaultReactorCount,
		BackendKind:      api.BackendAuto,
		SchedulingPolicy: api.PolicyWorkStealing,
		Recovery: RecoveryConfig{
			MaxWorkerRestarts: DefaultMaxWorkerRestarts,
			RestartBackoff:    DefaultRestartBackoff,
			MaxRestartBackoff: DefaultMaxRestartBackoff,
			BackoffMultiplier: DefaultBackoffMultiplier,
		},
		Performance: PerformanceConfig{
			MaxQueueDepth:    DefaultMaxQueueDepth,
			BatchSize:        DefaultBatchSize,
			IdlePollInterval: DefaultIdlePollInterval,
			PollTimeout:      DefaultPollTimeout,
			AgingThreshold:   DefaultAgingThreshold,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// Resolved fills zero values with defaults and resolves WorkerCount 0 to
// the CPU count. It does not validate.
func (c RuntimeConfig) Resolved() RuntimeConfig {
	d := DefaultRuntimeConfig()
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.ReactorCount == 0 {
		c.ReactorCount = d.ReactorCount
	}
	if c.BackendKind == "" {
		c.BackendKind = d.BackendKind
	}
	if c.SchedulingPolicy == "" {
		c.SchedulingPolicy = d.SchedulingPolicy
	}
	if c.Recovery.MaxWorkerRestarts == 0 {
		c.Recovery.MaxWorkerRestarts = d.Recovery.MaxWorkerRestarts
	}
	if c.Recovery.RestartBackoff == 0 {
		c.Recovery.RestartBackoff = d.Recovery.RestartBackoff
	}
	if c.Recovery.MaxRestartBackoff == 0 {
		c.Recovery.MaxRestartBackoff = d.Recovery.MaxRestartBackoff
	}
	if c.Recovery.BackoffMultiplier == 0 {
		c.Recovery.BackoffMultiplier = d.Recovery.BackoffMultiplier
	}
	if c.Performance.MaxQueueDepth == 0 {
		c.Performance.MaxQueueDepth = d.Performance.MaxQueueDepth
	}
	if c.Performance.BatchSize == 0 {
		c.Performance.BatchSize = d.Performance.BatchSize
	}
	if c.Performance.IdlePollInterval == 0 {
		c.Performance.IdlePollInterval = d.Performance.IdlePollInterval
	}
	if c.Performance.PollTimeout == 0 {
		c.Performance.PollTimeout = d.Performance.PollTimeout
	}
	if c.Performance.AgingThreshold == 0 {
		c.Performance.AgingThreshold = d.Performance.AgingThreshold
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Validate reports the first invalid field as a *api.ConfigError.
func (c RuntimeConfig) Validate() error {
	bad := func(field string, v any, reason string) error {
		return &api.ConfigError{Field: field, Value: v, Reason: reason}
	}
	switch {
	case c.WorkerCount < 0:
		return bad("worker_count", c.WorkerCount, "must not be negative")
	case c.ReactorCount < 0:
		return bad("reactor_count", c.ReactorCount, "must not be negative")
	}
	if _, err := api.ParseBackendKind(string(c.BackendKind)); err != nil {
		return &api.ConfigError{Field: "backend_kind", Value: c.BackendKind, Reason: "unknown kind", Err: err}
	}
	if _, err := api.ParseSchedulingPolicy(string(c.SchedulingPolicy)); err != nil {
		return &api.ConfigError{Field: "scheduling_policy", Value: c.SchedulingPolicy, Reason: "unknown policy", Err: err}
	}
	r, p := c.Recovery, c.Performance
	switch {
	case r.RestartBackoff < 0:
		return bad("restart_backoff", r.RestartBackoff, "must not be negative")
	case r.MaxRestartBackoff < r.RestartBackoff:
		return bad("max_restart_backoff", r.MaxRestartBackoff, "must be at least restart_backoff")
	case r.BackoffMultiplier < 1:
		return bad("restart_backoff_multiplier", r.BackoffMultiplier, "must be at least 1")
	case r.HeartbeatTimeout < 0:
		return bad("heartbeat_timeout", r.HeartbeatTimeout, "must not be negative")
	case p.MaxQueueDepth < 1:
		return bad("max_queue_depth", p.MaxQueueDepth, "must be positive")
	case p.BatchSize < 1:
		return bad("batch_size", p.BatchSize, "must be positive")
	case p.IdlePollInterval <= 0:
		return bad("idle_poll_interval", p.IdlePollInterval, "must be positive")
	case p.PollTimeout <= 0:
		return bad("poll_timeout", p.PollTimeout, "must be positive")
	case c.ShutdownTimeout < 0:
		return bad("shutdown_timeout", c.ShutdownTimeout, "must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &api.ConfigError{Field: "log_level", Value: c.LogLevel, Reason: "unknown level", Err: err}
	}
	return nil
}

// Map flattens the config for api.Control consumers.
func (c RuntimeConfig) Map() map[string]any {
	return map[string]any{
		"worker_count":               c.WorkerCount,
		"reactor_count":              c.ReactorCount,
		"backend_kind":               string(c.BackendKind),
		"scheduling_policy":          string(c.SchedulingPolicy),
		"numa_affinity_enabled":      c.NUMAAffinity,
		"max_worker_restarts":        c.Recovery.MaxWorkerRestarts,
		"restart_backoff":            c.Recovery.RestartBackoff.String(),
		"max_restart_backoff":        c.Recovery.MaxRestartBackoff.String(),
		"restart_backoff_multiplier": c.Recovery.BackoffMultiplier,
		"heartbeat_timeout":          c.Recovery.HeartbeatTimeout.String(),
		"max_queue_depth":            c.Performance.MaxQueueDepth,
		"batch_size":                 c.Performance.BatchSize,
		"idle_poll_interval":         c.Performance.IdlePollInterval.String(),
		"poll_timeout":               c.Performance.PollTimeout.String(),
		"aging_threshold":            c.Performance.AgingThreshold.String(),
		"shutdown_timeout":           c.ShutdownTimeout.String(),
		"log_level":                  c.LogLevel,
	}
}

// LoadFile decodes a TOML file over base. Keys absent from the file keep
// their value in base; unknown keys are an error.
func LoadFile(path string, base RuntimeConfig) (RuntimeConfig, error) {
	cfg := base
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return base, &api.ConfigError{Field: "file", Value: path, Reason: "decode", Err: err}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return base, &api.ConfigError{Field: undecoded[0].String(), Value: path, Reason: "unknown key"}
	}
	return cfg, nil
}

// FromEnv overlays environment variables on base using lookup, which is
// usually os.LookupEnv. Empty values are ignored.
func FromEnv(base RuntimeConfig, lookup func(string) (string, bool)) (RuntimeConfig, error) {
	cfg := base
	e := envReader{lookup: lookup}
	e.int(EnvWorkerCount, &cfg.WorkerCount)
	e.int(EnvReactorCount, &cfg.ReactorCount)
	if v, ok := e.get(EnvBackendKind); ok {
		cfg.BackendKind = api.BackendKind(v)
	}
	if v, ok := e.get(EnvSchedulingPolicy); ok {
		cfg.SchedulingPolicy = api.SchedulingPolicy(v)
	}
	e.bool(EnvNUMAAffinity, &cfg.NUMAAffinity)
	e.int(EnvMaxWorkerRestarts, &cfg.Recovery.MaxWorkerRestarts)
	e.duration(EnvRestartBackoff, &cfg.Recovery.RestartBackoff)
	e.duration(EnvMaxRestartBackoff, &cfg.Recovery.MaxRestartBackoff)
	e.float(EnvBackoffMultiplier, &cfg.Recovery.BackoffMultiplier)
	e.duration(EnvHeartbeatTimeout, &cfg.Recovery.HeartbeatTimeout)
	e.int(EnvMaxQueueDepth, &cfg.Performance.MaxQueueDepth)
	e.int(EnvBatchSize, &cfg.Performance.BatchSize)
	e.duration(EnvIdlePollInterval, &cfg.Performance.IdlePollInterval)
	e.duration(EnvPollTimeout, &cfg.Performance.PollTimeout)
	e.duration(EnvAgingThreshold, &cfg.Performance.AgingThreshold)
	e.duration(EnvShutdownTimeout, &cfg.ShutdownTimeout)
	if v, ok := e.get(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	e.bool(EnvLogJSON, &cfg.LogJSON)
	if e.err != nil {
		return base, e.err
	}
	return cfg, nil
}

// Load builds the startup config: defaults, then the TOML file at path
// (skipped when path is empty), then the environment. The result is
// resolved and validated.
func Load(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	var err error
	if path != "" {
		if cfg, err = LoadFile(path, cfg); err != nil {
			return RuntimeConfig{}, err
		}
	}
	if cfg, err = FromEnv(cfg, os.LookupEnv); err != nil {
		return RuntimeConfig{}, err
	}
	cfg = cfg.Resolved()
	if err := cfg.Validate(); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

// envReader keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = &api.ConfigError{Field: key, Value: v, Reason: "parse", Err: err}
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, fmt.Errorf("duration: %w", err))
			return
		}
		*dst = d
	}
}
