package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/caarlos0/env/v11"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "CRITPATH_"

// Config holds all configuration settings for critpath.
type Config struct {
	System     SystemConfig     `json:"system" toml:"system" envPrefix:"SYSTEM_"`
	Optimizer  OptimizerConfig  `json:"optimizer" toml:"optimizer" envPrefix:"OPTIMIZER_"`
	WorkerPool WorkerPoolConfig `json:"workerPool" toml:"workerPool" envPrefix:"WORKER_POOL_"`
	EventBus   EventBusConfig   `json:"eventBus" toml:"eventBus" envPrefix:"EVENT_BUS_"`
	Executor   ExecutorConfig   `json:"executor" toml:"executor" envPrefix:"EXECUTOR_"`
}

// SystemConfig holds general system settings.
type SystemConfig struct {
	LogLevel  string `json:"logLevel" toml:"logLevel" env:"LOG_LEVEL"`    // trace, debug, info, warn, error
	LogFormat string `json:"logFormat" toml:"logFormat" env:"LOG_FORMAT"` // console or json
}

// OptimizerConfig holds the critical path optimizer tunables.
type OptimizerConfig struct {
	Enabled          bool    `json:"enabled" toml:"enabled" env:"ENABLED"`
	PriorityBoost    float64 `json:"priorityBoost" toml:"priorityBoost" env:"PRIORITY_BOOST"`
	SlackThresholdMs float64 `json:"slackThresholdMs" toml:"slackThresholdMs" env:"SLACK_THRESHOLD_MS"`
}

// WorkerPoolConfig holds settings for the worker pool.
type WorkerPoolConfig struct {
	InitialWorkers    int     `json:"initialWorkers" toml:"initialWorkers" env:"INITIAL_WORKERS"`
	MinWorkers        int     `json:"minWorkers" toml:"minWorkers" env:"MIN_WORKERS"`
	MaxWorkers        int     `json:"maxWorkers" toml:"maxWorkers" env:"MAX_WORKERS"`
	QueueSize         int     `json:"queueSize" toml:"queueSize" env:"QUEUE_SIZE"`
	CPUThreshold      float64 `json:"cpuThreshold" toml:"cpuThreshold" env:"CPU_THRESHOLD"` // Fraction of CPU that triggers scale up
	MemThreshold      float64 `json:"memThreshold" toml:"memThreshold" env:"MEM_THRESHOLD"` // Fraction of memory that triggers scale up
	MonitorIntervalMs int     `json:"monitorIntervalMs" toml:"monitorIntervalMs" env:"MONITOR_INTERVAL_MS"`
}

// EventBusConfig holds settings for the event bus.
type EventBusConfig struct {
	DefaultBufferSize int `json:"defaultBufferSize" toml:"defaultBufferSize" env:"DEFAULT_BUFFER_SIZE"`
}

// ExecutorConfig bounds how many plans are processed at once.
type ExecutorConfig struct {
	MaxConcurrentPlans int `json:"maxConcurrentPlans" toml:"maxConcurrentPlans" env:"MAX_CONCURRENT_PLANS"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	opt := domain.DefaultOptimizerConfig()
	return &Config{
		System: SystemConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
		Optimizer: OptimizerConfig{
			Enabled:          opt.Enabled,
			PriorityBoost:    opt.PriorityBoost,
			SlackThresholdMs: opt.SlackThreshold,
		},
		WorkerPool: WorkerPoolConfig{
			InitialWorkers:    runtime.NumCPU(),
			MinWorkers:        1,
			MaxWorkers:        runtime.NumCPU() * 4,
			QueueSize:         100,
			CPUThreshold:      0.8,
			MemThreshold:      0.9,
			MonitorIntervalMs: 10000,
		},
		EventBus: EventBusConfig{
			DefaultBufferSize: 10,
		},
		Executor: ExecutorConfig{
			MaxConcurrentPlans: runtime.NumCPU(),
		},
	}
}

// LoadFromFile loads configuration from a .json or .toml file on top of the
// defaults. A missing file yields the defaults.
func LoadFromFile(filePath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", filePath, err)
	}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".json":
		err = json.Unmarshal(data, cfg, json.RejectUnknownMembers(true))
	case ".toml":
		var meta toml.MetaData
		meta, err = toml.Decode(string(data), cfg)
		if err == nil {
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", filePath, err)
	}
	return cfg, nil
}

// ApplyEnv overlays CRITPATH_* environment variables, e.g.
// CRITPATH_OPTIMIZER_PRIORITY_BOOST. Unset variables leave fields untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("apply environment: %w", err)
	}
	return nil
}

// SaveToFile writes the configuration as JSON or TOML depending on the
// file extension.
func (c *Config) SaveToFile(filePath string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".json":
		data, err = json.Marshal(c, jsontext.WithIndent("  "))
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", filePath, err)
	}
	return nil
}

// Validate checks if the configuration is valid and reports every problem.
func (c *Config) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf(format, args...)))
		}
	}

	switch strings.ToLower(c.System.LogFormat) {
	case "", "console", "json":
	default:
		check(false, "system.logFormat must be console or json, got %q", c.System.LogFormat)
	}

	check(c.Optimizer.PriorityBoost >= 0, "optimizer.priorityBoost cannot be negative")
	check(c.Optimizer.SlackThresholdMs >= 0, "optimizer.slackThresholdMs cannot be negative")

	wp := c.WorkerPool
	check(wp.MinWorkers >= 1, "workerPool.minWorkers must be at least 1")
	check(wp.MaxWorkers >= wp.MinWorkers, "workerPool.maxWorkers must be greater than or equal to minWorkers")
	check(wp.InitialWorkers >= wp.MinWorkers && wp.InitialWorkers <= wp.MaxWorkers,
		"workerPool.initialWorkers must be between minWorkers and maxWorkers")
	check(wp.QueueSize >= 1, "workerPool.queueSize must be at least 1")
	check(wp.CPUThreshold > 0 && wp.CPUThreshold <= 1, "workerPool.cpuThreshold must be in (0, 1]")
	check(wp.MemThreshold > 0 && wp.MemThreshold <= 1, "workerPool.memThreshold must be in (0, 1]")
	check(wp.MonitorIntervalMs >= 1, "workerPool.monitorIntervalMs must be at least 1")

	check(c.EventBus.DefaultBufferSize >= 1, "eventBus.defaultBufferSize must be at least 1")
	check(c.Executor.MaxConcurrentPlans >= 1, "executor.maxConcurrentPlans must be at least 1")

	return errors.Join(problems...)
}

// OptimizerConfig converts the optimizer section for the domain layer.
func (c *Config) OptimizerConfig() domain.OptimizerConfig {
	return domain.OptimizerConfig{
		Enabled:        c.Optimizer.Enabled,
		PriorityBoost:  c.Optimizer.PriorityBoost,
		SlackThreshold: c.Optimizer.SlackThresholdMs,
	}
}

// MonitorInterval returns the worker pool's load check interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.WorkerPool.MonitorIntervalMs) * time.Millisecond
}
