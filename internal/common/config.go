package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Worker      WorkerConfig    `toml:"worker"`
	Engine      EngineConfig    `toml:"engine"`
	Throttle    ThrottleConfig  `toml:"throttle"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Monitors    MonitorsConfig  `toml:"monitors"`
	Logging     LoggingConfig   `toml:"logging"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	Prefix       string `toml:"prefix"`        // Key prefix for queue, counters and status cache
	RequeueDelay string `toml:"requeue_delay"` // Delay applied when a job is re-enqueued after a throttle denial
	StatusTTL    string `toml:"status_ttl"`    // Lifetime of cached job status entries
}

type WorkerConfig struct {
	Count        int    `toml:"count"`         // Number of concurrent worker loops
	PollInterval string `toml:"poll_interval"` // e.g., "1s" - how often workers poll the queue
	ErrorBackoff string `toml:"error_backoff"` // Pause after an unexpected processing error
}

// EngineConfig configures the external copy engine (rclone)
type EngineConfig struct {
	Binary         string `toml:"binary"`          // Path to the rclone binary
	ConfigFile     string `toml:"config_file"`     // Path of the generated remotes config file
	BandwidthLimit string `toml:"bandwidth_limit"` // Global --bwlimit value, empty for unlimited
	StatsInterval  string `toml:"stats_interval"`  // --stats value for progress output
}

type ThrottleConfig struct {
	DefaultLimit   int    `toml:"default_limit"`   // Slots per endpoint when the endpoint does not specify one
	AcquireTimeout string `toml:"acquire_timeout"` // Max time to wait for a transfer slot
	RetryInterval  string `toml:"retry_interval"`  // Backoff between slot acquisition attempts
}

type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	CheckInterval string `toml:"check_interval"` // How often due scheduled jobs are checked
}

type MonitorsConfig struct {
	S3   S3MonitorConfig   `toml:"s3"`
	File FileMonitorConfig `toml:"file"`
}

// S3MonitorConfig configures polling of S3 buckets for new objects
type S3MonitorConfig struct {
	Enabled      bool     `toml:"enabled"`
	Endpoint     string   `toml:"endpoint"` // S3 API endpoint, e.g. "s3.amazonaws.com"
	Region       string   `toml:"region"`
	AccessKey    string   `toml:"access_key"`
	SecretKey    string   `toml:"secret_key"`
	UseSSL       bool     `toml:"use_ssl"`
	PollInterval string   `toml:"poll_interval"` // e.g., "30s"
	Buckets      []string `toml:"buckets"`       // Extra buckets to watch besides template-derived ones
}

type FileMonitorConfig struct {
	Enabled bool `toml:"enabled"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in relay.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			Prefix:       "relay",
			RequeueDelay: "60s",
			StatusTTL:    "24h",
		},
		Worker: WorkerConfig{
			Count:        2,
			PollInterval: "1s",
			ErrorBackoff: "5s",
		},
		Engine: EngineConfig{
			Binary:        "rclone",
			ConfigFile:    "./data/rclone.conf",
			StatsInterval: "1s",
		},
		Throttle: ThrottleConfig{
			DefaultLimit:   5,
			AcquireTimeout: "30s",
			RetryInterval:  "1s",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: "60s",
		},
		Monitors: MonitorsConfig{
			S3: S3MonitorConfig{
				Enabled:      false,
				Endpoint:     "s3.amazonaws.com",
				UseSSL:       true,
				PollInterval: "30s",
			},
			File: FileMonitorConfig{
				Enabled: true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RELAY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Storage configuration
	if badgerPath := os.Getenv("RELAY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Queue configuration
	if prefix := os.Getenv("RELAY_QUEUE_PREFIX"); prefix != "" {
		config.Queue.Prefix = prefix
	}
	if delay := os.Getenv("RELAY_QUEUE_REQUEUE_DELAY"); delay != "" {
		config.Queue.RequeueDelay = delay
	}

	// Worker configuration
	if count := os.Getenv("RELAY_WORKER_COUNT"); count != "" {
		if c, err := strconv.Atoi(count); err == nil {
			config.Worker.Count = c
		}
	}
	if pollInterval := os.Getenv("RELAY_WORKER_POLL_INTERVAL"); pollInterval != "" {
		config.Worker.PollInterval = pollInterval
	}

	// Engine configuration
	if binary := os.Getenv("RELAY_ENGINE_BINARY"); binary != "" {
		config.Engine.Binary = binary
	}
	if configFile := os.Getenv("RELAY_ENGINE_CONFIG_FILE"); configFile != "" {
		config.Engine.ConfigFile = configFile
	}
	if bwLimit := os.Getenv("RELAY_ENGINE_BANDWIDTH_LIMIT"); bwLimit != "" {
		config.Engine.BandwidthLimit = bwLimit
	}

	// Throttle configuration
	if limit := os.Getenv("RELAY_THROTTLE_DEFAULT_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Throttle.DefaultLimit = l
		}
	}
	if timeout := os.Getenv("RELAY_THROTTLE_ACQUIRE_TIMEOUT"); timeout != "" {
		config.Throttle.AcquireTimeout = timeout
	}

	// Scheduler configuration
	if enabled := os.Getenv("RELAY_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if interval := os.Getenv("RELAY_SCHEDULER_CHECK_INTERVAL"); interval != "" {
		config.Scheduler.CheckInterval = interval
	}

	// S3 monitor configuration
	if enabled := os.Getenv("RELAY_S3_MONITOR_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Monitors.S3.Enabled = e
		}
	}
	if endpoint := os.Getenv("RELAY_S3_ENDPOINT"); endpoint != "" {
		config.Monitors.S3.Endpoint = endpoint
	}
	if region := os.Getenv("RELAY_S3_REGION"); region != "" {
		config.Monitors.S3.Region = region
	}
	if accessKey := os.Getenv("RELAY_S3_ACCESS_KEY"); accessKey != "" {
		config.Monitors.S3.AccessKey = accessKey
	}
	if secretKey := os.Getenv("RELAY_S3_SECRET_KEY"); secretKey != "" {
		config.Monitors.S3.SecretKey = secretKey
	}
	if buckets := os.Getenv("RELAY_S3_BUCKETS"); buckets != "" {
		parsed := []string{}
		for _, b := range strings.Split(buckets, ",") {
			if trimmed := strings.TrimSpace(b); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		if len(parsed) > 0 {
			config.Monitors.S3.Buckets = parsed
		}
	}

	// File monitor configuration
	if enabled := os.Getenv("RELAY_FILE_MONITOR_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Monitors.File.Enabled = e
		}
	}

	// Logging configuration
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("RELAY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("RELAY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ParseDurationOr parses a duration string, falling back to a default when
// the value is empty or invalid.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
