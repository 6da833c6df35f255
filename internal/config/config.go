// Package config provides configuration management for streamforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSegmentDuration     = 4 * time.Second
	defaultMinBufferTime       = 3 * time.Second
	defaultTimeshiftDepth      = 5 * time.Minute
	defaultAnalyzeWindow       = 500 * time.Millisecond
	defaultAllocatorPoolSize   = 16
	defaultAllocatorSlotBytes  = 2 * 1024 * 1024 // 2MB
	defaultCronGCExpr          = "0 */5 * * * *"
	defaultTranscoderDialTimeo = 5 * time.Second
)

// Config holds all configuration for the streamforge runtime.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Dasher      DasherConfig      `mapstructure:"dasher"`
	Rectifier   RectifierConfig   `mapstructure:"rectifier"`
	Transcoder  TranscoderConfig  `mapstructure:"transcoder"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ServerConfig holds the introspection HTTP API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds segment/manifest file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// GraphConfig holds dataflow runtime defaults.
type GraphConfig struct {
	// Executor selects the default threading policy: "mono", "one_per_module", "shared_pool".
	Executor         string   `mapstructure:"executor"`
	SharedPoolSize   int      `mapstructure:"shared_pool_size"`
	AllocatorSlots   int      `mapstructure:"allocator_slots"`
	AllocatorSlotSize ByteSize `mapstructure:"allocator_slot_size"`
}

// DasherConfig holds default segmenter options (overridable per-instance).
type DasherConfig struct {
	Live                  bool     `mapstructure:"live"`
	SegmentDuration       Duration `mapstructure:"segment_duration"`
	TimeShiftBufferDepth  Duration `mapstructure:"timeshift_buffer_depth"`
	MinBufferTime         Duration `mapstructure:"min_buffer_time"`
	MinUpdatePeriod       Duration `mapstructure:"min_update_period"`
	MultiPeriodFolders    Duration `mapstructure:"multi_period_folders"`
	BaseURLPrefixes       []string `mapstructure:"base_url_prefixes"`
	PresignalNextSegment  bool     `mapstructure:"presignal_next_segment"`
	ForceRealDurations    bool     `mapstructure:"force_real_durations"`
	SegmentsNotOwned      bool     `mapstructure:"segments_not_owned"`
}

// RectifierConfig holds default TimeRectifier options.
type RectifierConfig struct {
	FPSNum        int      `mapstructure:"fps_num"`
	FPSDen        int      `mapstructure:"fps_den"`
	AnalyzeWindow Duration `mapstructure:"analyze_window"`
}

// TranscoderConfig holds the gRPC transcoder client configuration.
type TranscoderConfig struct {
	Address     string   `mapstructure:"address"`
	DialTimeout Duration `mapstructure:"dial_timeout"`
	Insecure    bool     `mapstructure:"insecure"`
}

// SchedulerConfig holds the periodic timeshift-buffer GC sweep configuration.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CronExpr string `mapstructure:"cron_expr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMFORGE_ and use underscores for nesting.
// Example: STREAMFORGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamforge")
		v.AddConfigPath("$HOME/.streamforge")
	}

	v.SetEnvPrefix("STREAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "temp")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("graph.executor", "one_per_module")
	v.SetDefault("graph.shared_pool_size", 4)
	v.SetDefault("graph.allocator_slots", defaultAllocatorPoolSize)
	v.SetDefault("graph.allocator_slot_size", defaultAllocatorSlotBytes)

	v.SetDefault("dasher.live", true)
	v.SetDefault("dasher.segment_duration", defaultSegmentDuration)
	v.SetDefault("dasher.timeshift_buffer_depth", defaultTimeshiftDepth)
	v.SetDefault("dasher.min_buffer_time", defaultMinBufferTime)
	v.SetDefault("dasher.min_update_period", defaultSegmentDuration)
	v.SetDefault("dasher.multi_period_folders", 0)
	v.SetDefault("dasher.base_url_prefixes", []string{""})
	v.SetDefault("dasher.presignal_next_segment", false)
	v.SetDefault("dasher.force_real_durations", false)
	v.SetDefault("dasher.segments_not_owned", false)

	v.SetDefault("rectifier.fps_num", 25)
	v.SetDefault("rectifier.fps_den", 1)
	v.SetDefault("rectifier.analyze_window", defaultAnalyzeWindow)

	v.SetDefault("transcoder.address", "")
	v.SetDefault("transcoder.dial_timeout", defaultTranscoderDialTimeo)
	v.SetDefault("transcoder.insecure", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron_expr", defaultCronGCExpr)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validExecutors := map[string]bool{"mono": true, "one_per_module": true, "shared_pool": true}
	if !validExecutors[c.Graph.Executor] {
		return fmt.Errorf("graph.executor must be one of: mono, one_per_module, shared_pool")
	}

	if c.Rectifier.FPSNum <= 0 || c.Rectifier.FPSDen <= 0 {
		return fmt.Errorf("rectifier.fps_num and rectifier.fps_den must be positive")
	}

	if c.Dasher.MultiPeriodFolders.Duration() > 0 && c.Dasher.TimeShiftBufferDepth.Duration() > 0 {
		return fmt.Errorf("dasher.timeshift_buffer_depth cannot be set when dasher.multi_period_folders is active")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the full path to the segment/manifest output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
