// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/alert"
	"github.com/logsift/logsift/pkg/errors"
	"github.com/logsift/logsift/pkg/parser"
	"github.com/logsift/logsift/pkg/window"
)

// Duration wraps time.Duration so YAML files can say "30s" or "5m".
// Bare integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration node: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all engine configuration.
type Config struct {
	Version int `yaml:"version"`

	Logging LoggingConfig `yaml:"logging"`

	// Streams binds input stream names to format names. Every raw
	// record is dispatched through this table.
	Streams map[string]string `yaml:"streams"`

	// Inputs are the local files feeding those streams on a run.
	Inputs []InputConfig `yaml:"inputs"`

	Parsers    ParserConfig     `yaml:"parsers"`
	Windows    WindowConfig     `yaml:"windows"`
	Alerts     alert.Config     `yaml:"alerts"`
	DLQ        DLQConfig        `yaml:"dlq"`
	Sinks      SinkConfig       `yaml:"sinks"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// InputConfig binds one local file to an input stream.
type InputConfig struct {
	// Stream names the logical stream; it must be bound to a format
	// in Streams.
	Stream string `yaml:"stream"`
	// Path is the file to read.
	Path string `yaml:"path"`
	// Follow keeps reading as the file grows instead of stopping at
	// EOF, like tail -F.
	Follow bool `yaml:"follow"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// SlogLevel maps the configured level string to a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParserConfig controls the format parsers.
type ParserConfig struct {
	// DefaultYear is injected into year-less syslog timestamps.
	DefaultYear int    `yaml:"default_year"`
	Timezone    string `yaml:"timezone"`
	Workers     int    `yaml:"workers"`
}

// WindowConfig controls the aggregation engine.
type WindowConfig struct {
	Lateness       Duration `yaml:"lateness"`
	MaxSkew        Duration `yaml:"max_skew"`
	Shards         int      `yaml:"shards"`
	QueueSize      int      `yaml:"queue_size"`
	SnapshotBuffer int      `yaml:"snapshot_buffer"`

	// FlushOnShutdown force-closes open windows on graceful shutdown.
	// Pointer so an explicit false in a file survives merging.
	FlushOnShutdown *bool `yaml:"flush_on_shutdown"`

	// Durations overrides the window duration per query name.
	Durations map[string]Duration `yaml:"durations"`
}

// DLQConfig controls the dead-letter writer.
type DLQConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int64  `yaml:"max_size_mb"`
}

// SinkConfig controls the stream sinks.
type SinkConfig struct {
	Dir        string `yaml:"dir"`
	BufferSize int    `yaml:"buffer_size"`
}

// CheckpointConfig controls offset/watermark persistence.
type CheckpointConfig struct {
	Backend  string      `yaml:"backend"` // file | redis | s3 | none
	Interval Duration    `yaml:"interval"`
	Path     string      `yaml:"path"`
	Redis    RedisConfig `yaml:"redis"`
	S3       S3Config    `yaml:"s3"`
}

// RedisConfig for the redis checkpoint backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3Config for the s3 checkpoint backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// ServerConfig for the HTTP stats/metrics server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TelemetryConfig for optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS on the gRPC connection, for collectors
	// reachable over a trusted network.
	Insecure bool `yaml:"insecure"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	siftDir := filepath.Join(homeDir, ".logsift")

	streams := make(map[string]string)
	for name, kind := range parser.DefaultStreams() {
		streams[name] = kind.String()
	}

	flush := true
	return &Config{
		Version: 1,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Streams: streams,
		Parsers: ParserConfig{
			DefaultYear: time.Now().UTC().Year(),
			Timezone:    "UTC",
			Workers:     4,
		},
		Windows: WindowConfig{
			Lateness:        Duration(30 * time.Second),
			MaxSkew:         Duration(time.Hour),
			Shards:          4,
			QueueSize:       1024,
			SnapshotBuffer:  1024,
			FlushOnShutdown: &flush,
			Durations:       map[string]Duration{},
		},
		Alerts: alert.DefaultConfig(),
		DLQ: DLQConfig{
			Dir:       filepath.Join(siftDir, "dlq"),
			MaxSizeMB: 100,
		},
		Sinks: SinkConfig{
			Dir:        "out",
			BufferSize: 1024,
		},
		Checkpoint: CheckpointConfig{
			Backend:  "file",
			Interval: Duration(10 * time.Second),
			Path:     filepath.Join(siftDir, "checkpoints"),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "logsift:checkpoint:",
			},
			S3: S3Config{
				Prefix: "checkpoints/",
				Region: "us-east-1",
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    9600,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "logsift",
			SampleRatio: 1.0,
			Insecure:    true,
		},
	}
}

// StreamKinds resolves the stream bindings to format kinds.
func (c *Config) StreamKinds() map[string]model.Kind {
	kinds := make(map[string]model.Kind, len(c.Streams))
	for stream, format := range c.Streams {
		kinds[stream] = parser.ParseKindName(format)
	}
	return kinds
}

// ParserOptions builds the parser configuration. The timezone must have
// passed Validate.
func (c *Config) ParserOptions() parser.Config {
	loc, err := time.LoadLocation(c.Parsers.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return parser.Config{
		DefaultYear: c.Parsers.DefaultYear,
		Location:    loc,
	}
}

// QueryDuration returns the configured duration override for a query, or
// the stock duration when none is set.
func (c *Config) QueryDuration(name string, stock time.Duration) time.Duration {
	if d, ok := c.Windows.Durations[name]; ok {
		return d.Std()
	}
	return stock
}

// FlushOnShutdown reports whether open windows flush at shutdown.
func (c *Config) FlushOnShutdown() bool {
	if c.Windows.FlushOnShutdown == nil {
		return true
	}
	return *c.Windows.FlushOnShutdown
}

// Validate checks every startup invariant at once. Configuration problems
// are fatal: safety-relevant thresholds are never silently defaulted.
func (c *Config) Validate() error {
	var errs errors.MultiError

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.Add(errors.ConfigInvalid("logging.level", c.Logging.Level, "must be debug, info, warn or error"))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs.Add(errors.ConfigInvalid("logging.format", c.Logging.Format, "must be json or text"))
	}

	if len(c.Streams) == 0 {
		errs.Add(errors.ConfigMissing("streams"))
	}
	for stream, format := range c.Streams {
		if parser.ParseKindName(format) == model.KindUnknown {
			errs.Add(errors.ConfigInvalid("streams."+stream, format, "unknown format"))
		}
	}

	// An input on an unbound stream would dead-letter every record it
	// reads, so it is a configuration error rather than a runtime one.
	for i, in := range c.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if in.Stream == "" {
			errs.Add(errors.ConfigMissing(field + ".stream"))
		} else if _, ok := c.Streams[in.Stream]; !ok {
			errs.Add(errors.ConfigInvalid(field+".stream", in.Stream, "not bound in streams"))
		}
		if in.Path == "" {
			errs.Add(errors.ConfigMissing(field + ".path"))
		}
	}

	if c.Parsers.DefaultYear < 1970 || c.Parsers.DefaultYear > 2100 {
		errs.Add(errors.ConfigInvalid("parsers.default_year", c.Parsers.DefaultYear, "must be between 1970 and 2100"))
	}
	if c.Parsers.Workers < 1 {
		errs.Add(errors.ConfigInvalid("parsers.workers", c.Parsers.Workers, "must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Parsers.Timezone); err != nil {
		errs.Add(errors.ConfigInvalid("parsers.timezone", c.Parsers.Timezone, "unknown timezone"))
	}

	if c.Windows.Lateness < 0 {
		errs.Add(errors.ConfigInvalid("windows.lateness", c.Windows.Lateness.Std(), "cannot be negative"))
	}
	if c.Windows.MaxSkew < 0 {
		errs.Add(errors.ConfigInvalid("windows.max_skew", c.Windows.MaxSkew.Std(), "cannot be negative"))
	}
	if c.Windows.Shards < 1 {
		errs.Add(errors.ConfigInvalid("windows.shards", c.Windows.Shards, "must be at least 1"))
	}
	if c.Windows.QueueSize < 1 {
		errs.Add(errors.ConfigInvalid("windows.queue_size", c.Windows.QueueSize, "must be at least 1"))
	}
	if c.Windows.SnapshotBuffer < 1 {
		errs.Add(errors.ConfigInvalid("windows.snapshot_buffer", c.Windows.SnapshotBuffer, "must be at least 1"))
	}
	if c.Windows.FlushOnShutdown == nil {
		errs.Add(errors.ConfigMissing("windows.flush_on_shutdown"))
	}
	for name, d := range c.Windows.Durations {
		if !knownQuery(name) {
			errs.Add(errors.ConfigInvalid("windows.durations."+name, d.Std(), "unknown query"))
			continue
		}
		if d <= 0 {
			errs.Add(errors.ConfigInvalid("windows.durations."+name, d.Std(), "must be positive"))
		}
	}

	errs.Add(c.Alerts.Validate())

	if c.DLQ.Dir == "" {
		errs.Add(errors.ConfigMissing("dlq.dir"))
	}
	if c.DLQ.MaxSizeMB < 1 {
		errs.Add(errors.ConfigInvalid("dlq.max_size_mb", c.DLQ.MaxSizeMB, "must be at least 1"))
	}

	if c.Sinks.Dir == "" {
		errs.Add(errors.ConfigMissing("sinks.dir"))
	}
	if c.Sinks.BufferSize < 1 {
		errs.Add(errors.ConfigInvalid("sinks.buffer_size", c.Sinks.BufferSize, "must be at least 1"))
	}

	switch c.Checkpoint.Backend {
	case "none":
	case "file":
		if c.Checkpoint.Path == "" {
			errs.Add(errors.ConfigMissing("checkpoint.path"))
		}
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			errs.Add(errors.ConfigMissing("checkpoint.redis.addr"))
		}
	case "s3":
		if c.Checkpoint.S3.Bucket == "" {
			errs.Add(errors.ConfigMissing("checkpoint.s3.bucket"))
		}
	default:
		errs.Add(errors.ConfigInvalid("checkpoint.backend", c.Checkpoint.Backend, "must be file, redis, s3 or none"))
	}
	if c.Checkpoint.Backend != "none" && c.Checkpoint.Interval <= 0 {
		errs.Add(errors.ConfigInvalid("checkpoint.interval", c.Checkpoint.Interval.Std(), "must be positive"))
	}

	if c.Server.Enabled {
		if c.Server.Host == "" {
			errs.Add(errors.ConfigMissing("server.host"))
		}
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs.Add(errors.ConfigInvalid("server.port", c.Server.Port, "must be between 1 and 65535"))
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs.Add(errors.ConfigMissing("telemetry.endpoint"))
		}
		if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
			errs.Add(errors.ConfigInvalid("telemetry.sample_ratio", c.Telemetry.SampleRatio, "must be in (0, 1]"))
		}
	}

	return errs.Combined()
}

func knownQuery(name string) bool {
	switch name {
	case window.QueryErrorRateByService,
		window.QueryLatencyByService,
		window.QueryVolumeByEndpoint,
		window.QueryVolumeBySourceSeverity,
		window.QuerySSHFailuresByHost,
		window.QueryHTTPErrorsByStatus,
		window.QueryRequestsByClient,
		window.QuerySpanDurationByOperation:
		return true
	}
	return false
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

// Load loads configuration from all sources in priority order. An explicit
// path, when given, is loaded last among files and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but report errors in existing ones
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if os.IsNotExist(err) {
				return errors.SourceNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
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
		paths = append(paths, "/etc/logsift/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".logsift", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".logsift.yaml"))
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
		return errors.Wrapf(err, errors.CodeConfigInvalid, "cannot parse %s", path)
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	dst := m.config

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}

	if len(src.Streams) > 0 {
		dst.Streams = src.Streams
	}
	if len(src.Inputs) > 0 {
		dst.Inputs = src.Inputs
	}

	if src.Parsers.DefaultYear != 0 {
		dst.Parsers.DefaultYear = src.Parsers.DefaultYear
	}
	if src.Parsers.Timezone != "" {
		dst.Parsers.Timezone = src.Parsers.Timezone
	}
	if src.Parsers.Workers != 0 {
		dst.Parsers.Workers = src.Parsers.Workers
	}

	if src.Windows.Lateness != 0 {
		dst.Windows.Lateness = src.Windows.Lateness
	}
	if src.Windows.MaxSkew != 0 {
		dst.Windows.MaxSkew = src.Windows.MaxSkew
	}
	if src.Windows.Shards != 0 {
		dst.Windows.Shards = src.Windows.Shards
	}
	if src.Windows.QueueSize != 0 {
		dst.Windows.QueueSize = src.Windows.QueueSize
	}
	if src.Windows.SnapshotBuffer != 0 {
		dst.Windows.SnapshotBuffer = src.Windows.SnapshotBuffer
	}
	if src.Windows.FlushOnShutdown != nil {
		dst.Windows.FlushOnShutdown = src.Windows.FlushOnShutdown
	}
	if len(src.Windows.Durations) > 0 {
		if dst.Windows.Durations == nil {
			dst.Windows.Durations = map[string]Duration{}
		}
		for name, d := range src.Windows.Durations {
			dst.Windows.Durations[name] = d
		}
	}

	mergeAlerts(&dst.Alerts, &src.Alerts)

	if src.DLQ.Dir != "" {
		dst.DLQ.Dir = src.DLQ.Dir
	}
	if src.DLQ.MaxSizeMB != 0 {
		dst.DLQ.MaxSizeMB = src.DLQ.MaxSizeMB
	}

	if src.Sinks.Dir != "" {
		dst.Sinks.Dir = src.Sinks.Dir
	}
	if src.Sinks.BufferSize != 0 {
		dst.Sinks.BufferSize = src.Sinks.BufferSize
	}

	if src.Checkpoint.Backend != "" {
		dst.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Interval != 0 {
		dst.Checkpoint.Interval = src.Checkpoint.Interval
	}
	if src.Checkpoint.Path != "" {
		dst.Checkpoint.Path = src.Checkpoint.Path
	}
	if src.Checkpoint.Redis.Addr != "" {
		dst.Checkpoint.Redis.Addr = src.Checkpoint.Redis.Addr
	}
	if src.Checkpoint.Redis.Password != "" {
		dst.Checkpoint.Redis.Password = src.Checkpoint.Redis.Password
	}
	if src.Checkpoint.Redis.DB != 0 {
		dst.Checkpoint.Redis.DB = src.Checkpoint.Redis.DB
	}
	if src.Checkpoint.Redis.KeyPrefix != "" {
		dst.Checkpoint.Redis.KeyPrefix = src.Checkpoint.Redis.KeyPrefix
	}
	if src.Checkpoint.S3.Bucket != "" {
		dst.Checkpoint.S3.Bucket = src.Checkpoint.S3.Bucket
	}
	if src.Checkpoint.S3.Prefix != "" {
		dst.Checkpoint.S3.Prefix = src.Checkpoint.S3.Prefix
	}
	if src.Checkpoint.S3.Region != "" {
		dst.Checkpoint.S3.Region = src.Checkpoint.S3.Region
	}

	if src.Server.Host != "" {
		dst.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}

	if src.Telemetry.Endpoint != "" {
		dst.Telemetry.Endpoint = src.Telemetry.Endpoint
		dst.Telemetry.Enabled = src.Telemetry.Enabled
		dst.Telemetry.Insecure = src.Telemetry.Insecure
	}
	if src.Telemetry.ServiceName != "" {
		dst.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.SampleRatio != 0 {
		dst.Telemetry.SampleRatio = src.Telemetry.SampleRatio
	}
}

// mergeAlerts overlays non-zero alert thresholds.
func mergeAlerts(dst, src *alert.Config) {
	if len(src.CriticalSeverities) > 0 {
		dst.CriticalSeverities = src.CriticalSeverities
	}
	if src.ErrorRateCriticalPct != 0 {
		dst.ErrorRateCriticalPct = src.ErrorRateCriticalPct
	}
	if src.ErrorRateWarningPct != 0 {
		dst.ErrorRateWarningPct = src.ErrorRateWarningPct
	}
	if src.LatencyCriticalMS != 0 {
		dst.LatencyCriticalMS = src.LatencyCriticalMS
	}
	if src.LatencyWarningMS != 0 {
		dst.LatencyWarningMS = src.LatencyWarningMS
	}
	if src.SSHCriticalCount != 0 {
		dst.SSHCriticalCount = src.SSHCriticalCount
	}
	if src.SSHWarningCount != 0 {
		dst.SSHWarningCount = src.SSHWarningCount
	}
	if src.SSHInfoCount != 0 {
		dst.SSHInfoCount = src.SSHInfoCount
	}
	if src.HTTPCriticalCount != 0 {
		dst.HTTPCriticalCount = src.HTTPCriticalCount
	}
	if src.HTTPWarningCount != 0 {
		dst.HTTPWarningCount = src.HTTPWarningCount
	}
	if src.HTTPInfoCount != 0 {
		dst.HTTPInfoCount = src.HTTPInfoCount
	}
	if src.SuspiciousMinRequests != 0 {
		dst.SuspiciousMinRequests = src.SuspiciousMinRequests
	}
	if src.SuspiciousErrorRatio != 0 {
		dst.SuspiciousErrorRatio = src.SuspiciousErrorRatio
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("LOGSIFT_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}

	if v := os.Getenv("LOGSIFT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			m.config.Server.Port = port
		}
	}

	if v := os.Getenv("LOGSIFT_DEFAULT_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			m.config.Parsers.DefaultYear = year
		}
	}

	if v := os.Getenv("LOGSIFT_CHECKPOINT_BACKEND"); v != "" {
		m.config.Checkpoint.Backend = v
	}

	if v := os.Getenv("LOGSIFT_REDIS_ADDR"); v != "" {
		m.config.Checkpoint.Redis.Addr = v
	}

	if v := os.Getenv("LOGSIFT_S3_BUCKET"); v != "" {
		m.config.Checkpoint.S3.Bucket = v
	}

	if v := os.Getenv("LOGSIFT_TELEMETRY_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}
}

// EnsureDirs creates the working directories the engine writes to.
func (m *Manager) EnsureDirs() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirs := []string{
		m.config.DLQ.Dir,
		m.config.Sinks.Dir,
	}
	if m.config.Checkpoint.Backend == "file" {
		dirs = append(dirs, m.config.Checkpoint.Path)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, errors.CodeConfigInvalid, "cannot create directory %s", dir)
		}
	}
	return nil
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

	configDir := filepath.Join(home, ".logsift")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}
