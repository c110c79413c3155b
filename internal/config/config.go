// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no --config flag is given.
const EnvConfigPath = "BMCAM_CONFIG"

// Config represents the top-level configuration.
// Maps to the `bmcam:` root key in YAML.
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Link     LinkConfig     `mapstructure:"link"`
	Log      LogConfig      `mapstructure:"log"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Receiver ReceiverConfig `mapstructure:"receiver"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Clock    ClockConfig    `mapstructure:"clock"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
}

// ─── Node Identity ───

// NodeConfig identifies this host on the Bristlemouth bus.
type NodeConfig struct {
	ID           string `mapstructure:"id"` // hex or decimal, e.g. "0xC0FFEEEEF0CACC1A"
	VersionMajor uint8  `mapstructure:"version_major"`
	VersionMinor uint8  `mapstructure:"version_minor"`

	// NodeID is ID parsed by ValidateAndApplyDefaults.
	NodeID uint64 `mapstructure:"-"`
}

// ─── Serial Link ───

// LinkConfig configures the serial transport.
type LinkConfig struct {
	Device         string        `mapstructure:"device"`
	BaudRate       int           `mapstructure:"baud_rate"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Framing        string        `mapstructure:"framing"` // cobs | raw
	VerifyChecksum bool          `mapstructure:"verify_checksum"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string        `mapstructure:"level"` // debug / info / warn / error
	Pattern string        `mapstructure:"pattern"`
	Time    string        `mapstructure:"time"`
	Caller  bool          `mapstructure:"caller"`
	File    FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures the rotating file output.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ─── Topics ───

// TopicsConfig names the bus topics the agent subscribes or publishes to.
// An empty subscription topic disables its handler.
type TopicsConfig struct {
	RTC      string `mapstructure:"rtc"`
	Still    string `mapstructure:"still"`
	Video    string `mapstructure:"video"`
	Hello    string `mapstructure:"hello"`
	Receive  string `mapstructure:"receive"`
	Status   string `mapstructure:"status"`
	Transmit string `mapstructure:"transmit"`
	Print    string `mapstructure:"print"`
	FileLog  string `mapstructure:"file_log"`
}

// ─── Duplicate Suppression ───

// DedupConfig configures the dispatch duplicate filter.
type DedupConfig struct {
	DefaultWindow time.Duration `mapstructure:"default_window"`
	SoftMax       int           `mapstructure:"soft_max"`
	VideoMargin   time.Duration `mapstructure:"video_margin"`
	// TriggerWindow is the by_topic window for the still and video topics
	// when no rule names them.
	TriggerWindow time.Duration `mapstructure:"trigger_window"`
	Rules         []RuleConfig  `mapstructure:"rules"`
}

// RuleConfig overrides the default rule for one topic.
// Rules are a list rather than a map because viper lower-cases map keys and topics are case-sensitive.
type RuleConfig struct {
	Topic  string        `mapstructure:"topic"`
	Window time.Duration `mapstructure:"window"`
	Mode   string        `mapstructure:"mode"` // by_topic | by_payload
}

// ─── Chunked Transfer ───

// TransferConfig configures the outbound chunk sender.
type TransferConfig struct {
	ChunkSize int           `mapstructure:"chunk_size"`
	Delay     time.Duration `mapstructure:"delay"`
	StartGap  time.Duration `mapstructure:"start_gap"`
	MirrorDir string        `mapstructure:"mirror_dir"` // empty = no mirror
}

// ReceiverConfig configures reassembled-file output.
type ReceiverConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	LogFile   string `mapstructure:"log_file"` // relative paths resolve under OutputDir
}

// ─── Camera ───

// CameraConfig configures capture commands and the exclusive camera lock.
type CameraConfig struct {
	LockFile         string         `mapstructure:"lock_file"`
	LockPoll         time.Duration  `mapstructure:"lock_poll"`
	StillLockTimeout time.Duration  `mapstructure:"still_lock_timeout"`
	VideoLockMargin  time.Duration  `mapstructure:"video_lock_margin"`
	OutputDir        string         `mapstructure:"output_dir"`
	StillCommand     []string       `mapstructure:"still_command"`
	VideoCommand     []string       `mapstructure:"video_command"`
	Defaults         CameraDefaults `mapstructure:"defaults"`
}

// CameraDefaults are applied before a trigger payload's own tokens.
type CameraDefaults struct {
	Resolution string        `mapstructure:"res"`
	Burst      int           `mapstructure:"burst"`
	Interval   time.Duration `mapstructure:"interval"`
	Format     string        `mapstructure:"format"`
	Quality    int           `mapstructure:"quality"`
	Send       bool          `mapstructure:"send"`
	Duration   time.Duration `mapstructure:"duration"`
	FPS        int           `mapstructure:"fps"`
	Bitrate    int           `mapstructure:"bitrate"`
	HFlip      bool          `mapstructure:"hflip"`
	VFlip      bool          `mapstructure:"vflip"`
}

// ─── Clock ───

// ClockConfig configures the clock correction controller.
type ClockConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ApplyIfDrift     time.Duration `mapstructure:"apply_if_drift"`
	MinApplyInterval time.Duration `mapstructure:"min_apply_interval"`
	MaxBackward      time.Duration `mapstructure:"max_backward"` // 0 = never step backward
	Method           string        `mapstructure:"method"`       // command | syscall
	Command          []string      `mapstructure:"command"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Daemon ───

// DaemonConfig contains agent process settings.
type DaemonConfig struct {
	PIDFile   string        `mapstructure:"pid_file"` // empty = no PID file
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	StatusLog string        `mapstructure:"status_log"` // SD-card file mirroring status lines; empty = off
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `bmcam: ...`.
type configRoot struct {
	Bmcam Config `mapstructure:"bmcam"`
}

// ResolvePath returns the explicit path, else $BMCAM_CONFIG, else "" (defaults only).
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfigPath)
}

// Load loads configuration from file. An empty path loads defaults and env overrides only.
// The YAML file uses `bmcam:` as root key; env vars use the BMCAM_ prefix (e.g. BMCAM_LINK_DEVICE).
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Bmcam

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Dump renders the merged settings (file, env and defaults) as YAML.
func Dump(path string) ([]byte, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(v.AllSettings())
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "bmcam.link.device" → env "BMCAM_LINK_DEVICE"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, nil
}

// setDefaults sets default values for configuration.
// All keys use "bmcam." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("bmcam.node.id", "0xC0FFEEEEF0CACC1A")
	v.SetDefault("bmcam.node.version_major", 1)
	v.SetDefault("bmcam.node.version_minor", 1)

	// Link defaults
	v.SetDefault("bmcam.link.device", "/dev/serial0")
	v.SetDefault("bmcam.link.baud_rate", 115200)
	v.SetDefault("bmcam.link.idle_timeout", "500ms")
	v.SetDefault("bmcam.link.poll_interval", "10ms")
	v.SetDefault("bmcam.link.framing", "cobs")
	v.SetDefault("bmcam.link.verify_checksum", true)

	// Log defaults
	v.SetDefault("bmcam.log.level", "info")
	v.SetDefault("bmcam.log.pattern", "%time [%tag] [%level] %msg %field%n")
	v.SetDefault("bmcam.log.time", "2006-01-02T15:04:05.000Z")
	v.SetDefault("bmcam.log.caller", false)
	v.SetDefault("bmcam.log.file.enabled", false)
	v.SetDefault("bmcam.log.file.path", "/var/log/bmcam/bmcam.log")
	v.SetDefault("bmcam.log.file.max_size_mb", 1)
	v.SetDefault("bmcam.log.file.max_backups", 5)
	v.SetDefault("bmcam.log.file.max_age_days", 0)
	v.SetDefault("bmcam.log.file.compress", false)

	// Topic defaults
	v.SetDefault("bmcam.topics.rtc", "spotter/utc-time")
	v.SetDefault("bmcam.topics.still", "camera/capture/image")
	v.SetDefault("bmcam.topics.video", "camera/capture/video")
	v.SetDefault("bmcam.topics.hello", "demo/hello")
	v.SetDefault("bmcam.topics.receive", "")
	v.SetDefault("bmcam.topics.status", "camera/status")
	v.SetDefault("bmcam.topics.transmit", "spotter/transmit-data")
	v.SetDefault("bmcam.topics.print", "spotter/printf")
	v.SetDefault("bmcam.topics.file_log", "spotter/fprintf")

	// Dedup defaults
	v.SetDefault("bmcam.dedup.default_window", "100ms")
	v.SetDefault("bmcam.dedup.soft_max", 4096)
	v.SetDefault("bmcam.dedup.video_margin", "5s")
	v.SetDefault("bmcam.dedup.trigger_window", "5s")

	// Transfer defaults
	v.SetDefault("bmcam.transfer.chunk_size", 300)
	v.SetDefault("bmcam.transfer.delay", "5s")
	v.SetDefault("bmcam.transfer.start_gap", "1s")
	v.SetDefault("bmcam.transfer.mirror_dir", "")

	// Receiver defaults
	v.SetDefault("bmcam.receiver.output_dir", "received")
	v.SetDefault("bmcam.receiver.log_file", "transfer_log.csv")

	// Camera defaults
	v.SetDefault("bmcam.camera.lock_file", "/tmp/bm_daemon.capture.lock")
	v.SetDefault("bmcam.camera.lock_poll", "50ms")
	v.SetDefault("bmcam.camera.still_lock_timeout", "8s")
	v.SetDefault("bmcam.camera.video_lock_margin", "5s")
	v.SetDefault("bmcam.camera.output_dir", "/var/lib/bmcam/media")
	v.SetDefault("bmcam.camera.still_command", []string{
		"rpicam-still", "-n", "-t", "1", "--width", "{width}", "--height", "{height}",
		"-q", "{quality}", "-e", "{format}", "-o", "{output}",
	})
	v.SetDefault("bmcam.camera.video_command", []string{
		"rpicam-vid", "-n", "-t", "{duration_ms}", "--width", "{width}", "--height", "{height}",
		"--framerate", "{fps}", "-b", "{bitrate}", "{hflip}", "{vflip}", "-o", "{output}",
	})
	v.SetDefault("bmcam.camera.defaults.res", "720p")
	v.SetDefault("bmcam.camera.defaults.burst", 1)
	v.SetDefault("bmcam.camera.defaults.interval", "0s")
	v.SetDefault("bmcam.camera.defaults.format", "jpg")
	v.SetDefault("bmcam.camera.defaults.quality", 90)
	v.SetDefault("bmcam.camera.defaults.send", false)
	v.SetDefault("bmcam.camera.defaults.duration", "3s")
	v.SetDefault("bmcam.camera.defaults.fps", 30)
	v.SetDefault("bmcam.camera.defaults.bitrate", 3000000)
	v.SetDefault("bmcam.camera.defaults.hflip", false)
	v.SetDefault("bmcam.camera.defaults.vflip", false)

	// Clock defaults
	v.SetDefault("bmcam.clock.enabled", true)
	v.SetDefault("bmcam.clock.apply_if_drift", "1s")
	v.SetDefault("bmcam.clock.min_apply_interval", "10s")
	v.SetDefault("bmcam.clock.max_backward", "0s")
	v.SetDefault("bmcam.clock.method", "command")
	v.SetDefault("bmcam.clock.command", []string{"sudo", "date", "-u", "-s", "{iso}"})
	v.SetDefault("bmcam.clock.command_timeout", "10s")

	// Metrics defaults
	v.SetDefault("bmcam.metrics.enabled", false)
	v.SetDefault("bmcam.metrics.listen", ":9091")
	v.SetDefault("bmcam.metrics.path", "/metrics")

	// Daemon defaults
	v.SetDefault("bmcam.daemon.pid_file", "")
	v.SetDefault("bmcam.daemon.heartbeat", "5s")
	v.SetDefault("bmcam.daemon.status_log", "")
}

// ValidateAndApplyDefaults validates the configuration and fills derived fields.
func (cfg *Config) ValidateAndApplyDefaults() error {
	id, err := strconv.ParseUint(strings.TrimSpace(cfg.Node.ID), 0, 64)
	if err != nil {
		return fmt.Errorf("node.id %q: %w", cfg.Node.ID, err)
	}
	cfg.Node.NodeID = id

	if cfg.Link.Device == "" {
		return fmt.Errorf("link.device is required")
	}
	if cfg.Link.BaudRate <= 0 {
		return fmt.Errorf("link.baud_rate must be positive, got %d", cfg.Link.BaudRate)
	}
	if cfg.Link.IdleTimeout <= 0 {
		return fmt.Errorf("link.idle_timeout must be positive")
	}
	if cfg.Link.PollInterval <= 0 {
		cfg.Link.PollInterval = 10 * time.Millisecond
	}
	switch cfg.Link.Framing {
	case "cobs", "raw":
	default:
		return fmt.Errorf("link.framing must be cobs or raw, got %q", cfg.Link.Framing)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", cfg.Log.Level)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when file output is enabled")
	}

	if cfg.Dedup.DefaultWindow < 0 {
		return fmt.Errorf("dedup.default_window must not be negative")
	}
	if cfg.Dedup.TriggerWindow < 0 {
		return fmt.Errorf("dedup.trigger_window must not be negative")
	}
	if cfg.Dedup.SoftMax <= 0 {
		cfg.Dedup.SoftMax = 4096
	}
	for i := range cfg.Dedup.Rules {
		rule := &cfg.Dedup.Rules[i]
		topic := rule.Topic
		if topic == "" {
			return fmt.Errorf("dedup.rules[%d].topic is required", i)
		}
		switch rule.Mode {
		case "":
			rule.Mode = "by_payload"
		case "by_topic", "by_payload":
		default:
			return fmt.Errorf("dedup.rules[%s].mode must be by_topic or by_payload, got %q", topic, rule.Mode)
		}
		if rule.Window < 0 {
			return fmt.Errorf("dedup.rules[%s].window must not be negative", topic)
		}
	}

	if cfg.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.Delay < 0 || cfg.Transfer.StartGap < 0 {
		return fmt.Errorf("transfer delays must not be negative")
	}

	if cfg.Camera.LockPoll <= 0 {
		cfg.Camera.LockPoll = 50 * time.Millisecond
	}
	if cfg.Camera.Defaults.Burst <= 0 {
		cfg.Camera.Defaults.Burst = 1
	}

	switch cfg.Clock.Method {
	case "command":
		if len(cfg.Clock.Command) == 0 {
			return fmt.Errorf("clock.command is required for method command")
		}
	case "syscall":
	default:
		return fmt.Errorf("clock.method must be command or syscall, got %q", cfg.Clock.Method)
	}
	if cfg.Clock.ApplyIfDrift < 0 || cfg.Clock.MinApplyInterval < 0 || cfg.Clock.MaxBackward < 0 {
		return fmt.Errorf("clock thresholds must not be negative")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
