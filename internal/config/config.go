package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	Hotkey  HotkeyConfig  `yaml:"hotkey"`
	Rules   RulesConfig   `yaml:"rules"`
	Record  RecordConfig  `yaml:"record"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
}

type AudioConfig struct {
	Backend       string `yaml:"backend"`
	Device        string `yaml:"device"`
	SampleRate    int    `yaml:"sample_rate"`
	FrameSize     int    `yaml:"frame_size"`
	QueueSize     int    `yaml:"queue_size"`
	FFMPEGCommand string `yaml:"ffmpeg_command"`
	InputFormat   string `yaml:"input_format"`
}

type EngineConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	MinDuration   time.Duration `yaml:"min_duration"`
	BatchFrames   int           `yaml:"batch_frames"`
	MaxBatchDelay time.Duration `yaml:"max_batch_delay"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type HotkeyConfig struct {
	Toggle string `yaml:"toggle"`
	Quit   string `yaml:"quit"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type RecordConfig struct {
	DumpDir string `yaml:"dump_dir"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Backend:       "portaudio",
			Device:        "default",
			SampleRate:    16000,
			FrameSize:     8000,
			QueueSize:     64,
			FFMPEGCommand: "ffmpeg",
			InputFormat:   "pulse",
		},
		Engine: EngineConfig{
			URL:     "ws://localhost:2700",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MinDuration:   500 * time.Millisecond,
			BatchFrames:   4,
			MaxBatchDelay: 500 * time.Millisecond,
			PollInterval:  100 * time.Millisecond,
		},
		Hotkey: HotkeyConfig{
			Toggle: "ctrl+shift+s",
			Quit:   "ctrl+shift+q",
		},
		Rules: RulesConfig{
			IterationLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// environment overrides. An explicit path that does not exist is an error;
// the implicit per-user path is optional.
func Load(path string) (Config, error) {
	cfg := Default()

	path = firstNonEmpty(path, os.Getenv("HOTMIC_CONFIG"))
	explicit := path != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "hotmic", "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Audio.Backend = envOrDefault("HOTMIC_AUDIO_BACKEND", cfg.Audio.Backend)
	cfg.Audio.Device = envOrDefault("HOTMIC_AUDIO_DEVICE", cfg.Audio.Device)
	cfg.Audio.SampleRate = envOrDefaultInt("HOTMIC_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.FrameSize = envOrDefaultInt("HOTMIC_FRAME_SIZE", cfg.Audio.FrameSize)
	cfg.Audio.QueueSize = envOrDefaultInt("HOTMIC_QUEUE_SIZE", cfg.Audio.QueueSize)
	cfg.Audio.FFMPEGCommand = envOrDefault("HOTMIC_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand)
	cfg.Audio.InputFormat = envOrDefault("HOTMIC_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)

	cfg.Engine.URL = envOrDefault("HOTMIC_ENGINE_URL", cfg.Engine.URL)
	cfg.Engine.Timeout = envOrDefaultMillis("HOTMIC_ENGINE_TIMEOUT_MS", cfg.Engine.Timeout)

	cfg.Session.MinDuration = envOrDefaultMillis("HOTMIC_MIN_RECORDING_MS", cfg.Session.MinDuration)
	cfg.Session.BatchFrames = envOrDefaultInt("HOTMIC_BATCH_FRAMES", cfg.Session.BatchFrames)
	cfg.Session.MaxBatchDelay = envOrDefaultMillis("HOTMIC_MAX_BATCH_DELAY_MS", cfg.Session.MaxBatchDelay)
	cfg.Session.PollInterval = envOrDefaultMillis("HOTMIC_POLL_INTERVAL_MS", cfg.Session.PollInterval)

	cfg.Hotkey.Toggle = envOrDefault("HOTMIC_TOGGLE_HOTKEY", cfg.Hotkey.Toggle)
	cfg.Hotkey.Quit = envOrDefault("HOTMIC_QUIT_HOTKEY", cfg.Hotkey.Quit)

	cfg.Rules.Path = envOrDefault("HOTMIC_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("HOTMIC_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Record.DumpDir = envOrDefault("HOTMIC_DUMP_DIR", cfg.Record.DumpDir)
	cfg.Metrics.Listen = envOrDefault("HOTMIC_METRICS_LISTEN", cfg.Metrics.Listen)
	cfg.Notify.Enabled = envOrDefaultBool("HOTMIC_NOTIFY", cfg.Notify.Enabled)

	cfg.Logging.Level = envOrDefault("HOTMIC_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("HOTMIC_LOG_FORMAT", cfg.Logging.Format)
}

func (c *Config) applyFallbacks() {
	defaults := Default()
	if c.Audio.SampleRate < 0 {
		c.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if c.Audio.FrameSize < 256 {
		c.Audio.FrameSize = defaults.Audio.FrameSize
	}
	if c.Audio.QueueSize <= 0 {
		c.Audio.QueueSize = defaults.Audio.QueueSize
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = defaults.Engine.Timeout
	}
	if c.Session.BatchFrames <= 0 {
		c.Session.BatchFrames = defaults.Session.BatchFrames
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = defaults.Session.PollInterval
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = defaults.Rules.IterationLimit
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Hotkey.Validate(); err != nil {
		return fmt.Errorf("hotkey config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	switch a.Backend {
	case "portaudio", "ffmpeg":
	default:
		return fmt.Errorf("backend must be portaudio or ffmpeg, got %q", a.Backend)
	}
	if a.SampleRate != 0 && (a.SampleRate < 8000 || a.SampleRate > 192000) {
		return fmt.Errorf("sample_rate must be 0 or between 8000 and 192000, got %d", a.SampleRate)
	}
	if a.Backend == "ffmpeg" && a.SampleRate == 0 {
		return errors.New("ffmpeg backend requires a fixed sample_rate")
	}
	return nil
}

func (e *EngineConfig) Validate() error {
	url := strings.ToLower(strings.TrimSpace(e.URL))
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("url must use ws:// or wss://, got %q", e.URL)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.MinDuration < 0 {
		return fmt.Errorf("min_duration cannot be negative, got %s", s.MinDuration)
	}
	if s.MaxBatchDelay < 0 {
		return fmt.Errorf("max_batch_delay cannot be negative, got %s", s.MaxBatchDelay)
	}
	return nil
}

func (h *HotkeyConfig) Validate() error {
	if strings.TrimSpace(h.Toggle) == "" {
		return errors.New("toggle hotkey cannot be empty")
	}
	if strings.TrimSpace(h.Quit) == "" {
		return errors.New("quit hotkey cannot be empty")
	}
	if strings.EqualFold(strings.ReplaceAll(h.Toggle, " ", ""), strings.ReplaceAll(h.Quit, " ", "")) {
		return errors.New("toggle and quit hotkeys must differ")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
