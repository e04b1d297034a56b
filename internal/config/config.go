package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Delivery strategies accepted in the config file.
const (
	DeliveryBuffered = "buffered"
	DeliveryStreamed = "streamed"
)

type Config struct {
	// ListenAddr is the address the HTTP server binds to (default ":10000")
	ListenAddr string `yaml:"listen_addr"`

	// YtDlpPath is the path to the yt-dlp binary (default: "yt-dlp")
	YtDlpPath string `yaml:"ytdlp_path"`

	// TempPath is where buffered downloads are materialized before delivery.
	// If empty, the OS temp directory is used.
	TempPath string `yaml:"temp_path"`

	// Delivery is the default delivery strategy: "buffered" or "streamed"
	Delivery string `yaml:"delivery"`

	// JobTimeout bounds the total duration of a single extraction
	JobTimeout time.Duration `yaml:"job_timeout"`

	// KillGrace is how long an interrupted yt-dlp gets before it is killed
	KillGrace time.Duration `yaml:"kill_grace"`

	// Preflight runs a --simulate pass before the real extraction
	Preflight bool `yaml:"preflight"`

	// MaxConcurrentJobs caps simultaneous extractions (1-32, default 4)
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// DetailLimit truncates the diagnostic excerpt returned to clients
	DetailLimit int `yaml:"detail_limit"`

	// DiagnosticLimit bounds the stderr kept per job, in bytes
	DiagnosticLimit int `yaml:"diagnostic_limit"`

	// AuthFailureStatus is the HTTP status for login/bot-check failures (400 or 500)
	AuthFailureStatus int `yaml:"auth_failure_status"`

	// FilenamePrefix is prepended to the attachment filename
	FilenamePrefix string `yaml:"filename_prefix"`

	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit is the sustained request rate per second (0 disables)
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for the rate limiter
	RateBurst int `yaml:"rate_burst"`

	// History enables the SQLite download log
	History bool `yaml:"history"`

	// DatabasePath is the SQLite file (default: config dir + fetchray.db)
	DatabasePath string `yaml:"database_path"`

	// HistoryRetention drops history older than this on startup (0 keeps all)
	HistoryRetention time.Duration `yaml:"history_retention"`

	// RedisAddr enables publishing job events to Redis when set
	RedisAddr string `yaml:"redis_addr"`

	// RedisChannel is the pub/sub channel for job events
	RedisChannel string `yaml:"redis_channel"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":10000",
		YtDlpPath:         "yt-dlp",
		TempPath:          "", // OS temp dir
		Delivery:          DeliveryBuffered,
		JobTimeout:        15 * time.Minute,
		KillGrace:         5 * time.Second,
		MaxConcurrentJobs: 4,
		DetailLimit:       4000,
		DiagnosticLimit:   64 * 1024,
		AuthFailureStatus: 500,
		FilenamePrefix:    "fetchray",
		RateBurst:         20,
		History:           true,
		RedisChannel:      "fetchray:jobs",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	return cfg, nil
}

// normalize applies defaults for empty values and clamps limits
func (c *Config) normalize() {
	def := DefaultConfig()

	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.YtDlpPath == "" {
		c.YtDlpPath = def.YtDlpPath
	}
	c.Delivery = strings.ToLower(c.Delivery)
	if c.Delivery != DeliveryBuffered && c.Delivery != DeliveryStreamed {
		c.Delivery = def.Delivery
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	c.MaxConcurrentJobs = ClampConcurrentJobs(c.MaxConcurrentJobs)
	if c.DetailLimit <= 0 {
		c.DetailLimit = def.DetailLimit
	}
	if c.DiagnosticLimit < c.DetailLimit {
		c.DiagnosticLimit = max(def.DiagnosticLimit, c.DetailLimit)
	}
	if c.AuthFailureStatus != 400 && c.AuthFailureStatus != 500 {
		c.AuthFailureStatus = def.AuthFailureStatus
	}
	if c.FilenamePrefix == "" {
		c.FilenamePrefix = def.FilenamePrefix
	}
	if c.HistoryRetention < 0 {
		c.HistoryRetention = 0
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.RateBurst < 1 {
		c.RateBurst = def.RateBurst
	}
	if c.RedisChannel == "" {
		c.RedisChannel = def.RedisChannel
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat != "json" {
		c.LogFormat = "text"
	}
}

// ApplyEnv overrides config values from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	if tmp := getenv("TEMP_PATH"); tmp != "" {
		c.TempPath = tmp
	}
	if bin := getenv("YTDLP_PATH"); bin != "" {
		c.YtDlpPath = bin
	}
	if addr := getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetTempDir returns the root directory for transient downloads
func (c *Config) GetTempDir() string {
	if c.TempPath != "" {
		return c.TempPath
	}
	return os.TempDir()
}

// GetDatabasePath returns the history database path, relative to configDir when unset
func (c *Config) GetDatabasePath(configDir string) string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(configDir, "fetchray.db")
}
