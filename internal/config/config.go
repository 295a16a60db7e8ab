package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps time.Duration so TOML files can write values like
// "90s" or "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// SecurityConfig bounds archive analysis and extraction.
type SecurityConfig struct {
	MaxTotalSize int64   `toml:"max_total_size"`
	MaxEntries   int     `toml:"max_entries"`
	MaxEntrySize int64   `toml:"max_entry_size"`
	MaxRatio     float64 `toml:"max_ratio"`
	MaxNameLen   int     `toml:"max_name_len"`
}

// InventoryConfig caps content extraction during inventory.
type InventoryConfig struct {
	MaxContentChars int   `toml:"max_content_chars"`
	MaxContentBytes int64 `toml:"max_content_bytes"`
}

// S3Config configures the optional s3:// source. Empty means the
// source is not registered.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Enabled reports whether an s3 source should be wired up.
func (c S3Config) Enabled() bool {
	return c.Region != "" || c.Endpoint != ""
}

// Config holds application configuration.
type Config struct {
	Addr        string `toml:"addr"`
	DBPath      string `toml:"db_path"`
	DownloadDir string `toml:"download_dir"`
	ExtractDir  string `toml:"extract_dir"`
	LogFormat   string `toml:"log_format"`
	LogLevel    string `toml:"log_level"`

	ChunkSize    int64    `toml:"chunk_size"`
	PersistEvery int      `toml:"persist_every"`
	Concurrency  int      `toml:"concurrency"`
	PollInterval Duration `toml:"poll_interval"`
	ReadTimeout  Duration `toml:"read_timeout"`
	JobTTL       Duration `toml:"job_ttl"`

	Security  SecurityConfig  `toml:"security"`
	Inventory InventoryConfig `toml:"inventory"`
	S3        S3Config        `toml:"s3"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "intake", "jobs.db")
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "intake")
}

// DefaultDownloadDir returns the default directory for downloaded files.
func DefaultDownloadDir() string {
	return filepath.Join(defaultDataDir(), "downloads")
}

// DefaultExtractDir returns the default directory for extracted archives.
func DefaultExtractDir() string {
	return filepath.Join(defaultDataDir(), "extracted")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:         ":8080",
		DBPath:       DefaultDBPath(),
		DownloadDir:  DefaultDownloadDir(),
		ExtractDir:   DefaultExtractDir(),
		LogFormat:    "text",
		LogLevel:     "info",
		ChunkSize:    8 << 20,
		PersistEvery: 4,
		Concurrency:  3,
		PollInterval: Duration{2 * time.Second},
		ReadTimeout:  Duration{30 * time.Second},
		JobTTL:       Duration{7 * 24 * time.Hour},
		Security: SecurityConfig{
			MaxTotalSize: 10 << 30,
			MaxEntries:   100_000,
			MaxEntrySize: 1 << 30,
			MaxRatio:     1000,
			MaxNameLen:   255,
		},
		Inventory: InventoryConfig{
			MaxContentChars: 1_000_000,
			MaxContentBytes: 50 << 20,
		},
	}
}

// Load builds the configuration. Precedence, lowest to highest:
// defaults, a .env file in the working directory, the TOML config
// file, INTAKE_* environment variables, explicit flags.
func Load(args []string) (*Config, error) {
	godotenv.Load()

	cfg := Default()

	fs := flag.NewFlagSet("intaked", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("INTAKE_CONFIG"), "TOML config file path")
	addr := fs.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	downloadDir := fs.String("download-dir", cfg.DownloadDir, "directory for downloaded files")
	extractDir := fs.String("extract-dir", cfg.ExtractDir, "directory for extracted archives")
	chunkSize := fs.Int64("chunk-size", cfg.ChunkSize, "download chunk size in bytes")
	concurrency := fs.Int("concurrency", cfg.Concurrency, "maximum simultaneous downloads")
	pollInterval := fs.Duration("poll-interval", cfg.PollInterval.Duration, "worker poll interval")
	logFormat := fs.String("log-format", cfg.LogFormat, "log output format (text or json)")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg.applyEnv()

	// Flags the caller actually passed win over file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "db":
			cfg.DBPath = *dbPath
		case "download-dir":
			cfg.DownloadDir = *downloadDir
		case "extract-dir":
			cfg.ExtractDir = *extractDir
		case "chunk-size":
			cfg.ChunkSize = *chunkSize
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "poll-interval":
			cfg.PollInterval.Duration = *pollInterval
		case "log-format":
			cfg.LogFormat = *logFormat
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays INTAKE_* variables. Unparseable numeric values are
// ignored rather than fatal.
func (c *Config) applyEnv() {
	if v := os.Getenv("INTAKE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("INTAKE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("INTAKE_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("INTAKE_EXTRACT_DIR"); v != "" {
		c.ExtractDir = v
	}
	if v := os.Getenv("INTAKE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("INTAKE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("INTAKE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.ChunkSize = n
		}
	}
	if v := os.Getenv("INTAKE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("INTAKE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval.Duration = d
		}
	}
	if v := os.Getenv("INTAKE_JOB_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.JobTTL.Duration = d
		}
	}
	if v := os.Getenv("INTAKE_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := os.Getenv("INTAKE_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("INTAKE_S3_ACCESS_KEY"); v != "" {
		c.S3.AccessKey = v
	}
	if v := os.Getenv("INTAKE_S3_SECRET_KEY"); v != "" {
		c.S3.SecretKey = v
	}
}

func (c *Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Level maps the configured log level onto slog. Unknown values mean
// info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
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
