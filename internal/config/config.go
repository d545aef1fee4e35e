package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigRelPath = ".cavelog/config.yaml"
	defaultStoreRelPath  = ".cavelog/cavelog.db"
)

type CaptureConfig struct {
	Level         string   `yaml:"level"`
	RedactHeaders []string `yaml:"redact_headers"`
	Mask          string   `yaml:"mask"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SanitizeConfig struct {
	BodyFields  []string `yaml:"body_fields"`
	Replacement string   `yaml:"replacement"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Store    StoreConfig    `yaml:"store"`
	Sanitize SanitizeConfig `yaml:"sanitize"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// Load loads YAML config, then applies .env and environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

// DefaultPath returns ~/.cavelog/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

func (c *Config) SetDefaults() {
	if c.Capture.Level == "" {
		c.Capture.Level = "body"
	}
	if len(c.Capture.RedactHeaders) == 0 {
		c.Capture.RedactHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "Proxy-Authorization"}
	}
	if c.Capture.Mask == "" {
		c.Capture.Mask = "██"
	}
	if c.Capture.MaxBodyBytes == 0 {
		c.Capture.MaxBodyBytes = 4 << 20
	}
	if c.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.Path = filepath.Join(home, defaultStoreRelPath)
		} else {
			c.Store.Path = "cavelog.db"
		}
	}
	if c.Sanitize.Replacement == "" {
		c.Sanitize.Replacement = "***REDACTED***"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 25
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Capture.Level)) {
	case "none", "basic", "headers", "body":
	default:
		return fmt.Errorf("capture.level %q must be one of none, basic, headers, body", c.Capture.Level)
	}
	if c.Capture.MaxBodyBytes < 0 {
		return errors.New("capture.max_body_bytes cannot be negative")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Addr is the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel maps log.level onto slog levels; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
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

func applyEnvOverrides(c *Config) {
	setString(&c.Capture.Level, "CAVELOG_CAPTURE_LEVEL")
	setList(&c.Capture.RedactHeaders, "CAVELOG_REDACT_HEADERS")
	setInt64(&c.Capture.MaxBodyBytes, "CAVELOG_MAX_BODY_BYTES")
	setString(&c.Store.Path, "CAVELOG_STORE_PATH")
	setString(&c.Server.Host, "CAVELOG_SERVER_HOST")
	setInt(&c.Server.Port, "CAVELOG_SERVER_PORT")
	setString(&c.Log.Level, "CAVELOG_LOG_LEVEL")
	setString(&c.Log.File, "CAVELOG_LOG_FILE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
