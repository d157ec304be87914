// Package config loads the server configuration from the config directory
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeServer = "server"
	ModeClient = "client"

	// FileName is written when no config exists. LegacyFileName is read if
	// present so older installs keep their settings.
	FileName       = "config.yaml"
	LegacyFileName = "config.json"
)

// RateLimit bounds requests per client IP. Zero RequestsPerMinute disables it.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Config is the on-disk configuration.
type Config struct {
	Mode           string                    `yaml:"mode"`
	ServerIP       string                    `yaml:"server_ip"`
	Host           string                    `yaml:"host"`
	Port           int                       `yaml:"port"`
	Store          string                    `yaml:"store"`
	DataDir        string                    `yaml:"data_dir"`
	BackupDir      string                    `yaml:"backup_dir"`
	UploadDir      string                    `yaml:"upload_dir"`
	MaxBackups     int                       `yaml:"max_backups"`
	AllowedOrigins []string                  `yaml:"allowed_origins"`
	RateLimit      RateLimit                 `yaml:"rate_limit"`
	Schemas        map[string]map[string]any `yaml:"schemas,omitempty"`
}

// Default returns the configuration used when nothing is on disk.
func Default() Config {
	return Config{
		Mode:           ModeServer,
		ServerIP:       "127.0.0.1",
		Host:           "0.0.0.0",
		Port:           8000,
		Store:          "sqlite",
		DataDir:        "./data",
		BackupDir:      "./backups",
		UploadDir:      "./uploads",
		MaxBackups:     10,
		AllowedOrigins: []string{"*"},
		RateLimit:      RateLimit{RequestsPerMinute: 600, Burst: 50},
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerURL is the base URL a client-mode instance forwards to. The server
// always listens on the configured port.
func (c Config) ServerURL() string {
	ip := c.ServerIP
	if !strings.Contains(ip, "://") {
		ip = "http://" + ip
	}
	return fmt.Sprintf("%s:%d", strings.TrimRight(ip, "/"), c.Port)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeServer, ModeClient:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeServer, ModeClient, c.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Mode == ModeClient && c.ServerIP == "" {
		return errors.New("client mode needs server_ip")
	}
	if c.MaxBackups < 1 {
		return fmt.Errorf("max_backups must be at least 1, got %d", c.MaxBackups)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	return nil
}

// Load reads dir/config.yaml (or dir/config.json), writing the defaults to
// dir/config.yaml when neither exists, then applies environment overrides.
func Load(dir string) (Config, error) {
	cfg := Default()
	data, path, err := readFirst(dir, FileName, LegacyFileName)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(dir, cfg); err != nil {
			return Config{}, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readFirst(dir string, names ...string) ([]byte, string, error) {
	for _, n := range names {
		p := filepath.Join(dir, n)
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, err
		}
		return data, p, nil
	}
	return nil, "", fs.ErrNotExist
}

// Save writes cfg to dir/config.yaml.
func Save(dir string, cfg Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0644)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func applyEnv(c Config) Config {
	c.Mode = env("POS_MODE", c.Mode)
	c.ServerIP = env("SERVER_IP", c.ServerIP)
	c.Host = env("HOST", c.Host)
	if p, err := strconv.Atoi(env("PORT", "")); err == nil {
		c.Port = p
	}
	c.Store = env("STORE_BACKEND", c.Store)
	c.DataDir = env("DATA_DIR", c.DataDir)
	c.BackupDir = env("BACKUP_DIR", c.BackupDir)
	if origins := env("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}
	return c
}
