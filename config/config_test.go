package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stevemurr/pos-server/config"
)

func TestLoadWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != config.ModeServer || cfg.Port != 8000 || cfg.MaxBackups != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err != nil {
		t.Fatalf("expected %s to be written: %v", config.FileName, err)
	}
	again, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Addr() != cfg.Addr() {
		t.Fatalf("reload mismatch: %s vs %s", again.Addr(), cfg.Addr())
	}
}

func TestLoadLegacyJSON(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"mode": "client", "server_ip": "192.168.1.20"}`
	if err := os.WriteFile(filepath.Join(dir, config.LegacyFileName), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != config.ModeClient {
		t.Fatalf("expected client mode, got %q", cfg.Mode)
	}
	if got := cfg.ServerURL(); got != "http://192.168.1.20:8000" {
		t.Fatalf("unexpected server URL %q", got)
	}
}

func TestLoadYAMLWithSchemas(t *testing.T) {
	dir := t.TempDir()
	data := `
store: json
max_backups: 3
rate_limit:
  requests_per_minute: 0
schemas:
  items:
    type: object
    required: [item_name]
`
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != "json" || cfg.MaxBackups != 3 || cfg.RateLimit.RequestsPerMinute != 0 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Schemas["items"]["type"] != "object" {
		t.Fatalf("expected items schema, got %v", cfg.Schemas)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ALLOWED_ORIGINS", "http://a,http://b")
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9100 || cfg.Store != "memory" || len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad mode", func(c *config.Config) { c.Mode = "kiosk" }},
		{"bad port", func(c *config.Config) { c.Port = 70000 }},
		{"client without server", func(c *config.Config) { c.Mode = config.ModeClient; c.ServerIP = "" }},
		{"no backups", func(c *config.Config) { c.MaxBackups = 0 }},
		{"negative rate", func(c *config.Config) { c.RateLimit.Burst = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
