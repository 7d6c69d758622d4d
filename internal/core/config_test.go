package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ─── DefaultConfig ──────────────────────────────────────────────────────────

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 1790 {
		t.Errorf("default Port = %d, want 1790", cfg.Server.Port)
	}
	if cfg.Bus.Enabled {
		t.Error("bus should be disabled by default")
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("default Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Detection.FlowSizeThreshold != 20000 || cfg.Detection.RepeatThreshold != 8 {
		t.Errorf("threshold defaults = %d/%d", cfg.Detection.FlowSizeThreshold, cfg.Detection.RepeatThreshold)
	}
	if cfg.Detection.Trees != 100 || cfg.Detection.Contamination != 0.03 || cfg.Detection.Seed != 42 {
		t.Errorf("iforest defaults = %+v", cfg.Detection)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	_, errs := DefaultConfig().Validate()
	if len(errs) != 0 {
		t.Errorf("default config has errors: %v", errs)
	}
}

// ─── LoadConfig ─────────────────────────────────────────────────────────────

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adaptivefw.yaml")
	content := `
server:
  port: 9000
storage:
  driver: sqlite3
  dsn: /tmp/fw.db
detection:
  mode: iforest
  trees: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Storage.Driver != "sqlite3" || cfg.Detection.Trees != 50 {
		t.Errorf("cfg = %+v", cfg)
	}
	// untouched fields keep their defaults
	if cfg.Detection.Contamination != 0.03 {
		t.Errorf("Contamination = %v, want default", cfg.Detection.Contamination)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [unclosed"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("ADAPTIVEFW_API_KEY", "env-key")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AuthEnabled() || !cfg.ValidateAPIKey("env-key") {
		t.Error("env API key not applied")
	}
	if cfg.ValidateAPIKey("other") {
		t.Error("wrong key accepted")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Cloud.Provider = "gcp_armor"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Cloud.Provider != "gcp_armor" {
		t.Errorf("Provider = %q", loaded.Cloud.Provider)
	}
}

// ─── Validate ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"sql without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, "redis_addr"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "oracle" }, "unknown storage.driver"},
		{"unknown mode", func(c *Config) { c.Detection.Mode = "magic" }, "detection.mode"},
		{"contamination", func(c *Config) { c.Detection.Contamination = 0.7 }, "contamination"},
		{"kafka brokers", func(c *Config) { c.Intake.Kafka.Enabled = true }, "brokers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			_, errs := cfg.Validate()
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", errs, tt.want)
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intake.NATSSubject = "fw.alerts.>"
	warnings, _ := cfg.Validate()
	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"memory", "nats_subject", "no API keys"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q: %v", want, warnings)
		}
	}
}
