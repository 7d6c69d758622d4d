package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the entire adaptivefw configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bus        BusConfig        `yaml:"bus"`
	Storage    StorageConfig    `yaml:"storage"`
	Intake     IntakeConfig     `yaml:"intake"`
	Detection  DetectionConfig  `yaml:"detection"`
	Simulation SimulationConfig `yaml:"simulation"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// StorageConfig selects the persistence backend for rules and audit entries.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // "memory", "sqlite3", "postgres", "mysql", "redis"
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// IntakeConfig holds external alert feed settings.
type IntakeConfig struct {
	Kafka  KafkaConfig  `yaml:"kafka"`
	Syslog SyslogConfig `yaml:"syslog"`

	// NATSSubject, when set and the bus is enabled, feeds alerts published
	// on the subject into intake cycles.
	NATSSubject string `yaml:"nats_subject"`

	// SweepInterval, when set (e.g. "1m"), runs an alert-less cycle on a timer.
	SweepInterval string `yaml:"sweep_interval"`
}

// KafkaConfig holds the Kafka alert source settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// SyslogConfig holds the syslog alert listener settings. Lines received
// within one BatchWindow are fed to a single intake cycle.
type SyslogConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Protocol    string `yaml:"protocol"` // "udp", "tcp", or "both"
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BatchWindow string `yaml:"batch_window"`
	MaxBatch    int    `yaml:"max_batch"`
}

// DetectionConfig holds detector thresholds.
type DetectionConfig struct {
	Mode              string  `yaml:"mode"` // "threshold" or "iforest"
	FlowSizeThreshold int     `yaml:"flow_size_threshold"`
	RepeatThreshold   int     `yaml:"repeat_threshold"`
	FrequentThreshold int     `yaml:"frequent_threshold"`
	Contamination     float64 `yaml:"contamination"`
	Trees             int     `yaml:"trees"`
	MinSamples        int     `yaml:"min_samples"`
	Seed              int64   `yaml:"seed"`
}

// SimulationConfig holds synthetic traffic defaults.
type SimulationConfig struct {
	Points   int    `yaml:"points"`
	Scenario string `yaml:"scenario"` // "", "ddos", "bruteforce", "portscan"
	Seed     int64  `yaml:"seed"`
}

// CloudConfig holds settings for the cloud apply mock.
type CloudConfig struct {
	Provider string `yaml:"provider"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config that runs with no file at all: in-memory
// storage, no bus, metrics on.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      1790,
			RateLimit: 100,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Storage: StorageConfig{
			Driver:    "memory",
			KeyPrefix: "adaptivefw",
		},
		Intake: IntakeConfig{
			Kafka: KafkaConfig{
				Topic:   "firewall-alerts",
				GroupID: "adaptivefw",
			},
			Syslog: SyslogConfig{
				Protocol:    "udp",
				Host:        "0.0.0.0",
				Port:        5514,
				BatchWindow: "2s",
				MaxBatch:    500,
			},
		},
		Detection: DetectionConfig{
			Mode:              "threshold",
			FlowSizeThreshold: 20000,
			RepeatThreshold:   8,
			FrequentThreshold: 10,
			Contamination:     0.03,
			Trees:             100,
			MinSamples:        20,
			Seed:              42,
		},
		Simulation: SimulationConfig{
			Points: 600,
		},
		Cloud: CloudConfig{
			Provider: "aws_waf",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "adaptivefw",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if len(cfg.Server.APIKeys) == 0 {
		if envKey := os.Getenv("ADAPTIVEFW_API_KEY"); envKey != "" {
			cfg.Server.APIKeys = []string{envKey}
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate returns non-fatal warnings and fatal errors.
func (c *Config) Validate() (warnings []string, errs []string) {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "memory":
		warnings = append(warnings, "storage.driver is memory: rules and audit log are lost on restart")
	case "sqlite3", "postgres", "mysql":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Sprintf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, "storage.redis_addr is required for driver \"redis\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(c.Detection.Mode) {
	case "threshold", "iforest":
	default:
		errs = append(errs, fmt.Sprintf("unknown detection.mode %q (threshold, iforest)", c.Detection.Mode))
	}
	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		errs = append(errs, fmt.Sprintf("detection.contamination %v must be in (0, 0.5)", c.Detection.Contamination))
	}

	if c.Intake.Kafka.Enabled {
		if len(c.Intake.Kafka.Brokers) == 0 {
			errs = append(errs, "intake.kafka.brokers is required when kafka intake is enabled")
		}
		if c.Intake.Kafka.Topic == "" {
			errs = append(errs, "intake.kafka.topic is required when kafka intake is enabled")
		}
	}
	if sc := c.Intake.Syslog; sc.Enabled {
		switch strings.ToLower(sc.Protocol) {
		case "udp", "tcp", "both":
		default:
			errs = append(errs, fmt.Sprintf("unknown intake.syslog.protocol %q (udp, tcp, both)", sc.Protocol))
		}
		if sc.Port <= 0 || sc.Port > 65535 {
			errs = append(errs, fmt.Sprintf("intake.syslog.port %d out of range", sc.Port))
		}
	}
	if c.Intake.NATSSubject != "" && !c.Bus.Enabled {
		warnings = append(warnings, "intake.nats_subject is set but bus.enabled is false; subject ignored")
	}

	if !c.AuthEnabled() {
		warnings = append(warnings, "no API keys configured: the API is open to any caller")
	}
	return warnings, errs
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks the key against the configured keys in constant time.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
