package core

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// ReloadConfig re-reads the config file and applies the settings that can
// change at runtime. It returns a description of each change.
//
// Hot-reloadable: logging level, API keys and the cloud provider.
// Everything else (server address, bus, storage, intake sources, detection)
// needs a restart.
func ReloadConfig(engine *Engine, configPath string, logger zerolog.Logger) ([]string, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config path set, cannot reload")
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if _, errs := newCfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0])
	}

	engine.cfgMu.Lock()
	defer engine.cfgMu.Unlock()

	var changes []string
	cfg := engine.Config

	if newCfg.LogLevel() != cfg.LogLevel() {
		cfg.Logging.Level = newCfg.Logging.Level
		SetLogLevel(newCfg.Logging.Level)
		changes = append(changes, "logging.level -> "+newCfg.LogLevel())
	}

	if len(newCfg.Server.APIKeys) != len(cfg.Server.APIKeys) {
		changes = append(changes, fmt.Sprintf("server.api_keys -> %d keys", len(newCfg.Server.APIKeys)))
	}
	cfg.Server.APIKeys = newCfg.Server.APIKeys

	if newCfg.Cloud.Provider != cfg.Cloud.Provider {
		cfg.Cloud.Provider = newCfg.Cloud.Provider
		engine.Cloud.SetProvider(newCfg.Cloud.Provider)
		changes = append(changes, "cloud.provider -> "+newCfg.Cloud.Provider)
	}

	for _, field := range restartOnlyChanges(cfg, newCfg) {
		logger.Warn().Str("field", field).Msg("config change requires restart")
	}

	logger.Info().Strs("changes", changes).Msg("configuration reloaded")
	return changes, nil
}

func restartOnlyChanges(old, next *Config) []string {
	var fields []string
	if old.Server.Host != next.Server.Host || old.Server.Port != next.Server.Port {
		fields = append(fields, "server")
	}
	if old.Bus != next.Bus {
		fields = append(fields, "bus")
	}
	if old.Storage != next.Storage {
		fields = append(fields, "storage")
	}
	if old.Detection != next.Detection {
		fields = append(fields, "detection")
	}
	if old.Intake.SweepInterval != next.Intake.SweepInterval ||
		old.Intake.NATSSubject != next.Intake.NATSSubject ||
		old.Intake.Syslog != next.Intake.Syslog ||
		!slices.Equal(old.Intake.Kafka.Brokers, next.Intake.Kafka.Brokers) ||
		old.Intake.Kafka.Enabled != next.Intake.Kafka.Enabled ||
		old.Intake.Kafka.Topic != next.Intake.Kafka.Topic ||
		old.Intake.Kafka.GroupID != next.Intake.Kafka.GroupID {
		fields = append(fields, "intake")
	}
	return fields
}
