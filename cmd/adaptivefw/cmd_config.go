package main

// ---------------------------------------------------------------------------
// cmd_config.go: show, validate and scaffold configuration files
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"gopkg.in/yaml.v3"
)

func cmdConfig(args []string) {
	sub := "show"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "show":
		configShow(args)
	case "validate", "check":
		configValidate(args)
	case "init":
		configInit(args)
	default:
		errorf("unknown config subcommand %q (show, validate, init)", sub)
	}
}

// configShow prints the effective config (defaults merged with the file).
// Secrets are redacted unless --show-secrets is given.
func configShow(args []string) {
	fs := flag.NewFlagSet("config show", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "yaml", "Output format: yaml, json")
	showSecrets := fs.Bool("show-secrets", false, "Print API keys and DSNs unredacted")
	fs.Parse(args)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if !*showSecrets {
		for i := range cfg.Server.APIKeys {
			cfg.Server.APIKeys[i] = "***"
		}
		if cfg.Storage.DSN != "" {
			cfg.Storage.DSN = "***"
		}
	}

	if *format == "json" {
		printJSON(os.Stdout, cfg)
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("encoding config: %v", err)
	}
	os.Stdout.Write(data)
}

func configValidate(args []string) {
	fs := flag.NewFlagSet("config validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	path := envConfig(*configPath)
	if _, err := os.Stat(path); err != nil {
		errorf("config file %s: %v", path, err)
	}
	cfg, err := core.LoadConfig(path)
	if err != nil {
		errorf("%v", err)
	}

	warnings, errs := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), e)
	}
	if len(errs) > 0 {
		os.Exit(1)
	}
	fmt.Printf("%s %s is valid (%d warning(s))\n", green("✓"), path, len(warnings))
}

func configInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	out := fs.String("output", defaultConfigPath, "Where to write the config")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*out); err == nil && !*force {
		errorf("%s already exists (use --force to overwrite)", *out)
	}
	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errorf("creating %s: %v", dir, err)
		}
	}
	if err := core.SaveConfig(core.DefaultConfig(), *out); err != nil {
		errorf("%v", err)
	}
	fmt.Printf("%s Wrote default config to %s\n", green("✓"), *out)
}
