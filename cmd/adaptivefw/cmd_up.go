package main

// ---------------------------------------------------------------------------
// cmd_up.go: start the engine, intake sources and API server
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adaptivefw/adaptivefw/internal/api"
	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/adaptivefw/adaptivefw/internal/detect"
	"github.com/adaptivefw/adaptivefw/internal/intake"
	"github.com/adaptivefw/adaptivefw/internal/storage"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	storageDriver := fs.String("storage", "", "Storage driver override: memory, sqlite3, postgres, mysql, redis")
	dsn := fs.String("dsn", "", "Storage DSN override")
	detector := fs.String("detector", "", "Detection mode override: threshold, iforest")
	dryRun := fs.Bool("dry-run", false, "Validate config, open storage, then exit")
	quiet := fs.Bool("quiet", false, "Suppress banner and non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress banner and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}
	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *storageDriver != "" {
		cfg.Storage.Driver = *storageDriver
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if *detector != "" {
		cfg.Detection.Mode = *detector
	}

	warnings, validationErrs := cfg.Validate()
	if !*quiet {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
		}
	}
	if len(validationErrs) > 0 {
		for _, e := range validationErrs {
			fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), e)
		}
		errorf("config validation failed with %d error(s)", len(validationErrs))
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}

	persister, err := storage.New(engine.Context(), cfg.Storage, engine.Logger)
	if err != nil {
		errorf("opening storage: %v", err)
	}
	engine.Persister = persister

	engine.Detector, err = detect.New(cfg.Detection)
	if err != nil {
		errorf("creating detector: %v", err)
	}

	if *dryRun {
		if persister != nil {
			persister.Close()
		}
		fmt.Fprintf(os.Stdout, "%s Config valid. storage=%s detector=%s\n",
			green("✓"), cfg.Storage.Driver, engine.Detector.Name())
		os.Exit(0)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Starting adaptivefw engine...\n", dim("▸"))
	}
	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}

	// API first so the audit stream sees cycles from intake
	srv := api.NewServer(engine, api.Options{ConfigPath: *configPath})
	if err := srv.Start(); err != nil {
		errorf("starting API server: %v", err)
	}

	in := intake.New(cfg.Intake, engine, engine.Bus, engine.Logger)
	if err := in.Start(engine.Context()); err != nil {
		errorf("starting intake: %v", err)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s adaptivefw running: %d active rules, storage %s, detector %s, API on :%d\n",
			green("✓"), engine.Manager.RuleCount(), cfg.Storage.Driver, engine.Detector.Name(), cfg.Server.Port)
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop, send SIGHUP to reload config\n", dim("▸"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			changes, err := core.ReloadConfig(engine, *configPath, engine.Logger)
			if err != nil {
				warnf("config reload failed: %v", err)
				continue
			}
			if !*quiet {
				fmt.Fprintf(os.Stderr, "%s Config reloaded (%d change(s))\n", green("✓"), len(changes))
			}
			continue
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
		}
		break
	}

	in.Stop()
	srv.Stop()
	engine.Shutdown()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s adaptivefw stopped.\n", green("✓"))
	}
}
