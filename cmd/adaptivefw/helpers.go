package main

// ---------------------------------------------------------------------------
// helpers.go: TTY detection, color, error helpers, env-based config
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

const defaultConfigPath = "configs/default.yaml"

// Color is decided once per process: NO_COLOR and TERM=dumb disable it, and
// so does a stderr that is not a terminal.
var useColor = sync.OnceValue(func() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	fi, err := os.Stderr.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
})

func paint(sgr string) func(string) string {
	return func(s string) string {
		if !useColor() {
			return s
		}
		return "\033[" + sgr + "m" + s + "\033[0m"
	}
}

var (
	red    = paint("91")
	yellow = paint("93")
	green  = paint("32")
	cyan   = paint("36")
	dim    = paint("90")
	bold   = paint("1")
)

// errorf prints to stderr and exits 1.
func errorf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, red("error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, yellow("warn:"), fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Env-based configuration
//
//   ADAPTIVEFW_CONFIG   default config file path
//   ADAPTIVEFW_HOST     API host override
//   ADAPTIVEFW_PORT     API port override
//   ADAPTIVEFW_API_KEY  API key for authentication
// ---------------------------------------------------------------------------

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != defaultConfigPath {
		return flagVal
	}
	if e := os.Getenv("ADAPTIVEFW_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

func envHost(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv("ADAPTIVEFW_HOST")
}

func envPort(flagVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	if e := os.Getenv("ADAPTIVEFW_PORT"); e != "" {
		if p, err := strconv.Atoi(e); err == nil {
			return p
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// API helpers
// ---------------------------------------------------------------------------

func apiBase(configPath, hostOverride string, portOverride int) string {
	host := "127.0.0.1"
	port := core.DefaultConfig().Server.Port

	if cfg, err := core.LoadConfig(configPath); err == nil && cfg != nil {
		if cfg.Server.Host != "" && cfg.Server.Host != "0.0.0.0" {
			host = cfg.Server.Host
		}
		if cfg.Server.Port != 0 {
			port = cfg.Server.Port
		}
	}
	if hostOverride != "" {
		host = hostOverride
	}
	if portOverride != 0 {
		port = portOverride
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// resolveAPIKey returns the API key from flag, env, or config (in that order).
func resolveAPIKey(flagKey, configPath string) string {
	if flagKey != "" {
		return flagKey
	}
	if envKey := os.Getenv("ADAPTIVEFW_API_KEY"); envKey != "" {
		return envKey
	}
	cfg, err := core.LoadConfig(configPath)
	if err == nil && cfg != nil && len(cfg.Server.APIKeys) > 0 {
		return cfg.Server.APIKeys[0]
	}
	return ""
}

// remoteFlags are the flags shared by every command that talks to a running
// instance.
type remoteFlags struct {
	configPath *string
	host       *string
	port       *int
	apiKey     *string
	format     *string
	output     *string
	timeout    *string
}

func addRemoteFlags(fs *flag.FlagSet, defaultFormat string) *remoteFlags {
	return &remoteFlags{
		configPath: fs.String("config", defaultConfigPath, "Config file path"),
		host:       fs.String("host", "", "API host override"),
		port:       fs.Int("port", 0, "API port override"),
		apiKey:     fs.String("api-key", "", "API key for authentication"),
		format:     fs.String("format", defaultFormat, "Output format: table, json, csv"),
		output:     fs.String("output", "", "Write output to file"),
		timeout:    fs.String("timeout", "10s", "Request timeout"),
	}
}

// remote is a resolved API endpoint.
type remote struct {
	base    string
	apiKey  string
	timeout time.Duration
	format  OutputFormat
}

func (f *remoteFlags) resolve() remote {
	configPath := envConfig(*f.configPath)
	timeout, err := time.ParseDuration(*f.timeout)
	if err != nil {
		errorf("invalid timeout %q: %v", *f.timeout, err)
	}
	return remote{
		base:    apiBase(configPath, envHost(*f.host), envPort(*f.port)),
		apiKey:  resolveAPIKey(*f.apiKey, configPath),
		timeout: timeout,
		format:  parseFormat(*f.format),
	}
}

func (r remote) get(path string) []byte {
	body, err := apiGet(r.base+path, r.apiKey, r.timeout)
	if err != nil {
		errorf("%v", err)
	}
	return body
}

func (r remote) post(path string, payload []byte) []byte {
	body, err := apiPost(r.base+path, payload, r.apiKey, r.timeout)
	if err != nil {
		errorf("%v", err)
	}
	return body
}

func (r remote) delete(path string) []byte {
	body, err := apiDelete(r.base+path, r.apiKey, r.timeout)
	if err != nil {
		errorf("%v", err)
	}
	return body
}

// parseArgs parses flags that may appear before or after positional
// arguments and returns the positionals in order.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// ---------------------------------------------------------------------------
// suggest: typo correction for unknown commands
// ---------------------------------------------------------------------------

func suggest(input string) string {
	input = strings.ToLower(input)
	if input == "" {
		return ""
	}
	for _, c := range commands {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range commands {
		if len(c) == len(input) {
			diff := 0
			for i := range c {
				if c[i] != input[i] {
					diff++
				}
			}
			if diff <= 1 {
				return c
			}
		}
	}
	return ""
}
