// Package api serves the adaptive firewall REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/adaptivefw/adaptivefw/internal/export"
	"github.com/adaptivefw/adaptivefw/internal/traffic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by /api/v1/status.
var Version = "dev"

const maxBodyBytes = 1 << 20

// Options holds optional server settings.
type Options struct {
	// ConfigPath enables POST /api/v1/config/reload.
	ConfigPath string
}

// Server is the adaptive firewall REST API server.
type Server struct {
	engine     *core.Engine
	server     *http.Server
	handler    http.Handler
	hub        *auditHub
	limiter    *ipLimiter
	simulator  *traffic.Simulator
	configPath string
	logger     zerolog.Logger
	stop       chan struct{}
}

// NewServer creates the API server and subscribes the audit stream to the
// engine's committed cycles.
func NewServer(engine *core.Engine, opts Options) *Server {
	logger := engine.Logger.With().Str("component", "api_server").Logger()
	s := &Server{
		engine:     engine,
		hub:        newAuditHub(logger),
		simulator:  traffic.NewSimulator(engine.Config.Simulation.Seed),
		configPath: opts.ConfigPath,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	engine.Manager.AddHandler(func(result core.CycleResult) {
		s.hub.Broadcast(result.Entries)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/cycles", s.handleCycles)
	mux.HandleFunc("/api/v1/sweep", s.handleSweep)
	mux.HandleFunc("/api/v1/simulate", s.handleSimulate)
	mux.HandleFunc("/api/v1/rules", s.handleRules)
	mux.HandleFunc("/api/v1/rules/", s.handleRuleBySource)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.Handle("/api/v1/audit/stream", s.hub)
	mux.HandleFunc("/api/v1/export/", s.handleExport)
	mux.HandleFunc("/api/v1/cloud/apply", s.handleCloudApply)
	mux.HandleFunc("/api/v1/cloud/last", s.handleCloudLast)
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.HandleFunc("/api/v1/config", s.handleConfig)
	mux.HandleFunc("/api/v1/config/reload", s.handleConfigReload)
	if engine.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(engine.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// CORS -> logging -> rate limit -> auth -> handler
	var handler http.Handler = authMiddleware(mux, engine, s.logger)
	if rate := engine.Config.Server.RateLimit; rate > 0 {
		s.limiter = newIPLimiter(rate)
		handler = rateLimitMiddleware(handler, s.limiter)
	}
	handler = corsMiddleware(loggingMiddleware(handler, s.logger), engine.Config.Server.CORSOrigins)
	s.handler = handler

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", engine.Config.Server.Host, engine.Config.Server.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if cfg := s.engine.ConfigSnapshot(); cfg.AuthEnabled() {
		s.logger.Info().Int("keys", len(cfg.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled: set server.api_keys or ADAPTIVEFW_API_KEY")
	}
	if s.limiter != nil {
		go s.pruneLimiter()
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

func (s *Server) pruneLimiter() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.limiter.prune(now.Add(-10 * time.Minute))
		}
	}
}

// Stop gracefully shuts down the API server and closes audit streams.
func (s *Server) Stop() error {
	close(s.stop)
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":            Version,
		"status":             "running",
		"engine":             s.engine.Status(),
		"bus":                s.engine.Bus.GetMetrics(),
		"stream_subscribers": s.hub.Len(),
		"timestamp":          time.Now().UTC(),
	})
}

// handleCycles runs one intake cycle over a posted alert batch (a single
// alert object or an array).
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	alerts, err := core.UnmarshalAlerts(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert JSON: "+err.Error())
		return
	}

	result, err := s.engine.Ingest(r.Context(), alerts)
	if err != nil {
		s.writeCycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSweep runs an alert-less cycle.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.writeCycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type simulateRequest struct {
	Points   int    `json:"points"`
	Scenario string `json:"scenario"`
	Seed     int64  `json:"seed"`
}

// handleSimulate generates a traffic batch, runs the detector over it and
// feeds the alerts through one intake cycle. The body is optional.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := simulateRequest{
		Points:   s.engine.Config.Simulation.Points,
		Scenario: s.engine.Config.Simulation.Scenario,
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	scenario, err := traffic.ParseScenario(req.Scenario)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sim := s.simulator
	if req.Seed != 0 {
		sim = traffic.NewSimulator(req.Seed)
	}
	flows, err := sim.Generate(traffic.Options{
		Points:   req.Points,
		Start:    s.engine.Now().Add(-time.Duration(req.Points) * traffic.Interval),
		Scenario: scenario,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Simulate(r.Context(), flows)
	if err != nil {
		if errors.Is(err, core.ErrNoDetector) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeCycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules := s.engine.Manager.Rules()
		if action := r.URL.Query().Get("action"); action != "" {
			filtered := rules[:0]
			for _, rule := range rules {
				if strings.EqualFold(string(rule.Action), action) {
					filtered = append(filtered, rule)
				}
			}
			rules = filtered
		}
		if rules == nil {
			rules = []core.Rule{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rules": rules,
			"total": len(rules),
		})

	case http.MethodPost:
		var rule core.Rule
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule JSON: "+err.Error())
			return
		}
		if action, err := core.ParseAction(string(rule.Action)); err == nil {
			rule.Action = action
		}
		entry, err := s.engine.Manager.Put(r.Context(), rule, s.engine.Now())
		if err != nil {
			s.writeCycleError(w, err)
			return
		}
		status := http.StatusOK
		if entry.Kind == core.ChangeAdded {
			status = http.StatusCreated
		}
		writeJSON(w, status, entry)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRuleBySource handles GET/DELETE on /api/v1/rules/{source_id}.
func (s *Server) handleRuleBySource(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/rules/"), "/")
	if sourceID == "" {
		s.handleRules(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rule, ok := s.engine.Manager.Rule(sourceID)
		if !ok {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeJSON(w, http.StatusOK, rule)

	case http.MethodDelete:
		entry, err := s.engine.Manager.Remove(r.Context(), sourceID, s.engine.Now())
		if err != nil {
			s.writeCycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 100)
	entries := s.engine.Manager.Audit().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   s.engine.Manager.Audit().Len(),
		"counts":  s.engine.Manager.Audit().CountByKind(),
	})
}

// handleExport serves /api/v1/export/{rules|audit|alerts|traffic}?format=json|csv.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind, err := export.ParseKind(strings.TrimPrefix(r.URL.Path, "/api/v1/export/"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", kind, format))
	if err := export.Write(w, export.FromEngine(s.engine), kind, format); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("export failed")
	}
}

func (s *Server) handleCloudApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ApplyToCloud())
}

func (s *Server) handleCloudLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, ok := s.engine.Cloud.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no cloud apply has run yet")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleLogs returns recent log lines captured by the engine's ring buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var entries []core.LogEntry
	if s.engine.Logs != nil {
		entries = s.engine.Logs.Recent(queryInt(r, "limit", 100))
	}
	if entries == nil {
		entries = []core.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	safeCfg := s.engine.ConfigSnapshot()
	safeCfg.Server.APIKeys = nil
	safeCfg.Storage.DSN = redactDSN(safeCfg.Storage.DSN)
	writeJSON(w, http.StatusOK, safeCfg)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.configPath == "" {
		writeError(w, http.StatusNotFound, "server was started without a config file")
		return
	}
	changes, err := core.ReloadConfig(s.engine, s.configPath, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if changes == nil {
		changes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"changes": changes,
	})
}

// writeCycleError maps lifecycle errors to status codes: a failed commit is
// 503, a missing rule 404, anything else a bad request.
func (s *Server) writeCycleError(w http.ResponseWriter, err error) {
	var pe *core.PersistenceError
	switch {
	case errors.As(err, &pe):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, core.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// dsnPassword matches password settings in key/value DSNs and URL queries.
var dsnPassword = regexp.MustCompile(`(?i)\b(password\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s&]*)`)

// redactDSN hides the password in key/value DSNs, in URL-style DSNs and
// anything before '@' in driver-style ones.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	dsn = dsnPassword.ReplaceAllString(dsn, "${1}***")
	if i := strings.LastIndex(dsn, "@"); i > 0 {
		return "***" + dsn[i:]
	}
	return dsn
}
