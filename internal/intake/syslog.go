package intake

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"
)

// Alert kinds derived from syslog lines that do not carry a JSON alert.
const (
	KindAuthFailure  core.AlertKind = "auth_failure"
	KindFirewallDeny core.AlertKind = "firewall_deny"
	KindSyslog       core.AlertKind = "syslog"
)

// maxPending bounds the alerts held across failed cycles.
const maxPending = 10000

// SyslogSource listens for syslog lines (RFC 5424 / RFC 3164) from IDS and
// firewall appliances over UDP and/or TCP and turns them into alerts. Alerts
// received within one batch window are fed to a single intake cycle.
type SyslogSource struct {
	cfg      core.SyslogConfig
	sink     Ingester
	logger   zerolog.Logger
	window   time.Duration
	maxBatch int

	alerts  chan core.Alert
	udpConn *net.UDPConn
	tcpLn   net.Listener
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewSyslogSource validates cfg and creates the listener. Nothing is bound
// until Start.
func NewSyslogSource(cfg core.SyslogConfig, sink Ingester, logger zerolog.Logger) (*SyslogSource, error) {
	window := 2 * time.Second
	if cfg.BatchWindow != "" {
		d, err := time.ParseDuration(cfg.BatchWindow)
		if err != nil {
			return nil, fmt.Errorf("parsing intake.syslog.batch_window %q: %w", cfg.BatchWindow, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("intake.syslog.batch_window must be positive, got %s", d)
		}
		window = d
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &SyslogSource{
		cfg:      cfg,
		sink:     sink,
		logger:   logger.With().Str("source", "syslog").Logger(),
		window:   window,
		maxBatch: maxBatch,
		alerts:   make(chan core.Alert, maxBatch*2),
		now:      time.Now,
	}, nil
}

// Start binds the configured listeners and the batching loop. They stop
// when ctx is cancelled; call Wait afterwards to drain the last batch.
func (s *SyslogSource) Start(ctx context.Context) error {
	proto := strings.ToLower(s.cfg.Protocol)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	if proto == "udp" || proto == "both" {
		if err := s.listenUDP(ctx, addr); err != nil {
			return fmt.Errorf("starting syslog UDP listener: %w", err)
		}
	}
	if proto == "tcp" || proto == "both" {
		if err := s.listenTCP(ctx, addr); err != nil {
			s.closeListeners()
			return fmt.Errorf("starting syslog TCP listener: %w", err)
		}
	}
	if s.udpConn == nil && s.tcpLn == nil {
		return fmt.Errorf("unknown syslog protocol %q", s.cfg.Protocol)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.batchLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.closeListeners()
	}()

	s.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("syslog intake started")
	return nil
}

// Wait blocks until the batching loop has flushed and exited.
func (s *SyslogSource) Wait() {
	s.wg.Wait()
}

// UDPAddr returns the bound UDP address, or nil.
func (s *SyslogSource) UDPAddr() net.Addr {
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil.
func (s *SyslogSource) TCPAddr() net.Addr {
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

func (s *SyslogSource) closeListeners() {
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
}

func (s *SyslogSource) listenUDP(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	s.udpConn = conn

	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
			s.handleLine(ctx, string(buf[:n]))
		}
	}()
	return nil
}

func (s *SyslogSource) listenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	s.tcpLn = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}
			go s.handleConn(ctx, conn)
		}
	}()
	return nil
}

func (s *SyslogSource) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), 65536)
	for scanner.Scan() {
		s.handleLine(ctx, scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("TCP connection read error")
	}
}

func (s *SyslogSource) handleLine(ctx context.Context, raw string) {
	alerts := lineAlerts(raw, s.now())
	for _, a := range alerts {
		select {
		case s.alerts <- a:
		case <-ctx.Done():
			return
		}
	}
}

// batchLoop collects alerts and runs one cycle per window, or sooner when
// maxBatch alerts are waiting. A failed cycle keeps its alerts for the next
// window.
func (s *SyslogSource) batchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	var pending []core.Alert
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		result, err := s.sink.Ingest(ctx, pending)
		if err != nil {
			s.logger.Error().Err(err).Int("alerts", len(pending)).Msg("syslog cycle failed, retrying next window")
			if over := len(pending) - maxPending; over > 0 {
				s.logger.Warn().Int("dropped", over).Msg("syslog backlog full, dropping oldest alerts")
				pending = append([]core.Alert(nil), pending[over:]...)
			}
			return
		}
		s.logger.Debug().
			Str("cycle_id", result.ID).
			Int("alerts", len(pending)).
			Int("changes", len(result.Entries)).
			Msg("syslog cycle committed")
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			// drain what the listeners already queued
		drain:
			for {
				select {
				case a := <-s.alerts:
					pending = append(pending, a)
				default:
					break drain
				}
			}
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdown)
			cancel()
			return
		case a := <-s.alerts:
			pending = append(pending, a)
			if len(pending) >= s.maxBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// ─── Parsing ────────────────────────────────────────────────────────────────

type syslogMessage struct {
	Facility  int
	Severity  int
	Timestamp *time.Time
	Hostname  string
	AppName   string
	ProcID    string
	Message   string
}

// <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID MSG
var rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)

// <PRI>TIMESTAMP HOSTNAME MSG
var rfc3164Re = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)

var barePriRe = regexp.MustCompile(`^<(\d{1,3})>(.+)$`)

func parseSyslog(raw string, now time.Time) *syslogMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := rfc5424Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[4],
			AppName:  m[5],
			ProcID:   m[6],
			Message:  m[8],
		}
		if t, err := time.Parse(time.RFC3339, m[3]); err == nil {
			msg.Timestamp = &t
		}
		return msg
	}

	if m := rfc3164Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[3],
			Message:  m[4],
		}
		// BSD timestamps carry no year
		stamp := strings.Join(strings.Fields(m[2]), " ")
		if t, err := time.Parse("2006 Jan 2 15:04:05", fmt.Sprintf("%d %s", now.Year(), stamp)); err == nil {
			msg.Timestamp = &t
		}
		if idx := strings.Index(msg.Message, ":"); idx > 0 && !strings.ContainsAny(msg.Message[:idx], " {") {
			app := msg.Message[:idx]
			if pid := strings.Index(app, "["); pid > 0 {
				msg.AppName = app[:pid]
				msg.ProcID = strings.Trim(app[pid:], "[]")
			} else {
				msg.AppName = app
			}
			msg.Message = strings.TrimSpace(msg.Message[idx+1:])
		}
		return msg
	}

	if m := barePriRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		return &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Message:  m[2],
		}
	}
	return nil
}

var (
	authFailureRe = regexp.MustCompile(`(?i)(failed\s+password|authentication\s+failure|invalid\s+user|failed\s+login|bad\s+password)`)
	firewallRe    = regexp.MustCompile(`(?i)(iptables|nftables|ufw|filterlog|pf:|denied|blocked|drop|reject)`)
	srcIPRe       = regexp.MustCompile(`(?:from|src|SRC=|source[=:\s])[\s=]*(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	dstPortRe     = regexp.MustCompile(`(?:DPT=|dport[=:\s]*|port\s+)(\d{1,5})`)
)

// severityFromSyslog maps syslog severity (0=emergency..7=debug) onto the
// alert scale. Notice and below carry no alert.
func severityFromSyslog(sev int) (core.Severity, bool) {
	switch {
	case sev <= 3:
		return core.SeverityHigh, true
	case sev == 4:
		return core.SeverityMedium, true
	default:
		return "", false
	}
}

func classify(msg *syslogMessage) core.AlertKind {
	combined := msg.AppName + " " + msg.Message
	switch {
	case authFailureRe.MatchString(combined):
		return KindAuthFailure
	case firewallRe.MatchString(combined):
		return KindFirewallDeny
	default:
		return KindSyslog
	}
}

// lineAlerts converts one syslog line into alerts. A message body holding
// a JSON alert or alert array is decoded as is. Otherwise the line yields
// at most one alert keyed by the source IP found in the text; lines without
// one, or below warning severity, yield nothing.
func lineAlerts(raw string, now time.Time) []core.Alert {
	msg := parseSyslog(raw, now)
	if msg == nil {
		return nil
	}

	body := strings.TrimSpace(msg.Message)
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		if alerts, err := core.UnmarshalAlerts([]byte(body)); err == nil {
			return alerts
		}
	}

	severity, ok := severityFromSyslog(msg.Severity)
	if !ok {
		return nil
	}
	m := srcIPRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	at := now
	if msg.Timestamp != nil {
		at = *msg.Timestamp
	}
	alert := core.NewAlert(classify(msg), m[1], severity, at).
		WithAttr("syslog_severity", msg.Severity).
		WithAttr("syslog_facility", msg.Facility)
	if msg.Hostname != "" {
		alert = alert.WithAttr("hostname", msg.Hostname)
	}
	if msg.AppName != "" {
		alert = alert.WithAttr("app", msg.AppName)
	}
	if p := dstPortRe.FindStringSubmatch(body); p != nil {
		if port, err := strconv.Atoi(p[1]); err == nil {
			alert = alert.WithAttr("dst_port", port)
		}
	}
	return []core.Alert{alert}
}
