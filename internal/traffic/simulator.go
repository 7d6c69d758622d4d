// Package traffic generates synthetic NetFlow-like records, optionally with
// an attack pattern mixed in.
package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
)

// Scenario names an attack pattern injected into a generated batch.
type Scenario string

const (
	ScenarioNone       Scenario = ""
	ScenarioDDoS       Scenario = "ddos"
	ScenarioBruteForce Scenario = "bruteforce"
	ScenarioPortScan   Scenario = "portscan"
)

// ParseScenario accepts "", "none", "ddos", "bruteforce"/"brute_force" and
// "portscan"/"port_scan", case-insensitively.
func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ScenarioNone, nil
	case "ddos":
		return ScenarioDDoS, nil
	case "bruteforce", "brute_force":
		return ScenarioBruteForce, nil
	case "portscan", "port_scan":
		return ScenarioPortScan, nil
	default:
		return ScenarioNone, fmt.Errorf("unknown scenario %q (ddos, bruteforce, portscan)", s)
	}
}

var (
	dstPorts  = []int{22, 80, 443, 8080, 3306, 5900, 3389}
	protocols = []string{"TCP", "UDP", "ICMP"}
)

// Record spacing and distribution parameters.
const (
	Interval      = 30 * time.Second
	meanPackets   = 10
	meanBytes     = 1200
	stddevBytes   = 300
	minBytes      = 40
	meanDuration  = 1.5
	ddosSpan      = 80
	bruteAttempts = 30
	scanProbes    = 40
)

// Options controls one generated batch.
type Options struct {
	Points   int
	Start    time.Time
	Scenario Scenario
}

// Simulator generates flows from a seeded source so batches are reproducible.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. A zero seed uses the current time.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces opts.Points flows spaced Interval apart from opts.Start
// (six hours ago when unset).
func (s *Simulator) Generate(opts Options) ([]core.Flow, error) {
	if opts.Points <= 0 {
		return nil, fmt.Errorf("points must be positive, got %d", opts.Points)
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC().Add(-6 * time.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flows := make([]core.Flow, opts.Points)
	for i := range flows {
		flows[i] = core.Flow{
			Timestamp: start.Add(time.Duration(i) * Interval).UTC(),
			SrcIP:     s.ip(),
			DstIP:     "10.0.0." + strconv.Itoa(s.between(1, 50)),
			SrcPort:   s.between(1024, 65535),
			DstPort:   dstPorts[s.rng.Intn(len(dstPorts))],
			Protocol:  protocols[s.rng.Intn(len(protocols))],
			Packets:   s.poisson(meanPackets),
			Bytes:     int(math.Max(minBytes, math.Trunc(s.rng.NormFloat64()*stddevBytes+meanBytes))),
			Duration:  int(math.Max(1, math.Trunc(s.rng.ExpFloat64()*meanDuration))),
		}
	}

	switch opts.Scenario {
	case ScenarioNone:
	case ScenarioDDoS:
		s.injectDDoS(flows)
	case ScenarioBruteForce:
		s.injectBruteForce(flows)
	case ScenarioPortScan:
		s.injectPortScan(flows)
	default:
		return nil, fmt.Errorf("unknown scenario %q", opts.Scenario)
	}
	return flows, nil
}

// injectDDoS turns a contiguous window into high-volume flows from random sources.
func (s *Simulator) injectDDoS(flows []core.Flow) {
	n := len(flows)
	// short batches get the burst at the start
	start := 0
	if n >= 150 {
		start = s.between(50, n-100)
	}
	end := start + ddosSpan
	if end > n {
		end = n
	}
	for j := start; j < end; j++ {
		flows[j].Packets += s.between(200, 800)
		flows[j].Bytes += s.between(20000, 80000)
		flows[j].SrcIP = s.ip()
	}
}

// injectBruteForce makes one attacker hit SSH repeatedly.
func (s *Simulator) injectBruteForce(flows []core.Flow) {
	attacker := s.ip()
	for _, idx := range s.sample(len(flows), bruteAttempts) {
		flows[idx].SrcIP = attacker
		flows[idx].DstPort = 22
		flows[idx].Packets += s.between(1, 5)
	}
}

// injectPortScan makes one attacker probe low ports with single packets.
func (s *Simulator) injectPortScan(flows []core.Flow) {
	attacker := s.ip()
	for _, idx := range s.sample(len(flows), scanProbes) {
		flows[idx].SrcIP = attacker
		flows[idx].DstPort = s.between(1, 1024)
		flows[idx].Packets = 1
	}
}

func (s *Simulator) ip() string {
	return fmt.Sprintf("%d.%d.%d.%d", s.between(1, 254), s.between(1, 254), s.between(1, 254), s.between(1, 254))
}

// between returns an int in [lo, hi].
func (s *Simulator) between(lo, hi int) int {
	return lo + s.rng.Intn(hi-lo+1)
}

// sample returns k distinct indices below n (all of them when k >= n).
func (s *Simulator) sample(n, k int) []int {
	perm := s.rng.Perm(n)
	if k > n {
		k = n
	}
	return perm[:k]
}

// poisson draws from a Poisson distribution (Knuth's method; fine for small means).
func (s *Simulator) poisson(mean float64) int {
	limit := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= s.rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}
