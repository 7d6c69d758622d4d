package main

// ---------------------------------------------------------------------------
// cmd_simulate.go: generate traffic and run it through detection
//
// By default the batch is generated by the running instance. With --local
// the whole pipeline runs in-process against an in-memory rule set.
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/adaptivefw/adaptivefw/internal/detect"
	"github.com/adaptivefw/adaptivefw/internal/export"
	"github.com/adaptivefw/adaptivefw/internal/traffic"
	"github.com/rs/zerolog"
)

func cmdSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	points := fs.Int("points", 0, "Number of flows (default: simulation.points)")
	scenario := fs.String("scenario", "", "Attack scenario: ddos, bruteforce, portscan")
	seed := fs.Int64("seed", 0, "Random seed (0 = config seed or time)")
	local := fs.Bool("local", false, "Run in-process instead of against a running instance")
	detector := fs.String("detector", "", "Detection mode for --local: threshold, iforest")
	trafficOut := fs.String("traffic-csv", "", "With --local, also write the generated flows as CSV")
	fs.Parse(args)

	var result core.SimulationResult
	if *local {
		result = simulateLocal(*rf.configPath, *points, *scenario, *seed, *detector, *trafficOut)
	} else {
		r := rf.resolve()
		// unset fields fall back to the server's simulation config
		req := map[string]interface{}{}
		if *points > 0 {
			req["points"] = *points
		}
		if *scenario != "" {
			req["scenario"] = *scenario
		}
		if *seed != 0 {
			req["seed"] = *seed
		}
		payload, _ := json.Marshal(req)
		if err := json.Unmarshal(r.post("/api/v1/simulate", payload), &result); err != nil {
			errorf("parsing response: %v", err)
		}
	}

	w, cleanup := outputWriter(*rf.output)
	defer cleanup()
	printSimulation(w, parseFormat(*rf.format), result)
}

func simulateLocal(configPath string, points int, scenario string, seed int64, mode, trafficOut string) core.SimulationResult {
	cfg, err := core.LoadConfig(envConfig(configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if mode != "" {
		cfg.Detection.Mode = mode
	}
	if points == 0 {
		points = cfg.Simulation.Points
	}
	if seed == 0 {
		seed = cfg.Simulation.Seed
	}
	if scenario == "" {
		scenario = cfg.Simulation.Scenario
	}
	sc, err := traffic.ParseScenario(scenario)
	if err != nil {
		errorf("%v", err)
	}

	engine, err := core.NewEngineWithLogger(cfg, zerolog.Nop(), nil)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	if engine.Detector, err = detect.New(cfg.Detection); err != nil {
		errorf("creating detector: %v", err)
	}

	flows, err := traffic.NewSimulator(seed).Generate(traffic.Options{Points: points, Scenario: sc})
	if err != nil {
		errorf("generating traffic: %v", err)
	}
	result, err := engine.Simulate(context.Background(), flows)
	if err != nil {
		errorf("simulating: %v", err)
	}

	if trafficOut != "" {
		f, err := os.Create(trafficOut)
		if err != nil {
			errorf("opening %s: %v", trafficOut, err)
		}
		defer f.Close()
		if err := export.TrafficCSV(f, flows); err != nil {
			errorf("writing traffic: %v", err)
		}
	}
	return result
}

func printSimulation(w io.Writer, f OutputFormat, result core.SimulationResult) {
	if f == FormatJSON {
		printJSON(w, result)
		return
	}
	if f == FormatCSV {
		writeCSV(w, ruleHeaders, ruleRows(result.Cycle.Rules))
		return
	}

	counts := map[core.AlertKind]int{}
	for _, a := range result.Alerts {
		counts[a.Kind]++
	}
	fmt.Fprintf(w, "%s %d flows, %d packets, %d alerts", green("✓"), result.Flows, result.Packets, len(result.Alerts))
	for kind, n := range counts {
		fmt.Fprintf(w, ", %s=%d", kind, n)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s cycle %s: %d change(s), %d rejected, %d skipped\n\n",
		dim("▸"), shortID(result.Cycle.ID), len(result.Cycle.Entries), len(result.Cycle.Rejected), result.Cycle.Skipped)
	writeRows(w, FormatTable, ruleHeaders, ruleRows(result.Cycle.Rules))
}
