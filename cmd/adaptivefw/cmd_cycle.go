package main

// ---------------------------------------------------------------------------
// cmd_cycle.go: submit an alert batch, or trigger a sweep
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/adaptivefw/adaptivefw/internal/intake"
	"github.com/rs/zerolog"
)

func cmdCycle(args []string) {
	fs := flag.NewFlagSet("cycle", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	file := fs.String("file", "-", "Alert JSON file (object or array); - reads stdin")
	viaKafka := fs.Bool("kafka", false, "Publish the batch to the configured Kafka topic instead of the API")
	brokers := fs.String("brokers", "", "Comma-separated Kafka brokers (default: intake.kafka.brokers)")
	viaNATS := fs.Bool("nats", false, "Publish the batch to NATS JetStream on fw.alerts.<topic> instead of the API")
	natsURL := fs.String("nats-url", "", "NATS server URL (default: bus.url)")
	topic := fs.String("topic", "cli", "Subject suffix for --nats")
	fs.Parse(args)

	if *viaKafka && *viaNATS {
		errorf("--kafka and --nats are mutually exclusive")
	}

	data, err := readInput(*file)
	if err != nil {
		errorf("reading alerts: %v", err)
	}
	alerts, err := core.UnmarshalAlerts(data)
	if err != nil {
		errorf("%v", err)
	}

	if *viaKafka {
		cfg, err := core.LoadConfig(envConfig(*rf.configPath))
		if err != nil {
			errorf("loading config: %v", err)
		}
		list := cfg.Intake.Kafka.Brokers
		if *brokers != "" {
			list = strings.Split(*brokers, ",")
		}
		if len(list) == 0 {
			errorf("no Kafka brokers: set intake.kafka.brokers or pass --brokers")
		}
		pub := intake.NewKafkaPublisher(list, cfg.Intake.Kafka.Topic)
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, alerts); err != nil {
			errorf("publishing to kafka: %v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Published %d alert(s) to %s\n", green("✓"), len(alerts), cfg.Intake.Kafka.Topic)
		return
	}

	if *viaNATS {
		cfg, err := core.LoadConfig(envConfig(*rf.configPath))
		if err != nil {
			errorf("loading config: %v", err)
		}
		url := cfg.Bus.URL
		if *natsURL != "" {
			url = *natsURL
		}
		bus, err := core.NewEventBus(&core.BusConfig{URL: url}, zerolog.Nop())
		if err != nil {
			errorf("connecting to NATS: %v", err)
		}
		defer bus.Close()

		if err := bus.PublishAlerts(*topic, alerts); err != nil {
			errorf("%v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Published %d alert(s) to %s.%s\n", green("✓"), len(alerts), core.AlertSubjectPrefix, *topic)
		return
	}

	r := rf.resolve()
	payload, _ := json.Marshal(alerts)
	printCycle(r, r.post("/api/v1/cycles", payload), *rf.output)
}

func cmdSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	rf := addRemoteFlags(fs, "table")
	fs.Parse(args)
	r := rf.resolve()
	printCycle(r, r.post("/api/v1/sweep", []byte("{}")), *rf.output)
}

func printCycle(r remote, body []byte, output string) {
	w, cleanup := outputWriter(output)
	defer cleanup()

	if r.format == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}
	var result core.CycleResult
	if err := json.Unmarshal(body, &result); err != nil {
		errorf("parsing response: %v", err)
	}
	if r.format == FormatTable {
		fmt.Fprintf(w, "%s cycle %s: %d change(s), %d rejected, %d skipped\n",
			green("✓"), shortID(result.ID), len(result.Entries), len(result.Rejected), result.Skipped)
		for _, rej := range result.Rejected {
			fmt.Fprintf(w, "  %s %s: %s\n", yellow("⚠"), rej.Alert.SourceID, rej.Reason)
		}
	}
	writeRows(w, r.format, auditHeaders, auditRows(result.Entries))
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
