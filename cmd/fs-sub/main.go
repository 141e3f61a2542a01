package main

import (
	"FlowSpectra/internal/api"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func main() {
	url := flag.String("url", nats.DefaultURL, "NATS server URL")
	subject := flag.String("subject", "flowspectra.snapshots", "Base subject the engines publish on")
	collector := flag.String("collector", "", "Only receive this collector (default: all)")
	format := flag.String("format", "text", "Output format: 'text' or 'json'")
	flag.Parse()

	var output func(io.Writer, *probe.Envelope) error
	switch *format {
	case "text":
		output = printText
	case "json":
		output = printJSON
	default:
		fmt.Fprintf(os.Stderr, "Invalid format: %s\n", *format)
		flag.Usage()
		os.Exit(1)
	}

	sub, err := probe.NewSubscriber(*url, *subject, *collector)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(env *probe.Envelope) {
		if err := output(os.Stdout, env); err != nil {
			log.Errorf("Failed to print snapshot: %v", err)
		}
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

func printJSON(w io.Writer, env *probe.Envelope) error {
	return json.NewEncoder(w).Encode(map[string]any{
		"agent":    env.Agent,
		"snapshot": api.SnapshotJSON(env.Snapshot),
	})
}

func printText(w io.Writer, env *probe.Envelope) error {
	s := env.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "==== %s %s @ %s (%ds) ====\n", env.Agent, s.Collector, s.Timestamp.Format(time.DateTime), s.Duration)
	for _, r := range s.Records {
		fmt.Fprintf(&b, "%s\n", r.Key)
		writeFields(&b, "  clt", r.Client)
		writeFields(&b, "  srv", r.Server)
	}
	for _, m := range s.Metrics {
		fmt.Fprintf(&b, "%s\n", formatMetric(m))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeFields(b *strings.Builder, label string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	b.WriteString(label)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%s", k, fields[k])
	}
	b.WriteByte('\n')
}

func formatMetric(m model.Metric) string {
	tags := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		tags = append(tags, t.Key+":"+t.Value)
	}
	return fmt.Sprintf("  %s %v|%s %s", m.Name, m.Value, m.Kind, strings.Join(tags, ","))
}
