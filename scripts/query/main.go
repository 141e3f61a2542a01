package main

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/query"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the FlowSpectra API")
	configPath := flag.String("config", "configs/config.yaml", "Configuration holding the clickhouse writer (direct mode)")
	collector := flag.String("collector", "tcp", "Collector to query")
	fqdn := flag.String("fqdn", "", "Restrict to one destination name")
	field := flag.String("field", "CT_P99", "Field to read")
	dir := flag.String("dir", "clt", "Direction: clt or srv")
	since := flag.Duration("since", time.Hour, "How far back to look")
	limit := flag.Int("limit", 100, "Maximum number of points")
	flag.Parse()

	req := query.HistoryRequest{
		Collector: *collector,
		Fqdn:      *fqdn,
		Field:     *field,
		Direction: *dir,
		Since:     time.Now().Add(-*since),
		Limit:     *limit,
	}

	log.Printf("Running in '%s' mode.", *mode)
	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, req, *since)
	case "direct":
		directQueryClickHouse(*configPath, req)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(base string, req query.HistoryRequest, since time.Duration) {
	params := url.Values{}
	params.Set("collector", req.Collector)
	params.Set("field", req.Field)
	params.Set("dir", req.Direction)
	params.Set("since", since.String())
	params.Set("limit", strconv.Itoa(req.Limit))
	if req.Fqdn != "" {
		params.Set("fqdn", req.Fqdn)
	}
	apiURL := base + "/api/v1/history?" + params.Encode()
	log.Printf("Sending request to %s", apiURL)

	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(configPath string, req query.HistoryRequest) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	var chCfg *config.ClickHouseConfig
	for i, w := range cfg.Exporter.Writers {
		if w.Type == "clickhouse" {
			chCfg = &cfg.Exporter.Writers[i].ClickHouse
			break
		}
	}
	if chCfg == nil {
		log.Fatalf("No clickhouse writer in %s", configPath)
	}

	q, err := query.NewClickHouseQuerier(*chCfg)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summaries, err := q.Summaries(ctx, req.Since)
	if err != nil {
		log.Fatalf("Error querying summaries: %v", err)
	}
	fmt.Println("--- Collectors ---")
	for _, s := range summaries {
		fmt.Printf("%-6s rows=%d destinations=%d last=%s\n", s.Collector, s.Rows, s.Destinations, s.LastExport.Format(time.DateTime))
	}

	points, err := q.History(ctx, req)
	if err != nil {
		log.Fatalf("Error querying history: %v", err)
	}
	fmt.Printf("--- %s %s %s ---\n", req.Collector, req.Direction, req.Field)
	if len(points) == 0 {
		log.Println("No data found for the specified criteria.")
	}
	for _, p := range points {
		fmt.Printf("%s %s %s:%d %s = %s\n", p.Timestamp.Format(time.DateTime), p.Fqdn, p.IP, p.Port, p.Type, p.Value)
	}
}
