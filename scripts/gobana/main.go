package main

import (
	"FlowSpectra/internal/snapshot"
	"fmt"
	"os"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <snapshot_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	records, err := snapshot.ReadRecords(dir)
	if err != nil {
		log.Fatalf("Failed to read records from %s: %v", dir, err)
	}

	fmt.Printf("Decoded %d records:\n", len(records))
	for _, r := range records {
		fmt.Println(r.Key)
		fmt.Println("  clt", fields(r.Client))
		fmt.Println("  srv", fields(r.Server))
	}
}

func fields(m map[string]string) string {
	parts := make([]string, 0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}
