package snapshot

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriterName is the registry name of the file writer.
const WriterName = "gob"

// TimestampLayout names the per-export directories.
const TimestampLayout = "2006-01-02_15-04-05"

func init() {
	factory.RegisterWriter(WriterName, func(cfg config.WriterConfig) (model.Writer, error) {
		return NewWriter(cfg.Gob.RootPath)
	})
}

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	Collector string `json:"collector"`
	Records   int    `json:"records"`
	Metrics   int    `json:"metrics"`
	Duration  int    `json:"duration"`
	Timestamp string `json:"timestamp"`
}

// Writer handles writing snapshot data to disk.
type Writer struct {
	rootPath string
}

// NewWriter creates a new snapshot writer rooted at rootPath.
func NewWriter(rootPath string) (*Writer, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("gob writer needs a root_path")
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root: %w", err)
	}
	return &Writer{rootPath: rootPath}, nil
}

func (w *Writer) Name() string { return WriterName }

func (w *Writer) Close() error { return nil }

// Dir returns the directory a snapshot is written to.
func (w *Writer) Dir(s *model.Snapshot) string {
	return filepath.Join(w.rootPath, s.Timestamp.UTC().Format(TimestampLayout), s.Collector)
}

// Write stores the records of one snapshot as gob and a JSON summary next
// to them. Empty snapshots produce no files.
func (w *Writer) Write(s *model.Snapshot) error {
	if len(s.Records) == 0 {
		return nil
	}

	// 1. Create timestamped directory
	dir := w.Dir(s)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// 2. Write the records and metrics
	if err := writeGob(filepath.Join(dir, "records.dat"), s.Records); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "metrics.dat"), s.Metrics); err != nil {
		return err
	}

	// 3. Write summary file
	summary := SummaryData{
		Collector: s.Collector,
		Records:   len(s.Records),
		Metrics:   len(s.Metrics),
		Duration:  s.Duration,
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(dir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func writeGob(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadRecords loads the records written for one snapshot.
func ReadRecords(dir string) ([]model.Record, error) {
	file, err := os.Open(filepath.Join(dir, "records.dat"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []model.Record
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}
