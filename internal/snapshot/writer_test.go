package snapshot

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteSnapshot(t *testing.T) {
	root := t.TempDir()
	writer, err := NewWriter(root)
	require.NoError(t, err)

	snap := &model.Snapshot{
		Collector: "tcp",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:  1,
		Records: []model.Record{{
			Key:    flow.TCPKey("www.example.com", netip.MustParseAddr("2001:db8::1"), 443),
			Client: map[string]string{"CONN": "5"},
			Server: map[string]string{"PKTS": "7"},
		}},
		Metrics: []model.Metric{{Name: "tcp.ct", Value: 50, Kind: model.Histogram, SampleRate: 1}},
	}
	require.NoError(t, writer.Write(snap))

	dir := filepath.Join(root, "2024-03-01_10-00-00", "tcp")
	assert.Equal(t, dir, writer.Dir(snap))

	summaryBytes, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var summary SummaryData
	require.NoError(t, json.Unmarshal(summaryBytes, &summary))
	assert.Equal(t, SummaryData{Collector: "tcp", Records: 1, Metrics: 1, Duration: 1, Timestamp: "2024-03-01T10:00:00Z"}, summary)

	records, err := ReadRecords(dir)
	require.NoError(t, err)
	assert.Equal(t, snap.Records, records)
}

func TestWriter_SkipsEmptySnapshots(t *testing.T) {
	root := t.TempDir()
	writer, err := NewWriter(root)
	require.NoError(t, err)

	require.NoError(t, writer.Write(&model.Snapshot{Collector: "dns", Timestamp: time.Now()}))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriter_Registered(t *testing.T) {
	cfg := config.Default()
	cfg.Exporter.Writers = []config.WriterConfig{{Type: WriterName, Enabled: true, Gob: config.GobConfig{RootPath: t.TempDir()}}}
	ws, err := factory.CreateWriters(cfg)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, WriterName, ws[0].Name())

	cfg.Exporter.Writers[0].Gob.RootPath = ""
	_, err = factory.CreateWriters(cfg)
	assert.ErrorContains(t, err, "root_path")
}
