package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "capture:\n  pcap_file: trace.pcap\n"))
	require.NoError(t, err)

	assert.Equal(t, "trace.pcap", cfg.Capture.PcapFile)
	assert.Equal(t, 1600, cfg.Capture.Snaplen)
	assert.Equal(t, []string{"tcp", "dns", "ssl"}, cfg.Collectors.Enabled)
	assert.Equal(t, 5*time.Minute, Duration(cfg.Collectors.FlowTimeout))
	assert.Equal(t, time.Second, Duration(cfg.Exporter.Interval))
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
}

func TestLoadConfig_Writers(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
collectors:
  enabled: [tcp]
  local_addresses: ["10.0.0.1", "2001:db8::1"]
exporter:
  interval: 10s
  writers:
    - type: statsd
      enabled: true
      statsd: {addr: "127.0.0.1:8125", prefix: fs}
    - type: kafka
      kafka: {brokers: [a:9092, b:9092], topic: t}
`))
	require.NoError(t, err)

	require.Len(t, cfg.Exporter.Writers, 2)
	assert.True(t, cfg.Exporter.Writers[0].Enabled)
	assert.Equal(t, "fs", cfg.Exporter.Writers[0].Statsd.Prefix)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Exporter.Writers[1].Kafka.Brokers)
	assert.Equal(t, []string{"tcp"}, cfg.Collectors.Enabled)

	addrs, err := cfg.Collectors.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("2001:db8::1")}, addrs)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "exporter: [\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "collectors:\n  syn_timeout: soon\n"))
	assert.ErrorContains(t, err, "collectors.syn_timeout")

	_, err = LoadConfig(writeConfig(t, "collectors:\n  local_addresses: [nope]\n"))
	assert.ErrorContains(t, err, "invalid local address")
}

func TestLoadConfig_RepositoryConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Exporter.Writers, 5)
	assert.Equal(t, "flowspectra_records", cfg.Exporter.Writers[3].ClickHouse.Table)
}
