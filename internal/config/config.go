package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CaptureConfig describes the packet source. PcapFile wins over Interface.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	PcapFile    string `yaml:"pcap_file"`
	BPFFilter   string `yaml:"bpf_filter"`
	Snaplen     int    `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	// RecordFile, when set, receives a pcap copy of every captured frame.
	RecordFile string `yaml:"record_file"`
	// SizeOfPacketChannel bounds the queue between capture and collectors.
	SizeOfPacketChannel int `yaml:"size_of_packet_channel"`
}

// CollectorsConfig holds the settings shared by the protocol collectors.
type CollectorsConfig struct {
	Enabled        []string `yaml:"enabled"`
	RetainFlows    bool     `yaml:"retain_flows"`
	FlowTimeout    string   `yaml:"flow_timeout"`
	SynTimeout     string   `yaml:"syn_timeout"`
	DNSTimeout     string   `yaml:"dns_timeout"`
	TimeWait       string   `yaml:"time_wait"`
	LocalAddresses []string `yaml:"local_addresses"`
}

// ResolverConfig sizes the ip to name cache.
type ResolverConfig struct {
	CacheSize int `yaml:"cache_size"`
}

type StatsdConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Version     string   `yaml:"version"`
	Compression string   `yaml:"compression"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterConfig defines one snapshot writer.
type WriterConfig struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Statsd     StatsdConfig     `yaml:"statsd"`
	NATS       NATSConfig       `yaml:"nats"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Gob        GobConfig        `yaml:"gob"`
}

// ExporterConfig drives the periodic export cycle.
type ExporterConfig struct {
	Interval string         `yaml:"interval"`
	Writers  []WriterConfig `yaml:"writers"`
}

// APIConfig holds the HTTP and gRPC listen addresses.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// DisplayConfig controls the terminal renderer.
type DisplayConfig struct {
	Enabled  bool `yaml:"enabled"`
	NoCurses bool `yaml:"no_curses"`
}

// AlerterRule fires when a field of a record crosses Threshold.
// Latency thresholds are in milliseconds.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Collector string  `yaml:"collector"`
	Field     string  `yaml:"field"`
	Direction string  `yaml:"direction"`
	Fqdn      string  `yaml:"fqdn"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// SMTPConfig holds the mail relay used for alert notifications.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterConfig holds the alert rules evaluated on every export.
type AlerterConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown string        `yaml:"cooldown"`
	Rules    []AlerterRule `yaml:"rules"`
	SMTP     SMTPConfig    `yaml:"smtp"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Capture    CaptureConfig    `yaml:"capture"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Exporter   ExporterConfig   `yaml:"exporter"`
	API        APIConfig        `yaml:"api"`
	Display    DisplayConfig    `yaml:"display"`
	Alerter    AlerterConfig    `yaml:"alerter"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Capture: CaptureConfig{
			Snaplen:             1600,
			Promiscuous:         true,
			SizeOfPacketChannel: 10000,
		},
		Collectors: CollectorsConfig{
			Enabled:     []string{"tcp", "dns", "ssl"},
			FlowTimeout: "5m",
			SynTimeout:  "5s",
			DNSTimeout:  "5s",
			TimeWait:    "5s",
		},
		Resolver: ResolverConfig{CacheSize: 65536},
		Exporter: ExporterConfig{Interval: "1s"},
		API:      APIConfig{Enabled: true, ListenAddr: ":8080", GRPCAddr: ":9090"},
		Display:  DisplayConfig{Enabled: true},
		Alerter:  AlerterConfig{Cooldown: "5m"},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks durations and addresses so bad values fail at startup.
func (c *Config) Validate() error {
	durations := map[string]string{
		"collectors.flow_timeout": c.Collectors.FlowTimeout,
		"collectors.syn_timeout":  c.Collectors.SynTimeout,
		"collectors.dns_timeout":  c.Collectors.DNSTimeout,
		"collectors.time_wait":    c.Collectors.TimeWait,
		"exporter.interval":       c.Exporter.Interval,
		"alerter.cooldown":        c.Alerter.Cooldown,
	}
	for name, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if _, err := c.Collectors.Addresses(); err != nil {
		return err
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Duration parses a validated duration field; empty means zero.
func Duration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// Addresses parses the configured local addresses.
func (c CollectorsConfig) Addresses() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(c.LocalAddresses))
	for _, s := range c.LocalAddresses {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid local address %q: %w", s, err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
