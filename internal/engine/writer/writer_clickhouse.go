package writer

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

// ClickHouseName is the registry name of the ClickHouse writer.
const ClickHouseName = "clickhouse"

// DefaultTable receives the records when no table is configured.
const DefaultTable = "flowspectra_records"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp   DateTime64(3),
    Agent       String,
    Collector   String,
    Duration    UInt32,
    Fqdn        String,
    IP          String,
    Port        UInt16,
    Type        String,
    Proto       String,
    Direction   String,
    Fields      Map(String, String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Collector, Fqdn, Timestamp);
`

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	factory.RegisterWriter(ClickHouseName, func(cfg config.WriterConfig) (model.Writer, error) {
		return NewClickHouseWriter(cfg.ClickHouse)
	})
}

// ClickHouseWriter stores one row per record and direction.
type ClickHouseWriter struct {
	conn  driver.Conn
	table string
}

// TableName validates the configured table name.
func TableName(cfg config.ClickHouseConfig) (string, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return "", fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return table, nil
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	table, err := TableName(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, table: table}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return ClickHouseName }

// Row is one inserted line.
type Row struct {
	Direction string
	Fields    map[string]string
}

// Rows splits a record into its client and server rows. Empty sides are skipped.
func Rows(r model.Record) []Row {
	var rows []Row
	if len(r.Client) > 0 {
		rows = append(rows, Row{Direction: "clt", Fields: r.Client})
	}
	if len(r.Server) > 0 {
		rows = append(rows, Row{Direction: "srv", Fields: r.Server})
	}
	return rows
}

// Write inserts the records of a snapshot in one batch.
func (w *ClickHouseWriter) Write(s *model.Snapshot) error {
	if len(s.Records) == 0 {
		return nil // Nothing to write
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	count := 0
	for _, r := range s.Records {
		for _, row := range Rows(r) {
			count++
			err = batch.Append(
				s.Timestamp,
				probe.AgentID,
				s.Collector,
				uint32(s.Duration),
				r.Key.Fqdn,
				r.Key.IPString(),
				r.Key.Port,
				r.Key.Type,
				r.Key.Transport.String(),
				row.Direction,
				row.Fields,
			)
			if err != nil {
				return fmt.Errorf("failed to append record to batch: %w", err)
			}
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debugf("Wrote %d rows to ClickHouse for collector '%s'", count, s.Collector)
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
