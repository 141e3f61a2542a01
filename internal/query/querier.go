package query

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/writer"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// HistoryRequest selects the stored values of one field.
type HistoryRequest struct {
	Collector string
	Fqdn      string
	Field     string
	// Direction is "clt" or "srv"; empty means clt.
	Direction string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// HistoryPoint is the value of a field in one export.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Fqdn      string    `json:"fqdn"`
	IP        string    `json:"ip"`
	Port      uint16    `json:"port"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
}

// CollectorSummary counts the stored exports of a collector.
type CollectorSummary struct {
	Collector    string    `json:"collector"`
	Rows         uint64    `json:"rows"`
	Destinations uint64    `json:"destinations"`
	LastExport   time.Time `json:"last_export"`
}

// Querier reads exported records back.
type Querier interface {
	History(ctx context.Context, req HistoryRequest) ([]HistoryPoint, error)
	Summaries(ctx context.Context, since time.Time) ([]CollectorSummary, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn  driver.Conn
	table string
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	table, err := writer.TableName(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := writer.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn, table: table}, nil
}

// BuildHistoryQuery returns the SQL and arguments of a history request.
func BuildHistoryQuery(table string, req HistoryRequest) (string, []any, error) {
	if req.Collector == "" || req.Field == "" {
		return "", nil, fmt.Errorf("collector and field are required")
	}
	dir := req.Direction
	if dir == "" {
		dir = "clt"
	}
	if dir != "clt" && dir != "srv" {
		return "", nil, fmt.Errorf("unsupported direction: %s", dir)
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("SELECT Timestamp, Fqdn, IP, Port, Type, Fields[?] AS Value FROM " + table)

	whereClauses := []string{"Collector = ?", "Direction = ?", "mapContains(Fields, ?)"}
	args := []any{req.Field, req.Collector, dir, req.Field}

	if req.Fqdn != "" {
		whereClauses = append(whereClauses, "Fqdn = ?")
		args = append(args, req.Fqdn)
	}
	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	queryBuilder.WriteString(" ORDER BY Timestamp")

	limit := req.Limit
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	return queryBuilder.String(), args, nil
}

// History returns the stored values of a field, oldest first.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]HistoryPoint, error) {
	query, args, err := BuildHistoryQuery(q.table, req)
	if err != nil {
		return nil, err
	}

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.Fqdn, &p.IP, &p.Port, &p.Type, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Summaries counts rows and destinations per collector.
func (q *clickhouseQuerier) Summaries(ctx context.Context, since time.Time) ([]CollectorSummary, error) {
	query := `
		SELECT
			Collector,
			count() AS Rows,
			uniqExact(Fqdn, IP, Port, Type, Proto) AS Destinations,
			max(Timestamp) AS LastExport
		FROM ` + q.table + `
		WHERE Timestamp >= ?
		GROUP BY Collector
		ORDER BY Collector`

	rows, err := q.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []CollectorSummary
	for rows.Next() {
		var s CollectorSummary
		if err := rows.Scan(&s.Collector, &s.Rows, &s.Destinations, &s.LastExport); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
