package model

import (
	"time"

	"FlowSpectra/internal/engine/flow"
)

// MetricKind is the statsd type of an exported metric.
type MetricKind int

const (
	Counter MetricKind = iota
	Gauge
	Histogram
)

func (k MetricKind) String() string {
	switch k {
	case Gauge:
		return "g"
	case Histogram:
		return "h"
	default:
		return "c"
	}
}

// Tag is one key:value tag attached to a metric.
type Tag struct {
	Key   string
	Value string
}

// Metric is one exporter-ready record.
type Metric struct {
	Name       string
	Value      float64
	Kind       MetricKind
	SampleRate float64
	Tags       []Tag
}

// Row is one rendered line: key columns and value columns for one direction.
type Row struct {
	Direction flow.Direction
	Keys      []string
	Values    []string
}

// Output is what a collector hands to the renderer.
type Output struct {
	KeyHeaders   []string
	ValueHeaders []string
	Rows         []Row
}

// Record holds every field of one aggregate, per direction.
type Record struct {
	Key    flow.AggregatedKey
	Client map[string]string
	Server map[string]string
}

// DisplayPair is a named group of value fields shown together.
type DisplayPair struct {
	Name   string
	Fields []flow.Field
}

// Snapshot is the immutable result of one export cycle of a collector.
type Snapshot struct {
	Collector string
	Timestamp time.Time
	// Duration is the length of the period, in seconds.
	Duration int
	Output   Output
	Records  []Record
	Metrics  []Metric
}
