package model

import (
	"time"

	"FlowSpectra/internal/engine/flow"
)

// Collector turns parsed packets of one protocol into per-destination statistics.
// ProcessPacket and AdvanceTick are called from the single packet producer;
// the remaining methods may be called from any goroutine.
type Collector interface {
	Name() string

	ProcessPacket(pkt *PacketInfo)
	// AdvanceTick expires idle state. Timestamps must not go backwards.
	AdvanceTick(now time.Time)

	MergePercentiles()
	ResetMetrics()

	OutputStatus(duration int) Output
	GetStatsdMetrics() []Metric
	// Export merges, snapshots and resets the current period in one critical section.
	Export(now time.Time, duration int) *Snapshot

	SetSortField(field flow.Field, reverse bool)
	SortFields() []flow.Field
	DisplayPairs() []DisplayPair
	SetDisplay(index int)

	// LiveFlows returns the number of connections currently tracked.
	LiveFlows() int
}
