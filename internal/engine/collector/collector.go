package collector

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
)

// Aggregate is the capability set shared by every protocol aggregate.
type Aggregate[A any] interface {
	Key() flow.AggregatedKey
	MergePercentiles()
	Reset(resetTotal bool)
	// FillValues sets every value field of one direction. Rates divide by
	// duration (seconds) when it is non zero.
	FillValues(values map[flow.Field]string, dir flow.Direction, duration int)
	// Compare orders two aggregates on field. ok is false for fields the
	// protocol does not know.
	Compare(field flow.Field, other A) (c int, ok bool)
	Metrics() []model.Metric
}

// Options describes the static layout of a collector.
type Options[A any] struct {
	Name         string
	KeyFields    []flow.Field
	DisplayPairs []model.DisplayPair
	SortFields   []flow.Field
	NewAggregate func(key flow.AggregatedKey) A
}

// Base owns the aggregate map of one collector and the synthetic Total
// aggregate. Protocol collectors embed it and hold its lock while folding
// packet events into aggregates.
type Base[A Aggregate[A]] struct {
	mu sync.Mutex

	name         string
	newAggregate func(flow.AggregatedKey) A
	aggregated   map[flow.AggregatedKey]A
	total        A

	keyFields    []flow.Field
	displayPairs []model.DisplayPair
	display      int
	sortFields   []flow.Field
	sortField    flow.Field
	reverse      bool
}

// NewBase creates an empty collector base.
func NewBase[A Aggregate[A]](opts Options[A]) *Base[A] {
	pairs := opts.DisplayPairs
	if len(pairs) == 0 {
		pairs = []model.DisplayPair{{Name: "All"}}
	}
	return &Base[A]{
		name:         opts.Name,
		newAggregate: opts.NewAggregate,
		aggregated:   make(map[flow.AggregatedKey]A),
		total:        opts.NewAggregate(flow.TotalKey()),
		keyFields:    opts.KeyFields,
		displayPairs: pairs,
		sortFields:   opts.SortFields,
		sortField:    flow.FieldFqdn,
	}
}

// Lock guards the aggregates. Protocol collectors take it around every fold.
func (b *Base[A]) Lock() { b.mu.Lock() }

func (b *Base[A]) Unlock() { b.mu.Unlock() }

func (b *Base[A]) Name() string { return b.name }

// Aggregate returns the aggregate of key, creating it if needed.
// The caller must hold the lock.
func (b *Base[A]) Aggregate(key flow.AggregatedKey) A {
	if key.IsTotal() {
		return b.total
	}
	agg, ok := b.aggregated[key]
	if !ok {
		agg = b.newAggregate(key)
		b.aggregated[key] = agg
	}
	return agg
}

// Total returns the synthetic aggregate. The caller must hold the lock.
func (b *Base[A]) Total() A { return b.total }

// AggregatedMap returns a copy of the destination map, Total excluded.
func (b *Base[A]) AggregatedMap() map[flow.AggregatedKey]A {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[flow.AggregatedKey]A, len(b.aggregated))
	for k, v := range b.aggregated {
		out[k] = v
	}
	return out
}

func (b *Base[A]) MergePercentiles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked()
}

func (b *Base[A]) mergeLocked() {
	b.total.MergePercentiles()
	for _, agg := range b.aggregated {
		agg.MergePercentiles()
	}
}

// ResetMetrics clears the current period of every aggregate.
func (b *Base[A]) ResetMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked(false)
}

// ResetAll clears current period and lifetime counters of every aggregate.
func (b *Base[A]) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked(true)
}

func (b *Base[A]) resetLocked(resetTotal bool) {
	b.total.Reset(resetTotal)
	for _, agg := range b.aggregated {
		agg.Reset(resetTotal)
	}
}

// SetSortField selects the ordering of GetAggregatedFlows. reverse=false is
// the natural ascending order of the field.
func (b *Base[A]) SetSortField(field flow.Field, reverse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sortField = field
	b.reverse = reverse
}

func (b *Base[A]) SortFields() []flow.Field {
	return slices.Clone(b.sortFields)
}

func (b *Base[A]) DisplayPairs() []model.DisplayPair {
	return slices.Clone(b.displayPairs)
}

// SetDisplay selects the display pair used by OutputStatus. Out of range
// indexes are ignored.
func (b *Base[A]) SetDisplay(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index >= 0 && index < len(b.displayPairs) {
		b.display = index
	}
}

// GetAggregatedFlows returns the aggregates, Total excluded, sorted on the
// selected field. Ties are ordered by fqdn, ip then port.
func (b *Base[A]) GetAggregatedFlows() []A {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked()
}

func (b *Base[A]) sortedLocked() []A {
	flows := make([]A, 0, len(b.aggregated))
	for _, agg := range b.aggregated {
		flows = append(flows, agg)
	}
	sortFun := b.GetSortFun(b.sortField)
	slices.SortStableFunc(flows, func(x, y A) int {
		c := sortFun(x, y)
		if b.reverse {
			c = -c
		}
		if c != 0 {
			return c
		}
		return x.Key().Compare(y.Key())
	})
	return flows
}

// GetSortFun returns the comparator of field. Key fields are compared here,
// value fields by the aggregate; unknown fields fall back to fqdn ordering.
func (b *Base[A]) GetSortFun(field flow.Field) func(x, y A) int {
	return func(x, y A) int {
		if c, ok := compareKeyField(field, x.Key(), y.Key()); ok {
			return c
		}
		if c, ok := x.Compare(field, y); ok {
			return c
		}
		return compareFqdn(x.Key(), y.Key())
	}
}

func compareFqdn(x, y flow.AggregatedKey) int {
	return cmp.Compare(strings.ToLower(x.Fqdn), strings.ToLower(y.Fqdn))
}

func compareKeyField(field flow.Field, x, y flow.AggregatedKey) (int, bool) {
	switch field {
	case flow.FieldFqdn:
		return compareFqdn(x, y), true
	case flow.FieldIP:
		return x.IP.Compare(y.IP), true
	case flow.FieldPort:
		return cmp.Compare(x.Port, y.Port), true
	case flow.FieldType:
		return cmp.Compare(x.Type, y.Type), true
	case flow.FieldProto:
		return cmp.Compare(x.Transport, y.Transport), true
	}
	return 0, false
}

// Values returns every field of the aggregate of key for one direction.
func (b *Base[A]) Values(key flow.AggregatedKey, dir flow.Direction, duration int) (map[flow.Field]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	agg, ok := b.aggregated[key]
	if key.IsTotal() {
		agg, ok = b.total, true
	}
	if !ok {
		return nil, false
	}
	return fieldsFor(agg, dir, duration), true
}

func fieldsFor[A Aggregate[A]](agg A, dir flow.Direction, duration int) map[flow.Field]string {
	key := agg.Key()
	values := map[flow.Field]string{
		flow.FieldFqdn:  key.Fqdn,
		flow.FieldIP:    key.IPString(),
		flow.FieldPort:  key.PortString(),
		flow.FieldType:  key.Type,
		flow.FieldProto: key.Transport.String(),
		flow.FieldDir:   dir.String(),
	}
	agg.FillValues(values, dir, duration)
	return values
}

// OutputStatus renders the Total row followed by every sorted aggregate,
// one row per direction.
func (b *Base[A]) OutputStatus(duration int) model.Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputLocked(b.sortedLocked(), duration)
}

func (b *Base[A]) outputLocked(sorted []A, duration int) model.Output {
	valueFields := b.displayPairs[b.display].Fields
	out := model.Output{
		KeyHeaders:   headers(b.keyFields),
		ValueHeaders: headers(valueFields),
		Rows:         make([]model.Row, 0, 2*(len(sorted)+1)),
	}
	emit := func(agg A) {
		for _, dir := range []flow.Direction{flow.FromClient, flow.FromServer} {
			values := fieldsFor(agg, dir, duration)
			out.Rows = append(out.Rows, model.Row{
				Direction: dir,
				Keys:      columns(b.keyFields, values),
				Values:    columns(valueFields, values),
			})
		}
	}
	emit(b.total)
	for _, agg := range sorted {
		emit(agg)
	}
	return out
}

func headers(fields []flow.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Header()
	}
	return out
}

func columns(fields []flow.Field, values map[flow.Field]string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = flow.Pad(values[f], f.Width())
	}
	return out
}

// GetStatsdMetrics flattens the samples and counters of every aggregate.
func (b *Base[A]) GetStatsdMetrics() []model.Metric {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metricsLocked(b.sortedLocked())
}

func (b *Base[A]) metricsLocked(sorted []A) []model.Metric {
	var metrics []model.Metric
	for _, agg := range sorted {
		metrics = append(metrics, agg.Metrics()...)
	}
	return metrics
}

// Export runs one export cycle: merge percentiles, snapshot every aggregate
// and reset the current period, without letting a fold interleave.
func (b *Base[A]) Export(now time.Time, duration int) *model.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mergeLocked()
	sorted := b.sortedLocked()
	snap := &model.Snapshot{
		Collector: b.name,
		Timestamp: now,
		Duration:  duration,
		Output:    b.outputLocked(sorted, duration),
		Metrics:   b.metricsLocked(sorted),
		Records:   make([]model.Record, 0, len(sorted)+1),
	}
	for _, agg := range append([]A{b.total}, sorted...) {
		snap.Records = append(snap.Records, model.Record{
			Key:    agg.Key(),
			Client: stringMap(fieldsFor(agg, flow.FromClient, duration)),
			Server: stringMap(fieldsFor(agg, flow.FromServer, duration)),
		})
	}
	b.resetLocked(false)
	return snap
}

func stringMap(values map[flow.Field]string) map[string]string {
	out := make(map[string]string, len(values))
	for f, v := range values {
		out[f.String()] = v
	}
	return out
}
