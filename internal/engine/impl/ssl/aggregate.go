package ssl

import (
	"cmp"

	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/engine/stats"
	"FlowSpectra/internal/model"
)

// AggregatedSslFlow sums the TLS sessions of one destination.
type AggregatedSslFlow struct {
	key flow.AggregatedKey

	packets      [2]int
	totalPackets [2]int
	bytes        [2]int
	totalBytes   [2]int

	numConnections   int
	totalConnections int

	connections stats.Percentile
}

func newAggregate(key flow.AggregatedKey) *AggregatedSslFlow {
	return &AggregatedSslFlow{key: key}
}

func (a *AggregatedSslFlow) Key() flow.AggregatedKey { return a.key }

func (a *AggregatedSslFlow) addPacket(dir flow.Direction, length int) {
	a.packets[dir]++
	a.totalPackets[dir]++
	a.bytes[dir] += length
	a.totalBytes[dir] += length
}

func (a *AggregatedSslFlow) openConnection(connectionTime int) {
	a.connections.AddPoint(connectionTime)
	a.numConnections++
	a.totalConnections++
}

func (a *AggregatedSslFlow) MergePercentiles() {
	a.connections.Merge()
}

func (a *AggregatedSslFlow) Reset(resetTotal bool) {
	a.connections.Reset(resetTotal)
	a.numConnections = 0
	a.packets = [2]int{}
	a.bytes = [2]int{}
	if resetTotal {
		a.totalConnections = 0
		a.totalPackets = [2]int{}
		a.totalBytes = [2]int{}
	}
}

func (a *AggregatedSslFlow) FillValues(values map[flow.Field]string, dir flow.Direction, duration int) {
	values[flow.FieldPkts] = stats.PrettyFormatNumber(a.totalPackets[dir])
	values[flow.FieldPktsRate] = stats.PrettyFormatNumber(stats.Rate(a.packets[dir], duration))
	values[flow.FieldBytes] = stats.PrettyFormatBytes(a.totalBytes[dir])
	values[flow.FieldBytesRate] = stats.PrettyFormatBytes(stats.Rate(a.bytes[dir], duration))
	if dir != flow.FromClient {
		return
	}
	values[flow.FieldConn] = stats.PrettyFormatNumber(a.totalConnections)
	values[flow.FieldConnRate] = stats.PrettyFormatNumber(stats.Rate(a.numConnections, duration))
	values[flow.FieldCtP95] = a.connections.GetPercentileStr(0.95)
	values[flow.FieldCtP99] = a.connections.GetPercentileStr(0.99)
	values[flow.FieldCtMax] = a.connections.GetPercentileStr(1)
}

func (a *AggregatedSslFlow) Compare(field flow.Field, o *AggregatedSslFlow) (int, bool) {
	switch field {
	case flow.FieldPkts:
		return cmp.Compare(a.totalPackets[0]+a.totalPackets[1], o.totalPackets[0]+o.totalPackets[1]), true
	case flow.FieldPktsRate:
		return cmp.Compare(a.packets[0]+a.packets[1], o.packets[0]+o.packets[1]), true
	case flow.FieldBytes:
		return cmp.Compare(a.totalBytes[0]+a.totalBytes[1], o.totalBytes[0]+o.totalBytes[1]), true
	case flow.FieldBytesRate:
		return cmp.Compare(a.bytes[0]+a.bytes[1], o.bytes[0]+o.bytes[1]), true
	case flow.FieldConn:
		return cmp.Compare(a.totalConnections, o.totalConnections), true
	case flow.FieldConnRate:
		return cmp.Compare(a.numConnections, o.numConnections), true
	case flow.FieldCtP95:
		return cmp.Compare(a.connections.GetPercentile(0.95), o.connections.GetPercentile(0.95)), true
	case flow.FieldCtP99:
		return cmp.Compare(a.connections.GetPercentile(0.99), o.connections.GetPercentile(0.99)), true
	case flow.FieldCtMax:
		return cmp.Compare(a.connections.GetPercentile(1), o.connections.GetPercentile(1)), true
	}
	return 0, false
}

func (a *AggregatedSslFlow) Metrics() []model.Metric {
	tags := []model.Tag{
		{Key: "fqdn", Value: a.key.Fqdn},
		{Key: "ip", Value: a.key.IPString()},
		{Key: "port", Value: a.key.PortString()},
	}
	var metrics []model.Metric
	for _, p := range a.connections.Points() {
		metrics = append(metrics, model.Metric{Name: "ssl.ct", Value: float64(p), Kind: model.Histogram, SampleRate: 1, Tags: tags})
	}
	return metrics
}
