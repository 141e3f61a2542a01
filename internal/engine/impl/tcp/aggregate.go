package tcp

import (
	"cmp"
	"strconv"

	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/engine/stats"
	"FlowSpectra/internal/model"
)

// AggregatedTcpFlow sums every TCP connection sharing one destination.
type AggregatedTcpFlow struct {
	key flow.AggregatedKey

	syns     [2]int
	synacks  [2]int
	fins     [2]int
	rsts     [2]int
	zeroWins [2]int
	mtu      [2]int

	packets      [2]int
	totalPackets [2]int
	bytes        [2]int
	totalBytes   [2]int

	closes      int
	totalCloses int

	activeConnections int
	failedConnections int

	numConnections   int
	totalConnections int

	numSrts   int
	totalSrts int

	connections  stats.Percentile
	srts         stats.Percentile
	requestSizes stats.Percentile
}

func newAggregate(key flow.AggregatedKey) *AggregatedTcpFlow {
	return &AggregatedTcpFlow{key: key}
}

func (a *AggregatedTcpFlow) Key() flow.AggregatedKey { return a.key }

func (a *AggregatedTcpFlow) updateFlags(pkt *model.PacketInfo, dir flow.Direction) {
	tcp := pkt.TCP
	if tcp.RST {
		a.rsts[dir]++
	} else if tcp.Window == 0 {
		a.zeroWins[dir]++
	}
	switch {
	case tcp.SYN && tcp.ACK:
		a.synacks[dir]++
	case tcp.SYN:
		a.syns[dir]++
	case tcp.FIN:
		a.fins[dir]++
	}
	a.mtu[dir] = max(a.mtu[dir], pkt.Length)
	a.packets[dir]++
	a.totalPackets[dir]++
	a.bytes[dir] += pkt.Length
	a.totalBytes[dir] += pkt.Length
}

func (a *AggregatedTcpFlow) openConnection(connectionTime int) {
	a.connections.AddPoint(connectionTime)
	a.numConnections++
	a.totalConnections++
	a.activeConnections++
}

func (a *AggregatedTcpFlow) ongoingConnection() {
	a.activeConnections++
}

func (a *AggregatedTcpFlow) closeConnection() {
	a.closes++
	a.totalCloses++
	a.activeConnections--
}

func (a *AggregatedTcpFlow) failConnection() {
	a.failedConnections++
}

func (a *AggregatedTcpFlow) addSrt(srt, dataSize int) {
	a.srts.AddPoint(srt)
	a.requestSizes.AddPoint(dataSize)
	a.numSrts++
	a.totalSrts++
}

func (a *AggregatedTcpFlow) MergePercentiles() {
	a.srts.Merge()
	a.connections.Merge()
	a.requestSizes.Merge()
}

func (a *AggregatedTcpFlow) Reset(resetTotal bool) {
	a.srts.Reset(resetTotal)
	a.requestSizes.Reset(resetTotal)
	a.connections.Reset(resetTotal)
	a.numConnections = 0
	a.numSrts = 0
	a.closes = 0
	a.packets = [2]int{}
	a.bytes = [2]int{}

	if resetTotal {
		a.totalCloses = 0
		a.totalConnections = 0
		a.totalSrts = 0
		a.totalPackets = [2]int{}
		a.totalBytes = [2]int{}
		a.syns = [2]int{}
		a.synacks = [2]int{}
		a.fins = [2]int{}
		a.rsts = [2]int{}
		a.zeroWins = [2]int{}
		a.mtu = [2]int{}
		a.failedConnections = 0
	}
}

// FillValues renders per-direction flags and traffic for both directions;
// connection and response time fields only exist on the client side.
func (a *AggregatedTcpFlow) FillValues(values map[flow.Field]string, dir flow.Direction, duration int) {
	values[flow.FieldSyn] = strconv.Itoa(a.syns[dir])
	values[flow.FieldSynAck] = strconv.Itoa(a.synacks[dir])
	values[flow.FieldFin] = strconv.Itoa(a.fins[dir])
	values[flow.FieldZwin] = strconv.Itoa(a.zeroWins[dir])
	values[flow.FieldRst] = strconv.Itoa(a.rsts[dir])
	values[flow.FieldMtu] = strconv.Itoa(a.mtu[dir])
	values[flow.FieldPkts] = stats.PrettyFormatNumber(a.totalPackets[dir])
	values[flow.FieldPktsRate] = stats.PrettyFormatNumber(stats.Rate(a.packets[dir], duration))
	values[flow.FieldBytes] = stats.PrettyFormatBytes(a.totalBytes[dir])
	values[flow.FieldBytesRate] = stats.PrettyFormatBytes(stats.Rate(a.bytes[dir], duration))

	if dir != flow.FromClient {
		return
	}
	values[flow.FieldActiveConnections] = strconv.Itoa(a.activeConnections)
	values[flow.FieldFailedConnections] = strconv.Itoa(a.failedConnections)
	values[flow.FieldClose] = strconv.Itoa(a.totalCloses)
	values[flow.FieldConn] = stats.PrettyFormatNumber(a.totalConnections)
	values[flow.FieldCtP95] = a.connections.GetPercentileStr(0.95)
	values[flow.FieldCtP99] = a.connections.GetPercentileStr(0.99)
	values[flow.FieldCtMax] = a.connections.GetPercentileStr(1)

	values[flow.FieldSrt] = stats.PrettyFormatNumber(a.totalSrts)
	values[flow.FieldSrtP95] = a.srts.GetPercentileStr(0.95)
	values[flow.FieldSrtP99] = a.srts.GetPercentileStr(0.99)
	values[flow.FieldSrtMax] = a.srts.GetPercentileStr(1)

	values[flow.FieldDsP95] = stats.PrettyFormatBytes(a.requestSizes.GetPercentile(0.95))
	values[flow.FieldDsP99] = stats.PrettyFormatBytes(a.requestSizes.GetPercentile(0.99))
	values[flow.FieldDsMax] = stats.PrettyFormatBytes(a.requestSizes.GetPercentile(1))

	values[flow.FieldConnRate] = strconv.Itoa(stats.Rate(a.numConnections, duration))
	values[flow.FieldCloseRate] = strconv.Itoa(stats.Rate(a.closes, duration))
	values[flow.FieldSrtRate] = stats.PrettyFormatNumber(stats.Rate(a.numSrts, duration))
}

func (a *AggregatedTcpFlow) Compare(field flow.Field, o *AggregatedTcpFlow) (int, bool) {
	switch field {
	case flow.FieldSyn:
		return cmp.Compare(a.syns[0]+a.syns[1], o.syns[0]+o.syns[1]), true
	case flow.FieldSynAck:
		return cmp.Compare(a.synacks[0]+a.synacks[1], o.synacks[0]+o.synacks[1]), true
	case flow.FieldFin:
		return cmp.Compare(a.fins[0]+a.fins[1], o.fins[0]+o.fins[1]), true
	case flow.FieldRst:
		return cmp.Compare(a.rsts[0]+a.rsts[1], o.rsts[0]+o.rsts[1]), true
	case flow.FieldZwin:
		return cmp.Compare(a.zeroWins[0]+a.zeroWins[1], o.zeroWins[0]+o.zeroWins[1]), true
	case flow.FieldMtu:
		return cmp.Compare(a.mtu[0]+a.mtu[1], o.mtu[0]+o.mtu[1]), true
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
	case flow.FieldActiveConnections:
		return cmp.Compare(a.activeConnections, o.activeConnections), true
	case flow.FieldFailedConnections:
		return cmp.Compare(a.failedConnections, o.failedConnections), true
	case flow.FieldClose:
		return cmp.Compare(a.totalCloses, o.totalCloses), true
	case flow.FieldCloseRate:
		return cmp.Compare(a.closes, o.closes), true
	case flow.FieldCtP95:
		return cmp.Compare(a.connections.GetPercentile(0.95), o.connections.GetPercentile(0.95)), true
	case flow.FieldCtP99:
		return cmp.Compare(a.connections.GetPercentile(0.99), o.connections.GetPercentile(0.99)), true
	case flow.FieldCtMax:
		return cmp.Compare(a.connections.GetPercentile(1), o.connections.GetPercentile(1)), true
	case flow.FieldSrt:
		return cmp.Compare(a.totalSrts, o.totalSrts), true
	case flow.FieldSrtRate:
		return cmp.Compare(a.numSrts, o.numSrts), true
	case flow.FieldSrtP95:
		return cmp.Compare(a.srts.GetPercentile(0.95), o.srts.GetPercentile(0.95)), true
	case flow.FieldSrtP99:
		return cmp.Compare(a.srts.GetPercentile(0.99), o.srts.GetPercentile(0.99)), true
	case flow.FieldSrtMax:
		return cmp.Compare(a.srts.GetPercentile(1), o.srts.GetPercentile(1)), true
	case flow.FieldDsP95:
		return cmp.Compare(a.requestSizes.GetPercentile(0.95), o.requestSizes.GetPercentile(0.95)), true
	case flow.FieldDsP99:
		return cmp.Compare(a.requestSizes.GetPercentile(0.99), o.requestSizes.GetPercentile(0.99)), true
	case flow.FieldDsMax:
		return cmp.Compare(a.requestSizes.GetPercentile(1), o.requestSizes.GetPercentile(1)), true
	}
	return 0, false
}

func (a *AggregatedTcpFlow) Metrics() []model.Metric {
	tags := []model.Tag{
		{Key: "fqdn", Value: a.key.Fqdn},
		{Key: "ip", Value: a.key.IPString()},
		{Key: "port", Value: a.key.PortString()},
	}
	var metrics []model.Metric
	for _, p := range a.srts.Points() {
		metrics = append(metrics, model.Metric{Name: "tcp.srt", Value: float64(p), Kind: model.Histogram, SampleRate: 1, Tags: tags})
	}
	for _, p := range a.connections.Points() {
		metrics = append(metrics, model.Metric{Name: "tcp.ct", Value: float64(p), Kind: model.Histogram, SampleRate: 1, Tags: tags})
	}
	if a.activeConnections != 0 {
		metrics = append(metrics, model.Metric{Name: "tcp.activeConnections", Value: float64(a.activeConnections), Kind: model.Counter, SampleRate: 1, Tags: tags})
	}
	if a.failedConnections != 0 {
		metrics = append(metrics, model.Metric{Name: "tcp.failedConnections", Value: float64(a.failedConnections), Kind: model.Counter, SampleRate: 1, Tags: tags})
	}
	return metrics
}
