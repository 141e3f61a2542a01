package dns

import (
	"cmp"
	"strconv"

	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/engine/stats"
	"FlowSpectra/internal/model"

	mdns "github.com/miekg/dns"
)

// AggregatedDnsFlow sums every query for one (name, type, transport).
type AggregatedDnsFlow struct {
	key flow.AggregatedKey

	packets      [2]int
	totalPackets [2]int
	bytes        [2]int
	totalBytes   [2]int

	numQueries   int
	totalQueries int
	numSrts      int
	totalSrts    int

	timeouts  int
	nxdomains int
	errors    int
	truncated int

	srts          stats.Percentile
	responseSizes stats.Percentile
}

func newAggregate(key flow.AggregatedKey) *AggregatedDnsFlow {
	return &AggregatedDnsFlow{key: key}
}

func (a *AggregatedDnsFlow) Key() flow.AggregatedKey { return a.key }

func (a *AggregatedDnsFlow) addPacket(dir flow.Direction, length int) {
	a.packets[dir]++
	a.totalPackets[dir]++
	a.bytes[dir] += length
	a.totalBytes[dir] += length
}

func (a *AggregatedDnsFlow) addQuery() {
	a.numQueries++
	a.totalQueries++
}

func (a *AggregatedDnsFlow) addResponse(srt, size int, msg *mdns.Msg) {
	a.srts.AddPoint(srt)
	a.responseSizes.AddPoint(size)
	a.numSrts++
	a.totalSrts++
	switch msg.Rcode {
	case mdns.RcodeSuccess:
	case mdns.RcodeNameError:
		a.nxdomains++
	default:
		a.errors++
	}
	if msg.Truncated {
		a.truncated++
	}
}

func (a *AggregatedDnsFlow) addTimeout() {
	a.timeouts++
}

func (a *AggregatedDnsFlow) MergePercentiles() {
	a.srts.Merge()
	a.responseSizes.Merge()
}

func (a *AggregatedDnsFlow) Reset(resetTotal bool) {
	a.srts.Reset(resetTotal)
	a.responseSizes.Reset(resetTotal)
	a.numQueries = 0
	a.numSrts = 0
	a.packets = [2]int{}
	a.bytes = [2]int{}

	if resetTotal {
		a.totalQueries = 0
		a.totalSrts = 0
		a.totalPackets = [2]int{}
		a.totalBytes = [2]int{}
		a.timeouts = 0
		a.nxdomains = 0
		a.errors = 0
		a.truncated = 0
	}
}

func (a *AggregatedDnsFlow) FillValues(values map[flow.Field]string, dir flow.Direction, duration int) {
	values[flow.FieldPkts] = stats.PrettyFormatNumber(a.totalPackets[dir])
	values[flow.FieldPktsRate] = stats.PrettyFormatNumber(stats.Rate(a.packets[dir], duration))
	values[flow.FieldBytes] = stats.PrettyFormatBytes(a.totalBytes[dir])
	values[flow.FieldBytesRate] = stats.PrettyFormatBytes(stats.Rate(a.bytes[dir], duration))
	if dir != flow.FromClient {
		return
	}
	values[flow.FieldReq] = stats.PrettyFormatNumber(a.totalQueries)
	values[flow.FieldReqRate] = stats.PrettyFormatNumber(stats.Rate(a.numQueries, duration))
	values[flow.FieldTimeouts] = strconv.Itoa(a.timeouts)
	values[flow.FieldNxdomain] = strconv.Itoa(a.nxdomains)
	values[flow.FieldErrors] = strconv.Itoa(a.errors)
	values[flow.FieldTrunc] = strconv.Itoa(a.truncated)
	values[flow.FieldSrt] = stats.PrettyFormatNumber(a.totalSrts)
	values[flow.FieldSrtRate] = stats.PrettyFormatNumber(stats.Rate(a.numSrts, duration))
	values[flow.FieldSrtP95] = a.srts.GetPercentileStr(0.95)
	values[flow.FieldSrtP99] = a.srts.GetPercentileStr(0.99)
	values[flow.FieldSrtMax] = a.srts.GetPercentileStr(1)
	values[flow.FieldDsP95] = stats.PrettyFormatBytes(a.responseSizes.GetPercentile(0.95))
	values[flow.FieldDsP99] = stats.PrettyFormatBytes(a.responseSizes.GetPercentile(0.99))
	values[flow.FieldDsMax] = stats.PrettyFormatBytes(a.responseSizes.GetPercentile(1))
}

func (a *AggregatedDnsFlow) Compare(field flow.Field, o *AggregatedDnsFlow) (int, bool) {
	switch field {
	case flow.FieldPkts:
		return cmp.Compare(a.totalPackets[0]+a.totalPackets[1], o.totalPackets[0]+o.totalPackets[1]), true
	case flow.FieldBytes:
		return cmp.Compare(a.totalBytes[0]+a.totalBytes[1], o.totalBytes[0]+o.totalBytes[1]), true
	case flow.FieldReq:
		return cmp.Compare(a.totalQueries, o.totalQueries), true
	case flow.FieldReqRate:
		return cmp.Compare(a.numQueries, o.numQueries), true
	case flow.FieldTimeouts:
		return cmp.Compare(a.timeouts, o.timeouts), true
	case flow.FieldNxdomain:
		return cmp.Compare(a.nxdomains, o.nxdomains), true
	case flow.FieldErrors:
		return cmp.Compare(a.errors, o.errors), true
	case flow.FieldTrunc:
		return cmp.Compare(a.truncated, o.truncated), true
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
		return cmp.Compare(a.responseSizes.GetPercentile(0.95), o.responseSizes.GetPercentile(0.95)), true
	case flow.FieldDsP99:
		return cmp.Compare(a.responseSizes.GetPercentile(0.99), o.responseSizes.GetPercentile(0.99)), true
	case flow.FieldDsMax:
		return cmp.Compare(a.responseSizes.GetPercentile(1), o.responseSizes.GetPercentile(1)), true
	}
	return 0, false
}

func (a *AggregatedDnsFlow) Metrics() []model.Metric {
	tags := []model.Tag{
		{Key: "domain", Value: a.key.Fqdn},
		{Key: "type", Value: a.key.Type},
		{Key: "proto", Value: a.key.Transport.String()},
	}
	var metrics []model.Metric
	for _, p := range a.srts.Points() {
		metrics = append(metrics, model.Metric{Name: "dns.srt", Value: float64(p), Kind: model.Histogram, SampleRate: 1, Tags: tags})
	}
	if a.numQueries != 0 {
		metrics = append(metrics, model.Metric{Name: "dns.requests", Value: float64(a.numQueries), Kind: model.Counter, SampleRate: 1, Tags: tags})
	}
	if a.timeouts != 0 {
		metrics = append(metrics, model.Metric{Name: "dns.timeouts", Value: float64(a.timeouts), Kind: model.Counter, SampleRate: 1, Tags: tags})
	}
	if a.nxdomains != 0 {
		metrics = append(metrics, model.Metric{Name: "dns.nxdomains", Value: float64(a.nxdomains), Kind: model.Counter, SampleRate: 1, Tags: tags})
	}
	return metrics
}
