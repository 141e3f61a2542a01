package tcp

import (
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

const (
	client = "10.0.0.1:50000"
	server = "10.0.0.2:80"
)

// segment builds a TCP packet. flags is a combination of S, A, F, R and P.
func segment(at time.Duration, src, dst, flags string, seq, ack uint32, payload, length int) *model.PacketInfo {
	s := netip.MustParseAddrPort(src)
	d := netip.MustParseAddrPort(dst)
	return &model.PacketInfo{
		Timestamp: t0.Add(at),
		FiveTuple: model.FiveTuple{
			SrcIP: s.Addr(), DstIP: d.Addr(),
			SrcPort: s.Port(), DstPort: d.Port(),
			Transport: flow.TCP,
		},
		Length:  length,
		Payload: make([]byte, payload),
		TCP: &model.TCPInfo{
			Seq:    seq,
			Ack:    ack,
			Window: 65535,
			SYN:    strings.Contains(flags, "S"),
			ACK:    strings.Contains(flags, "A"),
			FIN:    strings.Contains(flags, "F"),
			RST:    strings.Contains(flags, "R"),
			PSH:    strings.Contains(flags, "P"),
		},
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// handshakeAndRequest is one complete connection: 50ms setup, a 20 byte
// request answered after 2ms and a FIN from each side.
func handshakeAndRequest(base time.Duration, clt string) []*model.PacketInfo {
	return []*model.PacketInfo{
		segment(base, clt, server, "S", 100, 0, 0, 74),
		segment(base+ms(50), server, clt, "SA", 500, 101, 0, 74),
		segment(base+ms(51), clt, server, "A", 101, 501, 0, 66),
		segment(base+ms(52), clt, server, "PA", 101, 501, 20, 86),
		segment(base+ms(54), server, clt, "PA", 501, 121, 100, 166),
		segment(base+ms(55), clt, server, "A", 121, 601, 0, 66),
		segment(base+ms(60), clt, server, "FA", 121, 601, 0, 66),
		segment(base+ms(61), server, clt, "FA", 601, 122, 0, 66),
		segment(base+ms(62), clt, server, "A", 122, 602, 0, 66),
	}
}

func feed(c *Collector, pkts []*model.PacketInfo) {
	for _, p := range pkts {
		c.AdvanceTick(p.Timestamp)
		c.ProcessPacket(p)
	}
}

func serverKey(fqdn string) flow.AggregatedKey {
	srv := netip.MustParseAddrPort(server)
	return flow.TCPKey(fqdn, srv.Addr(), srv.Port())
}

func values(t *testing.T, c *Collector, key flow.AggregatedKey, dir flow.Direction) map[flow.Field]string {
	t.Helper()
	c.MergePercentiles()
	v, ok := c.Values(key, dir, 0)
	require.True(t, ok, "no aggregate for %s", key)
	return v
}

type staticResolver map[netip.Addr]string

func (r staticResolver) LookupName(ip netip.Addr) (string, bool) {
	name, ok := r[ip]
	return name, ok
}

func (r staticResolver) AddName(ip netip.Addr, name string) { r[ip] = name }

func TestCollector_SimpleConnection(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, handshakeAndRequest(0, client))

	require.Len(t, c.AggregatedMap(), 1)
	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "1", clt[flow.FieldSyn])
	assert.Equal(t, "1", clt[flow.FieldFin])
	assert.Equal(t, "1", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
	assert.Equal(t, "1", clt[flow.FieldConn])
	assert.Equal(t, "1", clt[flow.FieldConnRate])
	assert.Equal(t, "50ms", clt[flow.FieldCtP99])
	assert.Equal(t, "1", clt[flow.FieldSrt])
	assert.Equal(t, "2ms", clt[flow.FieldSrtP99])
	assert.Equal(t, "20 B", clt[flow.FieldDsMax])
	assert.Equal(t, "86", clt[flow.FieldMtu])
	assert.Equal(t, "Unknown", clt[flow.FieldFqdn])
	assert.Equal(t, "10.0.0.2", clt[flow.FieldIP])
	assert.Equal(t, "80", clt[flow.FieldPort])

	srv := values(t, c, serverKey(""), flow.FromServer)
	assert.Equal(t, "1", srv[flow.FieldSynAck])
	assert.Equal(t, "1", srv[flow.FieldFin])
	assert.Equal(t, "166", srv[flow.FieldMtu])

	total := values(t, c, flow.TotalKey(), flow.FromClient)
	assert.Equal(t, "1", total[flow.FieldSyn])
	assert.Equal(t, "1", total[flow.FieldConn])

	assert.Equal(t, 0, c.LiveFlows(), "closed flow leaves the live table")
}

func TestCollector_RetainFlows(t *testing.T) {
	c := NewCollector(collector.Settings{RetainFlows: true})
	feed(c, handshakeAndRequest(0, client))

	flows := c.TCPFlows()
	require.Len(t, flows, 1)
	for k, f := range flows {
		assert.Equal(t, k, f.ID().Key())
		assert.False(t, f.Gap())
		assert.True(t, f.Closed())
	}

	c.AdvanceTick(t0.Add(10 * time.Minute))
	assert.Equal(t, 0, c.LiveFlows(), "idle flows expire")
}

func TestCollector_ResolverNamesDestination(t *testing.T) {
	srv := netip.MustParseAddrPort(server)
	c := NewCollector(collector.Settings{Resolver: staticResolver{srv.Addr(): "www.test.com"}})
	feed(c, handshakeAndRequest(0, client))

	_, ok := c.AggregatedMap()[serverKey("www.test.com")]
	assert.True(t, ok)
}

func TestCollector_ReusedPort(t *testing.T) {
	c := NewCollector(collector.Settings{})
	var pkts []*model.PacketInfo
	// The first SYN is retransmitted before being answered.
	pkts = append(pkts, segment(0, client, server, "S", 100, 0, 0, 74))
	for i := 0; i < 5; i++ {
		base := time.Duration(i+1) * time.Second
		conn := []*model.PacketInfo{
			segment(base, client, server, "S", 100, 0, 0, 74),
			segment(base, server, client, "SA", 500, 101, 0, 74),
			segment(base, client, server, "A", 101, 501, 0, 66),
			segment(base, client, server, "FA", 101, 501, 0, 66),
			segment(base, server, client, "FA", 501, 102, 0, 66),
			segment(base, client, server, "A", 102, 502, 0, 66),
		}
		pkts = append(pkts, conn...)
	}
	feed(c, pkts)

	require.Len(t, c.AggregatedMap(), 1)
	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "6", clt[flow.FieldSyn])
	assert.Equal(t, "5", clt[flow.FieldFin])
	assert.Equal(t, "5", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
	assert.Equal(t, "5", clt[flow.FieldConn])
	assert.Equal(t, "0ms", clt[flow.FieldSrtP99])
	assert.Equal(t, 0, c.LiveFlows())
}

func TestCollector_RepeatedRstClosesOnce(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, []*model.PacketInfo{
		segment(0, client, server, "S", 100, 0, 0, 74),
		segment(ms(1), server, client, "SA", 500, 101, 0, 74),
		segment(ms(2), client, server, "A", 101, 501, 0, 66),
		segment(ms(3), client, server, "RA", 101, 501, 0, 66),
		segment(ms(4), client, server, "R", 101, 0, 0, 66),
	})

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "2", clt[flow.FieldRst])
	assert.Equal(t, "1", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
}

func TestCollector_DuplicateFinClosesOnce(t *testing.T) {
	c := NewCollector(collector.Settings{})
	pkts := handshakeAndRequest(0, client)
	pkts = append(pkts, segment(ms(70), client, server, "FA", 121, 602, 0, 66))
	feed(c, pkts)

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "2", clt[flow.FieldFin])
	assert.Equal(t, "1", clt[flow.FieldClose])
	assert.Equal(t, 0, c.LiveFlows(), "trailing segments must not open a gapped flow")
}

func TestCollector_SequenceGap(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, []*model.PacketInfo{
		segment(0, client, server, "S", 100, 0, 0, 74),
		segment(ms(50), server, client, "SA", 500, 101, 0, 74),
		segment(ms(51), client, server, "A", 101, 501, 0, 66),
		segment(ms(52), client, server, "PA", 101, 501, 20, 86),
		segment(ms(54), server, client, "PA", 501, 121, 100, 166),
		// 1000 client bytes were not captured.
		segment(ms(60), client, server, "PA", 1121, 601, 20, 86),
		segment(ms(90), server, client, "PA", 601, 1141, 100, 166),
	})

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "1", clt[flow.FieldSrt])
	assert.Equal(t, "2ms", clt[flow.FieldSrtP99])

	flows := c.TCPFlows()
	require.Len(t, flows, 1)
	for _, f := range flows {
		assert.True(t, f.Gap())
	}
}

func TestCollector_GappedFlowHasNoSrt(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, []*model.PacketInfo{
		segment(0, client, server, "PA", 1000, 9000, 50, 116),
		segment(ms(3), server, client, "PA", 9000, 1050, 200, 266),
		segment(ms(4), client, server, "PA", 1050, 9200, 50, 116),
		segment(ms(9), server, client, "PA", 9200, 1100, 200, 266),
	})

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "0", clt[flow.FieldSrt])
	assert.Equal(t, "1", clt[flow.FieldActiveConnections])
	assert.Equal(t, "0", clt[flow.FieldConn])

	flows := c.TCPFlows()
	require.Len(t, flows, 1)
	for _, f := range flows {
		assert.True(t, f.Gap())
	}

	feed(c, []*model.PacketInfo{
		segment(ms(20), client, server, "FA", 1100, 9400, 0, 66),
		segment(ms(21), server, client, "FA", 9400, 1101, 0, 66),
	})
	clt = values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "1", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
}

func TestCollector_ZeroWindow(t *testing.T) {
	c := NewCollector(collector.Settings{})
	pkts := []*model.PacketInfo{
		segment(0, client, server, "S", 100, 0, 0, 74),
		segment(ms(1), server, client, "SA", 500, 101, 0, 74),
		segment(ms(2), client, server, "A", 101, 501, 0, 66),
	}
	for i := 0; i < 3; i++ {
		p := segment(ms(3+i), server, client, "A", 501, 101, 0, 66)
		p.TCP.Window = 0
		pkts = append(pkts, p)
	}
	rst := segment(ms(10), server, client, "R", 501, 0, 0, 60)
	rst.TCP.Window = 0
	pkts = append(pkts, rst)
	feed(c, pkts)

	srv := values(t, c, serverKey(""), flow.FromServer)
	assert.Equal(t, "3", srv[flow.FieldZwin])
	assert.Equal(t, "1", srv[flow.FieldRst])
	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "0", clt[flow.FieldZwin])
	assert.Equal(t, "1", clt[flow.FieldClose])
}

func TestCollector_FailedConnections(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, []*model.PacketInfo{
		segment(0, client, server, "S", 100, 0, 0, 74),
		segment(0, "10.0.0.1:50001", server, "S", 300, 0, 0, 74),
		segment(ms(1), server, "10.0.0.1:50001", "RA", 0, 301, 0, 60),
	})
	assert.Equal(t, 1, c.LiveFlows())

	c.AdvanceTick(t0.Add(6 * time.Second))
	assert.Equal(t, 0, c.LiveFlows())

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "2", clt[flow.FieldFailedConnections])
	assert.Equal(t, "0", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
}

func TestCollector_IdleFlowIsClosed(t *testing.T) {
	c := NewCollector(collector.Settings{FlowTimeout: time.Minute})
	feed(c, []*model.PacketInfo{
		segment(0, client, server, "S", 100, 0, 0, 74),
		segment(ms(1), server, client, "SA", 500, 101, 0, 74),
		segment(ms(2), client, server, "A", 101, 501, 0, 66),
	})
	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "1", clt[flow.FieldActiveConnections])

	c.AdvanceTick(t0.Add(30 * time.Second))
	assert.Equal(t, 1, c.LiveFlows())
	c.AdvanceTick(t0.Add(2 * time.Minute))
	assert.Equal(t, 0, c.LiveFlows())

	clt = values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "0", clt[flow.FieldActiveConnections])
	assert.Equal(t, "1", clt[flow.FieldClose])
}

func TestCollector_TickIgnoresOlderTimestamps(t *testing.T) {
	c := NewCollector(collector.Settings{})
	c.AdvanceTick(t0.Add(time.Hour))
	feed(c, []*model.PacketInfo{segment(0, client, server, "S", 100, 0, 0, 74)})
	c.AdvanceTick(t0.Add(30 * time.Minute))
	assert.Equal(t, 1, c.LiveFlows())
}

func TestCollector_CountersSumOverFlows(t *testing.T) {
	c := NewCollector(collector.Settings{RetainFlows: true})
	for i, port := range []string{"50000", "50001", "50002"} {
		base := time.Duration(i) * time.Second
		feed(c, handshakeAndRequest(base, "10.0.0.1:"+port))
	}
	feed(c, []*model.PacketInfo{
		segment(4*time.Second, "10.0.0.1:50003", server, "S", 100, 0, 0, 74),
		segment(4*time.Second+ms(1), server, "10.0.0.1:50003", "R", 0, 101, 0, 60),
	})

	var syns, fins, rsts, zwins [2]int
	for _, f := range c.TCPFlows() {
		s, fi, r, z := f.Counters()
		for d := 0; d < 2; d++ {
			syns[d] += s[d]
			fins[d] += fi[d]
			rsts[d] += r[d]
			zwins[d] += z[d]
		}
	}
	for _, dir := range []flow.Direction{flow.FromClient, flow.FromServer} {
		v := values(t, c, serverKey(""), dir)
		assert.Equal(t, strconv.Itoa(syns[dir]), v[flow.FieldSyn])
		assert.Equal(t, strconv.Itoa(fins[dir]), v[flow.FieldFin])
		assert.Equal(t, strconv.Itoa(rsts[dir]), v[flow.FieldRst])
		assert.Equal(t, strconv.Itoa(zwins[dir]), v[flow.FieldZwin])
	}
	assert.Equal(t, 4, syns[flow.FromClient])
}

func TestCollector_ResetRoundTrip(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, handshakeAndRequest(0, client))

	snap := c.Export(t0.Add(time.Second), 1)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "1", snap.Records[1].Client["CONN_RATE"])
	assert.Equal(t, "1", snap.Records[1].Client["SRT_RATE"])

	clt := values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "0", clt[flow.FieldConnRate])
	assert.Equal(t, "0", clt[flow.FieldCloseRate])
	assert.Equal(t, "1", clt[flow.FieldConn])
	assert.Equal(t, "1", clt[flow.FieldClose])
	assert.Equal(t, "1", clt[flow.FieldSrt])

	c.ResetAll()
	clt = values(t, c, serverKey(""), flow.FromClient)
	assert.Equal(t, "0", clt[flow.FieldConn])
	assert.Equal(t, "0", clt[flow.FieldClose])
	assert.Equal(t, "0", clt[flow.FieldSyn])
	assert.Equal(t, "0ms", clt[flow.FieldCtP99])
}

func TestCollector_SortByConnections(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, handshakeAndRequest(0, client))
	feed(c, handshakeAndRequest(time.Second, "10.0.0.1:50001"))
	other := "10.0.0.3:443"
	feed(c, []*model.PacketInfo{
		segment(2*time.Second, client, other, "S", 1, 0, 0, 74),
		segment(2*time.Second+ms(1), other, client, "SA", 1, 2, 0, 74),
	})

	c.SetSortField(flow.FieldConn, false)
	flows := c.GetAggregatedFlows()
	require.Len(t, flows, 2)
	assert.Equal(t, uint16(443), flows[0].Key().Port)

	c.SetSortField(flow.FieldConn, true)
	flows = c.GetAggregatedFlows()
	assert.Equal(t, uint16(80), flows[0].Key().Port)
}

func TestCollector_StatsdMetrics(t *testing.T) {
	c := NewCollector(collector.Settings{})
	feed(c, handshakeAndRequest(0, client))
	c.MergePercentiles()

	metrics := c.GetStatsdMetrics()
	byName := map[string]model.Metric{}
	for _, m := range metrics {
		byName[m.Name] = m
	}
	require.Contains(t, byName, "tcp.srt")
	require.Contains(t, byName, "tcp.ct")
	assert.Equal(t, 2.0, byName["tcp.srt"].Value)
	assert.Equal(t, 50.0, byName["tcp.ct"].Value)
	assert.Equal(t, model.Histogram, byName["tcp.ct"].Kind)
	assert.Contains(t, byName["tcp.srt"].Tags, model.Tag{Key: "port", Value: "80"})
	assert.NotContains(t, byName, "tcp.activeConnections")
}
