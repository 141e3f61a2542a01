package tcp

import (
	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"sync"
	"time"
)

// Name is the registry name of the TCP collector.
const Name = "tcp"

var displayPairs = []model.DisplayPair{
	{Name: "Traffic", Fields: []flow.Field{flow.FieldDir, flow.FieldPkts, flow.FieldPktsRate, flow.FieldBytes, flow.FieldBytesRate, flow.FieldMtu}},
	{Name: "Connections", Fields: []flow.Field{flow.FieldConn, flow.FieldConnRate, flow.FieldCtP95, flow.FieldCtP99, flow.FieldCtMax, flow.FieldActiveConnections, flow.FieldFailedConnections, flow.FieldClose, flow.FieldCloseRate}},
	{Name: "SRT", Fields: []flow.Field{flow.FieldSrt, flow.FieldSrtRate, flow.FieldSrtP95, flow.FieldSrtP99, flow.FieldSrtMax, flow.FieldDsP95, flow.FieldDsP99, flow.FieldDsMax}},
	{Name: "Flags", Fields: []flow.Field{flow.FieldDir, flow.FieldSyn, flow.FieldSynAck, flow.FieldFin, flow.FieldRst, flow.FieldZwin}},
}

var sortFields = []flow.Field{
	flow.FieldFqdn, flow.FieldIP, flow.FieldPort,
	flow.FieldPkts, flow.FieldPktsRate, flow.FieldBytes, flow.FieldBytesRate, flow.FieldMtu,
	flow.FieldSyn, flow.FieldSynAck, flow.FieldFin, flow.FieldRst, flow.FieldZwin,
	flow.FieldConn, flow.FieldConnRate, flow.FieldCtP95, flow.FieldCtP99, flow.FieldCtMax,
	flow.FieldActiveConnections, flow.FieldFailedConnections, flow.FieldClose, flow.FieldCloseRate,
	flow.FieldSrt, flow.FieldSrtRate, flow.FieldSrtP95, flow.FieldSrtP99, flow.FieldSrtMax,
	flow.FieldDsP95, flow.FieldDsP99, flow.FieldDsMax,
}

func init() {
	factory.RegisterCollector(Name, func(settings collector.Settings) model.Collector {
		return NewCollector(settings)
	})
}

// Collector tracks TCP connections and aggregates them per destination.
type Collector struct {
	*collector.Base[*AggregatedTcpFlow]

	settings collector.Settings

	// flows and timeWait are guarded by the base lock.
	flows    map[flow.Key]*Flow
	timeWait map[flow.Key]*Flow
	lastTick time.Time
	tickMu   sync.Mutex
}

// NewCollector creates a TCP collector.
func NewCollector(settings collector.Settings) *Collector {
	return &Collector{
		Base: collector.NewBase(collector.Options[*AggregatedTcpFlow]{
			Name:         Name,
			KeyFields:    []flow.Field{flow.FieldFqdn, flow.FieldIP, flow.FieldPort},
			DisplayPairs: displayPairs,
			SortFields:   sortFields,
			NewAggregate: newAggregate,
		}),
		settings: settings.WithDefaults(),
		flows:    make(map[flow.Key]*Flow),
		timeWait: make(map[flow.Key]*Flow),
	}
}

// ProcessPacket folds one TCP segment. UDP packets are ignored.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	if !pkt.IsTCP() {
		return
	}
	tuple := pkt.FiveTuple
	id := c.settings.FlowIdOf(tuple.Src(), tuple.Dst(), flow.TCP)
	key := id.Key()

	c.Lock()
	defer c.Unlock()

	f, ok := c.flows[key]
	if !ok {
		f, ok = c.timeWait[key]
	}
	if ok && f.closed && pkt.TCP.SYN && !pkt.TCP.ACK {
		delete(c.timeWait, key)
		ok = false
	}
	if !ok {
		f = c.newFlowLocked(id)
		c.flows[key] = f
		f.start(pkt)
	}

	f.update(pkt, collector.DirectionOf(f.id.ClientEndpoint(), tuple.Src()))

	if f.closed && !c.settings.RetainFlows {
		if _, live := c.flows[key]; live {
			delete(c.flows, key)
			c.timeWait[key] = f
		}
	}
}

func (c *Collector) newFlowLocked(id flow.FlowId) *Flow {
	srv := id.ServerEndpoint()
	key := flow.TCPKey(c.settings.NameOf(srv.Addr), srv.Addr, srv.Port)
	return newFlow(id, key, []*AggregatedTcpFlow{c.Aggregate(key), c.Total()})
}

// AdvanceTick expires idle flows, unanswered SYNs and time-wait entries.
// It runs at most once per second of capture time; older timestamps are
// ignored.
func (c *Collector) AdvanceTick(now time.Time) {
	c.tickMu.Lock()
	if !now.After(c.lastTick) || now.Unix() == c.lastTick.Unix() {
		c.tickMu.Unlock()
		return
	}
	c.lastTick = now
	c.tickMu.Unlock()

	c.Lock()
	defer c.Unlock()
	for key, f := range c.flows {
		if !f.expire(now, c.settings) {
			continue
		}
		delete(c.flows, key)
		if f.closed && now.Sub(f.lastSeen) <= c.settings.TimeWait {
			c.timeWait[key] = f
		}
	}
	for key, f := range c.timeWait {
		if now.Sub(f.lastSeen) > c.settings.TimeWait {
			delete(c.timeWait, key)
		}
	}
}

// LiveFlows returns the number of connections in the live table.
func (c *Collector) LiveFlows() int {
	c.Lock()
	defer c.Unlock()
	return len(c.flows)
}

// TCPFlows returns the live flows keyed by their canonical id.
func (c *Collector) TCPFlows() map[flow.Key]*Flow {
	c.Lock()
	defer c.Unlock()
	out := make(map[flow.Key]*Flow, len(c.flows))
	for k, f := range c.flows {
		out[k] = f
	}
	return out
}
