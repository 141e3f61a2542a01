package ssl

import (
	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"sync"
	"time"
)

// Name is the registry name of the SSL collector.
const Name = "ssl"

var displayPairs = []model.DisplayPair{
	{Name: "Connections", Fields: []flow.Field{flow.FieldConn, flow.FieldConnRate, flow.FieldCtP95, flow.FieldCtP99, flow.FieldCtMax}},
	{Name: "Traffic", Fields: []flow.Field{flow.FieldDir, flow.FieldPkts, flow.FieldPktsRate, flow.FieldBytes, flow.FieldBytesRate}},
}

var sortFields = []flow.Field{
	flow.FieldFqdn, flow.FieldIP, flow.FieldPort,
	flow.FieldConn, flow.FieldConnRate, flow.FieldCtP95, flow.FieldCtP99, flow.FieldCtMax,
	flow.FieldPkts, flow.FieldPktsRate, flow.FieldBytes, flow.FieldBytesRate,
}

func init() {
	factory.RegisterCollector(Name, func(settings collector.Settings) model.Collector {
		return NewCollector(settings)
	})
}

// session is one TLS connection, from its ClientHello.
type session struct {
	id             flow.FlowId
	startHandshake time.Time
	lastSeen       time.Time
	established    bool
	aggregates     []*AggregatedSslFlow
}

// Collector measures TLS handshake times per destination.
type Collector struct {
	*collector.Base[*AggregatedSslFlow]

	settings collector.Settings

	// sessions is guarded by the base lock.
	sessions map[flow.Key]*session
	lastTick time.Time
	tickMu   sync.Mutex
}

// NewCollector creates an SSL collector.
func NewCollector(settings collector.Settings) *Collector {
	return &Collector{
		Base: collector.NewBase(collector.Options[*AggregatedSslFlow]{
			Name:         Name,
			KeyFields:    []flow.Field{flow.FieldFqdn, flow.FieldIP, flow.FieldPort},
			DisplayPairs: displayPairs,
			SortFields:   sortFields,
			NewAggregate: newAggregate,
		}),
		settings: settings.WithDefaults(),
		sessions: make(map[flow.Key]*session),
	}
}

// ProcessPacket tracks TCP connections that start with a ClientHello.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	if !pkt.IsTCP() {
		return
	}
	tuple := pkt.FiveTuple
	id := c.settings.FlowIdOf(tuple.Src(), tuple.Dst(), flow.TCP)
	key := id.Key()

	c.Lock()
	defer c.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		if !isClientHello(pkt.Payload) {
			return
		}
		s = c.newSessionLocked(id, pkt)
		c.sessions[key] = s
	}

	dir := collector.DirectionOf(s.id.ClientEndpoint(), tuple.Src())
	s.lastSeen = pkt.Timestamp
	for _, agg := range s.aggregates {
		agg.addPacket(dir, pkt.Length)
	}

	if !s.established && dir == flow.FromClient {
		if t, ok := recordType(pkt.Payload); ok && t == recordApplicationData {
			s.established = true
			ct := collector.Millis(s.startHandshake, pkt.Timestamp)
			for _, agg := range s.aggregates {
				agg.openConnection(ct)
			}
		}
	}

	if pkt.TCP.FIN || pkt.TCP.RST {
		delete(c.sessions, key)
	}
}

// newSessionLocked names the destination from the SNI, falling back to
// the resolver.
func (c *Collector) newSessionLocked(id flow.FlowId, pkt *model.PacketInfo) *session {
	srv := id.ServerEndpoint()
	if pkt.FiveTuple.Src() == srv {
		// A ClientHello always comes from the client.
		id = id.Swapped()
		srv = id.ServerEndpoint()
	}
	name := serverName(pkt.Payload)
	if name == "" {
		name = c.settings.NameOf(srv.Addr)
	}
	key := flow.TCPKey(name, srv.Addr, srv.Port)
	return &session{
		id:             id,
		startHandshake: pkt.Timestamp,
		aggregates:     []*AggregatedSslFlow{c.Aggregate(key), c.Total()},
	}
}

// AdvanceTick drops sessions idle for longer than the flow timeout.
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
	for key, s := range c.sessions {
		if now.Sub(s.lastSeen) > c.settings.FlowTimeout {
			delete(c.sessions, key)
		}
	}
}

// LiveFlows returns the number of tracked TLS sessions.
func (c *Collector) LiveFlows() int {
	c.Lock()
	defer c.Unlock()
	return len(c.sessions)
}
