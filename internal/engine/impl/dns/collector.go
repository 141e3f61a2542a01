package dns

import (
	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"encoding/binary"
	"net/netip"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

// Name is the registry name of the DNS collector.
const Name = "dns"

const port = 53

var displayPairs = []model.DisplayPair{
	{Name: "Requests", Fields: []flow.Field{flow.FieldReq, flow.FieldReqRate, flow.FieldTimeouts, flow.FieldNxdomain, flow.FieldErrors, flow.FieldTrunc}},
	{Name: "SRT", Fields: []flow.Field{flow.FieldSrt, flow.FieldSrtRate, flow.FieldSrtP95, flow.FieldSrtP99, flow.FieldSrtMax, flow.FieldDsP95, flow.FieldDsP99, flow.FieldDsMax}},
	{Name: "Traffic", Fields: []flow.Field{flow.FieldDir, flow.FieldPkts, flow.FieldPktsRate, flow.FieldBytes, flow.FieldBytesRate}},
}

var sortFields = []flow.Field{
	flow.FieldFqdn, flow.FieldType, flow.FieldProto,
	flow.FieldReq, flow.FieldReqRate, flow.FieldTimeouts, flow.FieldNxdomain, flow.FieldErrors, flow.FieldTrunc,
	flow.FieldSrt, flow.FieldSrtRate, flow.FieldSrtP95, flow.FieldSrtP99, flow.FieldSrtMax,
	flow.FieldDsP95, flow.FieldDsP99, flow.FieldDsMax,
	flow.FieldPkts, flow.FieldBytes,
}

func init() {
	factory.RegisterCollector(Name, func(settings collector.Settings) model.Collector {
		return NewCollector(settings)
	})
}

type pendingKey struct {
	flow flow.Key
	id   uint16
}

// query is a request waiting for its response.
type query struct {
	start     time.Time
	aggregate *AggregatedDnsFlow
}

// Collector matches DNS queries with their responses.
type Collector struct {
	*collector.Base[*AggregatedDnsFlow]

	settings collector.Settings

	// pending is guarded by the base lock.
	pending  map[pendingKey]query
	lastTick time.Time
	tickMu   sync.Mutex
}

// NewCollector creates a DNS collector.
func NewCollector(settings collector.Settings) *Collector {
	return &Collector{
		Base: collector.NewBase(collector.Options[*AggregatedDnsFlow]{
			Name:         Name,
			KeyFields:    []flow.Field{flow.FieldFqdn, flow.FieldType, flow.FieldProto},
			DisplayPairs: displayPairs,
			SortFields:   sortFields,
			NewAggregate: newAggregate,
		}),
		settings: settings.WithDefaults(),
		pending:  make(map[pendingKey]query),
	}
}

// message extracts the DNS message carried by a packet. Over TCP only
// segments holding a complete length-prefixed message are decoded.
func message(pkt *model.PacketInfo) []byte {
	payload := pkt.Payload
	if !pkt.IsTCP() {
		return payload
	}
	if len(payload) < 2 {
		return nil
	}
	size := int(binary.BigEndian.Uint16(payload))
	if size == 0 || len(payload) < 2+size {
		return nil
	}
	return payload[2 : 2+size]
}

// ProcessPacket decodes packets to or from port 53.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	tuple := pkt.FiveTuple
	if tuple.SrcPort != port && tuple.DstPort != port {
		return
	}
	data := message(pkt)
	if len(data) == 0 {
		return
	}
	msg := new(mdns.Msg)
	if err := msg.Unpack(data); err != nil {
		log.WithFields(log.Fields{"flow": tuple.FlowId(), "error": err}).Debug("dns: undecodable message")
		return
	}
	if len(msg.Question) == 0 {
		return
	}

	id := c.settings.FlowIdOf(tuple.Src(), tuple.Dst(), tuple.Transport)
	pk := pendingKey{flow: id.Key(), id: msg.Id}
	q := msg.Question[0]
	name := strings.ToLower(strings.TrimSuffix(q.Name, "."))

	c.Lock()
	defer c.Unlock()

	if !msg.Response {
		key := flow.DNSKey(name, mdns.TypeToString[q.Qtype], tuple.Transport)
		agg := c.Aggregate(key)
		for _, a := range []*AggregatedDnsFlow{agg, c.Total()} {
			a.addQuery()
			a.addPacket(flow.FromClient, pkt.Length)
		}
		// A retransmission with the same id supersedes the earlier
		// query, which then counts as timed out.
		if old, ok := c.pending[pk]; ok {
			old.aggregate.addTimeout()
			c.Total().addTimeout()
		}
		c.pending[pk] = query{start: pkt.Timestamp, aggregate: agg}
		return
	}

	c.learnNames(name, msg)
	pq, ok := c.pending[pk]
	if !ok {
		return
	}
	delete(c.pending, pk)
	srt := collector.Millis(pq.start, pkt.Timestamp)
	for _, a := range []*AggregatedDnsFlow{pq.aggregate, c.Total()} {
		a.addResponse(srt, len(data), msg)
		a.addPacket(flow.FromServer, pkt.Length)
	}
}

// learnNames feeds the resolver with the addresses answered for name.
func (c *Collector) learnNames(name string, msg *mdns.Msg) {
	if c.settings.Resolver == nil || msg.Rcode != mdns.RcodeSuccess {
		return
	}
	for _, rr := range msg.Answer {
		var ip netip.Addr
		switch r := rr.(type) {
		case *mdns.A:
			ip, _ = netip.AddrFromSlice(r.A.To4())
		case *mdns.AAAA:
			ip, _ = netip.AddrFromSlice(r.AAAA.To16())
		default:
			continue
		}
		c.settings.Resolver.AddName(ip, name)
	}
}

// AdvanceTick counts queries left unanswered for longer than the DNS
// timeout. Older timestamps are ignored.
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
	for pk, q := range c.pending {
		if now.Sub(q.start) <= c.settings.DNSTimeout {
			continue
		}
		q.aggregate.addTimeout()
		c.Total().addTimeout()
		delete(c.pending, pk)
	}
}

// LiveFlows returns the number of queries waiting for a response.
func (c *Collector) LiveFlows() int {
	c.Lock()
	defer c.Unlock()
	return len(c.pending)
}
