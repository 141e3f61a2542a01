package tcp

import (
	"time"

	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
)

// Flow tracks one physical TCP connection and folds its events into the
// destination aggregate and the Total aggregate.
type Flow struct {
	id  flow.FlowId
	key flow.AggregatedKey

	syns     [2]int
	synacks  [2]int
	fins     [2]int
	rsts     [2]int
	zeroWins [2]int
	mtu      [2]int
	packets  [2]int
	bytes    [2]int

	firstSeen time.Time
	lastSeen  time.Time
	synTime   time.Time

	// active is set once the connection was counted as open or ongoing.
	active bool
	opened bool
	closed bool
	failed bool
	gap    bool

	finSeen [2]bool
	finSeq  [2]uint32
	nextSeq [2]uint32
	seqSeen [2]bool

	srtPending  bool
	srtStart    time.Time
	requestSize int

	aggregates []*AggregatedTcpFlow
}

func newFlow(id flow.FlowId, key flow.AggregatedKey, aggregates []*AggregatedTcpFlow) *Flow {
	return &Flow{id: id, key: key, aggregates: aggregates}
}

func (f *Flow) ID() flow.FlowId { return f.id }

func (f *Flow) AggregatedKey() flow.AggregatedKey { return f.key }

// Gap reports whether part of the connection was not captured.
func (f *Flow) Gap() bool { return f.gap }

func (f *Flow) Closed() bool { return f.closed }

// Counters returns the per-direction SYN, FIN, RST and zero window counts.
func (f *Flow) Counters() (syns, fins, rsts, zeroWins [2]int) {
	return f.syns, f.fins, f.rsts, f.zeroWins
}

// seqAfter reports a > b in sequence space.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// start handles the first packet of the flow. A connection first seen
// without SYN started before the capture.
func (f *Flow) start(pkt *model.PacketInfo) {
	f.firstSeen = pkt.Timestamp
	if pkt.TCP.SYN {
		return
	}
	f.gap = true
	if pkt.TCP.RST {
		return
	}
	f.active = true
	for _, agg := range f.aggregates {
		agg.ongoingConnection()
	}
}

func (f *Flow) update(pkt *model.PacketInfo, dir flow.Direction) {
	tcp := pkt.TCP
	f.lastSeen = pkt.Timestamp
	f.countFlags(pkt, dir)
	for _, agg := range f.aggregates {
		agg.updateFlags(pkt, dir)
	}
	if f.closed {
		return
	}

	switch {
	case tcp.SYN && tcp.ACK:
		f.nextSeq[dir], f.seqSeen[dir] = tcp.Seq+1, true
		f.establish(pkt.Timestamp)
	case tcp.SYN:
		f.nextSeq[dir], f.seqSeen[dir] = tcp.Seq+1, true
		if f.synTime.IsZero() {
			f.synTime = pkt.Timestamp
		}
	}

	if len(pkt.Payload) > 0 {
		f.processPayload(pkt, dir)
	}

	if tcp.RST {
		switch {
		case f.active:
			f.close()
		case !f.synTime.IsZero():
			f.fail()
		default:
			f.closed = true
		}
		return
	}

	if tcp.FIN && !f.finSeen[dir] {
		f.finSeen[dir] = true
		f.finSeq[dir] = tcp.Seq + uint32(len(pkt.Payload))
		f.advanceSeq(dir, f.finSeq[dir]+1)
	}
	peer := dir.Reverse()
	finAcked := f.finSeen[peer] && tcp.ACK && !seqAfter(f.finSeq[peer]+1, tcp.Ack)
	if (f.finSeen[0] && f.finSeen[1]) || finAcked {
		f.close()
	}
}

func (f *Flow) countFlags(pkt *model.PacketInfo, dir flow.Direction) {
	tcp := pkt.TCP
	if tcp.RST {
		f.rsts[dir]++
	} else if tcp.Window == 0 {
		f.zeroWins[dir]++
	}
	switch {
	case tcp.SYN && tcp.ACK:
		f.synacks[dir]++
	case tcp.SYN:
		f.syns[dir]++
	case tcp.FIN:
		f.fins[dir]++
	}
	f.mtu[dir] = max(f.mtu[dir], pkt.Length)
	f.packets[dir]++
	f.bytes[dir] += pkt.Length
}

func (f *Flow) establish(ts time.Time) {
	if f.opened {
		return
	}
	f.opened = true
	if f.active {
		return
	}
	f.active = true
	if f.synTime.IsZero() {
		for _, agg := range f.aggregates {
			agg.ongoingConnection()
		}
		return
	}
	ct := collector.Millis(f.synTime, ts)
	for _, agg := range f.aggregates {
		agg.openConnection(ct)
	}
}

func (f *Flow) advanceSeq(dir flow.Direction, next uint32) {
	if !f.seqSeen[dir] || seqAfter(next, f.nextSeq[dir]) {
		f.nextSeq[dir] = next
		f.seqSeen[dir] = true
	}
}

func (f *Flow) processPayload(pkt *model.PacketInfo, dir flow.Direction) {
	seq := pkt.TCP.Seq
	size := len(pkt.Payload)
	end := seq + uint32(size)

	if f.seqSeen[dir] {
		if !seqAfter(end, f.nextSeq[dir]) {
			// retransmission
			return
		}
		if seqAfter(seq, f.nextSeq[dir]) && f.opened {
			f.gap = true
			f.srtPending = false
		}
	}
	f.advanceSeq(dir, end)

	if f.gap || !f.opened {
		return
	}
	if dir == flow.FromClient {
		if !f.srtPending {
			f.srtPending = true
			f.srtStart = pkt.Timestamp
			f.requestSize = 0
		}
		f.requestSize += size
		return
	}
	if f.srtPending {
		srt := collector.Millis(f.srtStart, pkt.Timestamp)
		for _, agg := range f.aggregates {
			agg.addSrt(srt, f.requestSize)
		}
		f.srtPending = false
	}
}

// close records the end of the connection, at most once.
func (f *Flow) close() {
	if f.closed {
		return
	}
	f.closed = true
	f.srtPending = false
	if !f.active {
		return
	}
	for _, agg := range f.aggregates {
		agg.closeConnection()
	}
}

func (f *Flow) fail() {
	if f.closed {
		return
	}
	f.closed = true
	f.failed = true
	for _, agg := range f.aggregates {
		agg.failConnection()
	}
}

// expire is called on tick. It reports whether the flow should leave the
// live table.
func (f *Flow) expire(now time.Time, settings collector.Settings) bool {
	if !f.closed && !f.active && !f.synTime.IsZero() && now.Sub(f.synTime) > settings.SynTimeout {
		f.fail()
	}
	if now.Sub(f.lastSeen) <= settings.FlowTimeout {
		return f.closed && !settings.RetainFlows
	}
	if !f.closed {
		f.close()
	}
	return true
}
