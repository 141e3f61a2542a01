package model

import (
	"net/netip"
	"time"

	"FlowSpectra/internal/engine/flow"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Transport flow.Transport
}

// Src returns the sending endpoint.
func (ft FiveTuple) Src() flow.Endpoint {
	return flow.Endpoint{Addr: ft.SrcIP, Port: ft.SrcPort}
}

// Dst returns the receiving endpoint.
func (ft FiveTuple) Dst() flow.Endpoint {
	return flow.Endpoint{Addr: ft.DstIP, Port: ft.DstPort}
}

// FlowId builds the flow identity of the packet.
func (ft FiveTuple) FlowId() flow.FlowId {
	return flow.NewFlowId(ft.Src(), ft.Dst(), ft.Transport)
}

// TCPInfo holds the TCP header fields the collectors look at.
type TCPInfo struct {
	Seq    uint32
	Ack    uint32
	Window uint16
	SYN    bool
	ACK    bool
	FIN    bool
	RST    bool
	PSH    bool
}

// String lists the set flags, e.g. "SA" for a SYN-ACK.
func (t *TCPInfo) String() string {
	var b []byte
	for _, f := range []struct {
		set bool
		c   byte
	}{{t.SYN, 'S'}, {t.ACK, 'A'}, {t.FIN, 'F'}, {t.RST, 'R'}, {t.PSH, 'P'}} {
		if f.set {
			b = append(b, f.c)
		}
	}
	return string(b)
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	// Length is the captured frame length.
	Length  int
	Payload []byte
	// TCP is nil for UDP packets.
	TCP *TCPInfo
}

// IsTCP reports whether the packet carries a TCP segment.
func (p *PacketInfo) IsTCP() bool {
	return p.TCP != nil
}
