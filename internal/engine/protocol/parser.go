package protocol

import (
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
	"errors"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrNoIP        = errors.New("not an IPv4 or IPv6 packet")
	ErrNoTransport = errors.New("not a TCP or UDP packet")
	ErrTruncated   = errors.New("truncated packet")
)

// ParseData decodes a raw frame of the given link type.
func ParseData(data []byte, first gopacket.Decoder, ts time.Time) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	packet.Metadata().Timestamp = ts
	packet.Metadata().Length = len(data)
	return ParsePacket(packet)
}

// ParsePacket extracts addresses, ports, TCP header fields and payload
// from a decoded packet.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // overwritten by capture metadata when present
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var ft model.FiveTuple
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		ft.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		ft.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		ft.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To16())
		ft.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To16())
	default:
		return nil, ErrNoIP
	}
	if !ft.SrcIP.IsValid() || !ft.DstIP.IsValid() {
		return nil, ErrNoIP
	}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		ft.Transport = flow.TCP
		info.Payload = l.Payload
		info.TCP = &model.TCPInfo{
			Seq:    l.Seq,
			Ack:    l.Ack,
			Window: l.Window,
			SYN:    l.SYN,
			ACK:    l.ACK,
			FIN:    l.FIN,
			RST:    l.RST,
			PSH:    l.PSH,
		}
	case *layers.UDP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		ft.Transport = flow.UDP
		info.Payload = l.Payload
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, ErrTruncated
		}
		return nil, ErrNoTransport
	}

	info.FiveTuple = ft
	return info, nil
}
