package protocol

import (
	"FlowSpectra/internal/engine/flow"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x0c, 0x29, 0x01, 0x02, 0x03},
		DstMAC:       net.HardwareAddr{0x00, 0x0c, 0x29, 0x04, 0x05, 0x06},
		EthernetType: t,
	}
}

func TestParseData_TCPv4(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 50000, DstPort: 80, Seq: 100, Ack: 7, SYN: true, ACK: true, Window: 0}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload("hello"))

	ts := time.Unix(1700000000, 5000)
	info, err := ParseData(data, layers.LayerTypeEthernet, ts)
	require.NoError(t, err)

	assert.Equal(t, ts, info.Timestamp)
	assert.Equal(t, len(data), info.Length)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), info.FiveTuple.SrcIP)
	assert.Equal(t, uint16(80), info.FiveTuple.DstPort)
	assert.Equal(t, flow.TCP, info.FiveTuple.Transport)
	require.True(t, info.IsTCP())
	assert.True(t, info.TCP.SYN)
	assert.True(t, info.TCP.ACK)
	assert.False(t, info.TCP.FIN)
	assert.Equal(t, uint32(100), info.TCP.Seq)
	assert.Equal(t, uint16(0), info.TCP.Window)
	assert.Equal(t, []byte("hello"), info.Payload)
}

func TestParseData_UDPv6(t *testing.T) {
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::53")}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernet(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload{1, 2, 3})

	info, err := ParseData(data, layers.LayerTypeEthernet, time.Now())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::53"), info.FiveTuple.DstIP)
	assert.Equal(t, flow.UDP, info.FiveTuple.Transport)
	assert.False(t, info.IsTCP())
	assert.Equal(t, []byte{1, 2, 3}, info.Payload)
}

func TestParseData_Rejects(t *testing.T) {
	arp := &layers.ARP{AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2}}
	_, err := ParseData(serialize(t, ethernet(layers.EthernetTypeARP), arp), layers.LayerTypeEthernet, time.Now())
	assert.ErrorIs(t, err, ErrNoIP)

	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	_, err = ParseData(serialize(t, ethernet(layers.EthernetTypeIPv4), ip, icmp), layers.LayerTypeEthernet, time.Now())
	assert.ErrorIs(t, err, ErrNoTransport)
}
