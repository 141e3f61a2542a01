package ssl

import (
	"encoding/binary"
	"net/netip"
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
	client = "10.0.0.1:51000"
	server = "151.101.1.140:443"
)

func u16(n int) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(n))
}

func withLen16(b []byte) []byte {
	return append(u16(len(b)), b...)
}

// clientHello builds a minimal TLS 1.2 ClientHello record.
func clientHello(sni string) []byte {
	var body []byte
	body = append(body, 3, 3)
	body = append(body, make([]byte, 32)...)
	// empty session id, one cipher suite, null compression
	body = append(body, 0)
	body = append(body, withLen16([]byte{0x13, 0x01})...)
	body = append(body, 1, 0)

	var exts []byte
	exts = append(exts, u16(0x000b)...)
	exts = append(exts, withLen16([]byte{1, 0})...)
	if sni != "" {
		entry := append([]byte{0}, withLen16([]byte(sni))...)
		exts = append(exts, u16(extensionServerName)...)
		exts = append(exts, withLen16(withLen16(entry))...)
	}
	body = append(body, withLen16(exts)...)

	hs := []byte{handshakeClientHello, 0, byte(len(body) >> 8), byte(len(body))}
	hs = append(hs, body...)
	rec := []byte{recordHandshake, 3, 1}
	return append(rec, withLen16(hs)...)
}

func record(t byte, size int) []byte {
	return append([]byte{t, 3, 3}, withLen16(make([]byte, size))...)
}

func packet(at time.Duration, src, dst string, payload []byte, flags ...string) *model.PacketInfo {
	s := netip.MustParseAddrPort(src)
	d := netip.MustParseAddrPort(dst)
	info := &model.TCPInfo{ACK: true, PSH: len(payload) > 0, Window: 1024}
	for _, f := range flags {
		switch f {
		case "FIN":
			info.FIN = true
		case "RST":
			info.RST = true
		}
	}
	return &model.PacketInfo{
		Timestamp: t0.Add(at),
		FiveTuple: model.FiveTuple{
			SrcIP: s.Addr(), DstIP: d.Addr(),
			SrcPort: s.Port(), DstPort: d.Port(),
			Transport: flow.TCP,
		},
		Length:  54 + len(payload),
		Payload: payload,
		TCP:     info,
	}
}

func TestServerName(t *testing.T) {
	assert.Equal(t, "www.reddit.com", serverName(clientHello("www.reddit.com")))
	assert.Equal(t, "", serverName(clientHello("")))
	assert.Equal(t, "", serverName(record(recordApplicationData, 10)))

	truncated := clientHello("www.reddit.com")
	assert.Equal(t, "", serverName(truncated[:60]))
	assert.True(t, isClientHello(truncated[:6]))

	// High byte of the extensions length: record 5, handshake 4,
	// version 2, random 32, session id 1, suites 4, compression 2.
	corrupt := clientHello("www.reddit.com")
	corrupt[50] = 0xff
	assert.Equal(t, "", serverName(corrupt))
}

func TestCollector_HandshakeTime(t *testing.T) {
	c := NewCollector(collector.Settings{})

	c.ProcessPacket(packet(0, client, server, clientHello("www.reddit.com")))
	c.ProcessPacket(packet(30*time.Millisecond, server, client, record(recordHandshake, 1200)))
	c.ProcessPacket(packet(60*time.Millisecond, client, server, record(recordHandshake, 80)))
	c.ProcessPacket(packet(61*time.Millisecond, client, server, record(recordApplicationData, 300)))
	c.ProcessPacket(packet(70*time.Millisecond, client, server, record(recordApplicationData, 300)))
	assert.Equal(t, 1, c.LiveFlows())

	c.MergePercentiles()
	srv := netip.MustParseAddrPort(server)
	key := flow.TCPKey("www.reddit.com", srv.Addr(), srv.Port())
	v, ok := c.Values(key, flow.FromClient, 0)
	require.True(t, ok)
	assert.Equal(t, "1", v[flow.FieldConn])
	assert.Equal(t, "61ms", v[flow.FieldCtP99])
	assert.Equal(t, "4", v[flow.FieldPkts])

	sv, _ := c.Values(key, flow.FromServer, 0)
	assert.Equal(t, "1", sv[flow.FieldPkts])

	c.ProcessPacket(packet(80*time.Millisecond, server, client, nil, "FIN"))
	assert.Equal(t, 0, c.LiveFlows())
}

func TestCollector_NameFallsBackToResolver(t *testing.T) {
	srv := netip.MustParseAddrPort(server)
	names := fixedResolver{srv.Addr(): "cdn.example.net"}
	c := NewCollector(collector.Settings{Resolver: names})

	c.ProcessPacket(packet(0, client, server, clientHello("")))
	_, ok := c.AggregatedMap()[flow.TCPKey("cdn.example.net", srv.Addr(), srv.Port())]
	assert.True(t, ok)
}

func TestCollector_IgnoresNonTLS(t *testing.T) {
	c := NewCollector(collector.Settings{})
	c.ProcessPacket(packet(0, client, server, []byte("GET / HTTP/1.1\r\n\r\n")))
	c.ProcessPacket(packet(0, client, server, record(recordApplicationData, 20)))
	assert.Empty(t, c.AggregatedMap())
	assert.Equal(t, 0, c.LiveFlows())
}

func TestCollector_IdleSessionsExpire(t *testing.T) {
	c := NewCollector(collector.Settings{FlowTimeout: time.Minute})
	c.ProcessPacket(packet(0, client, server, clientHello("a.example.com")))
	c.AdvanceTick(t0.Add(30 * time.Second))
	assert.Equal(t, 1, c.LiveFlows())
	c.AdvanceTick(t0.Add(2 * time.Minute))
	assert.Equal(t, 0, c.LiveFlows())
}

type fixedResolver map[netip.Addr]string

func (r fixedResolver) LookupName(ip netip.Addr) (string, bool) {
	n, ok := r[ip]
	return n, ok
}

func (r fixedResolver) AddName(ip netip.Addr, name string) { r[ip] = name }
