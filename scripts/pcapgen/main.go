package main

import (
	"FlowSpectra/pkg/pcap"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
	resolver  = net.IPv4(192, 168, 1, 1).To4()
)

// generator writes synthetic sessions with a monotonically advancing clock.
type generator struct {
	w   *pcap.Writer
	rng *rand.Rand
	now time.Time
	n   int
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	sessions := flag.Int("c", 100, "Number of sessions to generate per protocol")
	hosts := flag.Int("hosts", 10, "Number of distinct server names")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	w, err := pcap.NewWriter(*outputFile, 65536, layers.LinkTypeEthernet)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer w.Close()

	g := &generator{
		w:   w,
		rng: rand.New(rand.NewSource(*seed)),
		now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	log.Printf("Generating %d sessions per protocol into %s...", *sessions, *outputFile)

	for i := 0; i < *sessions; i++ {
		host := g.rng.Intn(*hosts)
		name := fmt.Sprintf("host%d.example.com", host)
		server := net.IPv4(93, 184, 216, byte(host+1)).To4()
		client := net.IPv4(192, 168, 1, byte(10+g.rng.Intn(100))).To4()
		port := uint16(32768 + i%28000)

		if err := g.dnsLookup(client, port, uint16(i), name, server); err != nil {
			log.Fatalf("Failed to write DNS exchange: %v", err)
		}
		if err := g.tcpSession(client, server, port, 80, []byte("GET / HTTP/1.1\r\nHost: "+name+"\r\n\r\n"), 1200); err != nil {
			log.Fatalf("Failed to write TCP session: %v", err)
		}
		if err := g.tcpSession(client, server, port+1, 443, clientHello(name), 2400); err != nil {
			log.Fatalf("Failed to write TLS session: %v", err)
		}
	}
	log.Printf("Successfully generated %d packets.", g.n)
}

// step advances the clock by a random delay up to max.
func (g *generator) step(max time.Duration) {
	g.now = g.now.Add(time.Duration(g.rng.Int63n(int64(max))) + time.Microsecond)
}

func (g *generator) write(toServer bool, ip *layers.IPv4, transport gopacket.SerializableLayer, payload []byte) error {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	if !toServer {
		eth.SrcMAC, eth.DstMAC = serverMAC, clientMAC
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := buf.Bytes()
	g.n++
	return g.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     g.now,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

func ipv4(src, dst net.IP, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst, Protocol: proto}
}

func (g *generator) dnsLookup(client net.IP, port, id uint16, name string, answer net.IP) error {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	q.Id = id
	r := new(dns.Msg)
	r.SetReply(q)
	r.Answer = append(r.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   answer,
	})

	for i, m := range []*dns.Msg{q, r} {
		data, err := m.Pack()
		if err != nil {
			return err
		}
		toServer := i == 0
		udp := &layers.UDP{SrcPort: layers.UDPPort(port), DstPort: 53}
		ip := ipv4(client, resolver, layers.IPProtocolUDP)
		if !toServer {
			udp.SrcPort, udp.DstPort = udp.DstPort, udp.SrcPort
			ip = ipv4(resolver, client, layers.IPProtocolUDP)
		}
		udp.SetNetworkLayerForChecksum(ip)
		g.step(5 * time.Millisecond)
		if err := g.write(toServer, ip, udp, data); err != nil {
			return err
		}
	}
	return nil
}

// tcpSession writes a handshake, one request, a response of respSize
// bytes and a FIN exchange.
func (g *generator) tcpSession(client, server net.IP, cport, sport uint16, request []byte, respSize int) error {
	cseq, sseq := g.rng.Uint32(), g.rng.Uint32()
	seg := func(toServer bool, flags string, payload []byte) error {
		tcp := &layers.TCP{Window: 64240}
		ip := ipv4(client, server, layers.IPProtocolTCP)
		if toServer {
			tcp.SrcPort, tcp.DstPort = layers.TCPPort(cport), layers.TCPPort(sport)
			tcp.Seq, tcp.Ack = cseq, sseq
		} else {
			ip = ipv4(server, client, layers.IPProtocolTCP)
			tcp.SrcPort, tcp.DstPort = layers.TCPPort(sport), layers.TCPPort(cport)
			tcp.Seq, tcp.Ack = sseq, cseq
		}
		for _, f := range flags {
			switch f {
			case 'S':
				tcp.SYN = true
			case 'A':
				tcp.ACK = true
			case 'F':
				tcp.FIN = true
			case 'P':
				tcp.PSH = true
			}
		}
		if !tcp.ACK {
			tcp.Ack = 0
		}
		tcp.SetNetworkLayerForChecksum(ip)

		advance := uint32(len(payload))
		if tcp.SYN || tcp.FIN {
			advance++
		}
		if toServer {
			cseq += advance
		} else {
			sseq += advance
		}
		g.step(20 * time.Millisecond)
		return g.write(toServer, ip, tcp, payload)
	}

	steps := []struct {
		toServer bool
		flags    string
		payload  []byte
	}{
		{true, "S", nil},
		{false, "SA", nil},
		{true, "A", nil},
		{true, "PA", request},
		{false, "PA", make([]byte, respSize)},
		{true, "A", nil},
		{true, "FA", nil},
		{false, "FA", nil},
		{true, "A", nil},
	}
	for _, s := range steps {
		if err := seg(s.toServer, s.flags, s.payload); err != nil {
			return err
		}
	}
	return nil
}

// clientHello builds a TLS 1.2 ClientHello record carrying name as SNI.
func clientHello(name string) []byte {
	u16 := func(n int) []byte { return binary.BigEndian.AppendUint16(nil, uint16(n)) }
	withLen := func(b []byte) []byte { return append(u16(len(b)), b...) }

	body := []byte{3, 3}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0)
	body = append(body, withLen([]byte{0x13, 0x01, 0xc0, 0x2f})...)
	body = append(body, 1, 0)

	entry := append([]byte{0}, withLen([]byte(name))...)
	ext := append(u16(0), withLen(withLen(entry))...)
	body = append(body, withLen(ext)...)

	hs := []byte{1, 0, byte(len(body) >> 8), byte(len(body))}
	hs = append(hs, body...)
	return append([]byte{22, 3, 1}, withLen(hs)...)
}
