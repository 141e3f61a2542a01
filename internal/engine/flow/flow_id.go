package flow

import (
	"fmt"
	"hash/fnv"
	"net/netip"
)

// Direction tells which side of a connection sent a packet.
// Its value is the index into every per-direction [2]T array.
type Direction uint8

const (
	FromClient Direction = 0
	FromServer Direction = 1
)

func (d Direction) String() string {
	if d == FromServer {
		return "srv"
	}
	return "clt"
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return 1 - d
}

// Transport is the transport layer protocol of a flow.
type Transport uint8

const (
	TCP Transport = iota
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

// Endpoint is one side of a transport conversation.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

func (e Endpoint) less(o Endpoint) bool {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c < 0
	}
	return e.Port < o.Port
}

// Key is the canonical, endpoint-order-independent identity of a FlowId.
// It is comparable and used as the flow table key.
type Key struct {
	Low, High Endpoint
	Transport Transport
}

// FlowId identifies a transport conversation as seen from one packet.
// Endpoint 0 is the presumed client and endpoint 1 the presumed server.
type FlowId struct {
	endpoints [2]Endpoint
	transport Transport
	direction Direction
}

// NewFlowId builds a FlowId from the source (src) and destination (dst) of a packet.
// The endpoint with the lower port is taken as the server; on equal ports
// the source is kept as the client.
func NewFlowId(src, dst Endpoint, transport Transport) FlowId {
	id := FlowId{transport: transport}
	if dst.Port <= src.Port {
		id.endpoints = [2]Endpoint{src, dst}
		id.direction = FromClient
	} else {
		id.endpoints = [2]Endpoint{dst, src}
		id.direction = FromServer
	}
	return id
}

// Swapped returns the same conversation with client and server exchanged.
func (f FlowId) Swapped() FlowId {
	f.endpoints[0], f.endpoints[1] = f.endpoints[1], f.endpoints[0]
	f.direction = f.direction.Reverse()
	return f
}

// Direction returns FromServer when the packet that built this id was sent
// by the presumed server.
func (f FlowId) Direction() Direction { return f.direction }

func (f FlowId) Transport() Transport { return f.transport }

// Endpoint returns the endpoint at position dir (client or server).
func (f FlowId) Endpoint(dir Direction) Endpoint { return f.endpoints[dir] }

func (f FlowId) ClientEndpoint() Endpoint { return f.endpoints[FromClient] }

func (f FlowId) ServerEndpoint() Endpoint { return f.endpoints[FromServer] }

// Source returns the endpoint that sent the packet.
func (f FlowId) Source() Endpoint { return f.endpoints[f.direction] }

// Key returns the canonical identity, identical for both directions of a socket pair.
func (f FlowId) Key() Key {
	a, b := f.endpoints[0], f.endpoints[1]
	if b.less(a) {
		a, b = b, a
	}
	return Key{Low: a, High: b, Transport: f.transport}
}

// Equal reports whether both ids describe the same socket pair and transport.
func (f FlowId) Equal(o FlowId) bool {
	return f.Key() == o.Key()
}

// Hash is independent of the endpoint order.
func (f FlowId) Hash() uint64 {
	k := f.Key()
	h := fnv.New64a()
	for _, e := range []Endpoint{k.Low, k.High} {
		b, _ := e.Addr.MarshalBinary()
		h.Write(b)
		h.Write([]byte{byte(e.Port >> 8), byte(e.Port)})
	}
	h.Write([]byte{byte(k.Transport)})
	return h.Sum64()
}

// String renders "client -> server".
func (f FlowId) String() string {
	return fmt.Sprintf("%s -> %s", f.endpoints[FromClient], f.endpoints[FromServer])
}
