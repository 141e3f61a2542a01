package collector

import (
	"net/netip"
	"time"

	"FlowSpectra/internal/engine/flow"
)

// Resolver maps server addresses to names. The DNS collector feeds it,
// the TCP and SSL collectors read it.
type Resolver interface {
	LookupName(ip netip.Addr) (string, bool)
	AddName(ip netip.Addr, name string)
}

// Settings are the runtime knobs shared by every protocol collector.
type Settings struct {
	// RetainFlows keeps closed flows in the live table until idle expiry.
	RetainFlows bool
	FlowTimeout time.Duration
	SynTimeout  time.Duration
	DNSTimeout  time.Duration
	TimeWait    time.Duration

	LocalAddresses []netip.Addr
	Resolver       Resolver
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		FlowTimeout: 5 * time.Minute,
		SynTimeout:  5 * time.Second,
		DNSTimeout:  5 * time.Second,
		TimeWait:    5 * time.Second,
	}
}

// WithDefaults fills zero durations from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.FlowTimeout <= 0 {
		s.FlowTimeout = d.FlowTimeout
	}
	if s.SynTimeout <= 0 {
		s.SynTimeout = d.SynTimeout
	}
	if s.DNSTimeout <= 0 {
		s.DNSTimeout = d.DNSTimeout
	}
	if s.TimeWait <= 0 {
		s.TimeWait = d.TimeWait
	}
	return s
}

// IsLocal reports whether ip is one of the configured local addresses.
func (s Settings) IsLocal(ip netip.Addr) bool {
	for _, a := range s.LocalAddresses {
		if a == ip {
			return true
		}
	}
	return false
}

// NameOf resolves ip, returning an empty string when unknown.
func (s Settings) NameOf(ip netip.Addr) string {
	if s.Resolver == nil {
		return ""
	}
	name, _ := s.Resolver.LookupName(ip)
	return name
}

// FlowIdOf builds the flow id of a packet. When both ports are equal the
// port heuristic cannot tell the server apart, so the local endpoint is
// taken as the client.
func (s Settings) FlowIdOf(src, dst flow.Endpoint, transport flow.Transport) flow.FlowId {
	id := flow.NewFlowId(src, dst, transport)
	if src.Port == dst.Port && s.IsLocal(dst.Addr) && !s.IsLocal(src.Addr) {
		id = id.Swapped()
	}
	return id
}

// DirectionOf returns the direction of a packet sent by src on a flow whose
// client endpoint is client.
func DirectionOf(client, src flow.Endpoint) flow.Direction {
	if src == client {
		return flow.FromClient
	}
	return flow.FromServer
}

// Millis returns the elapsed milliseconds between two capture timestamps.
func Millis(from, to time.Time) int {
	return int(to.Sub(from) / time.Millisecond)
}
