package flow

import (
	"cmp"
	"net/netip"
	"strconv"
)

const (
	// UnknownFqdn names destinations without a resolved name.
	UnknownFqdn = "Unknown"
	// TotalFqdn names the synthetic aggregate summing every destination.
	TotalFqdn = "Total"
)

// AggregatedKey identifies a logical destination. TCP and SSL collectors
// fill Fqdn, IP and Port; the DNS collector fills Fqdn, Type and Transport.
type AggregatedKey struct {
	Fqdn      string
	IP        netip.Addr
	Port      uint16
	Type      string
	Transport Transport
}

// TCPKey builds the key of a TCP or TLS destination.
func TCPKey(fqdn string, ip netip.Addr, port uint16) AggregatedKey {
	if fqdn == "" {
		fqdn = UnknownFqdn
	}
	return AggregatedKey{Fqdn: fqdn, IP: ip, Port: port, Transport: TCP}
}

// DNSKey builds the key of a DNS question.
func DNSKey(name, recordType string, transport Transport) AggregatedKey {
	if name == "" {
		name = UnknownFqdn
	}
	return AggregatedKey{Fqdn: name, Type: recordType, Transport: transport}
}

// TotalKey is the key of the synthetic Total aggregate.
func TotalKey() AggregatedKey {
	return AggregatedKey{Fqdn: TotalFqdn}
}

// IsTotal reports whether k is the Total aggregate key.
func (k AggregatedKey) IsTotal() bool {
	return k == TotalKey()
}

// Compare orders keys by name, then IP, then port, then record type and transport.
func (k AggregatedKey) Compare(o AggregatedKey) int {
	if c := cmp.Compare(k.Fqdn, o.Fqdn); c != 0 {
		return c
	}
	if c := k.IP.Compare(o.IP); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Port, o.Port); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Type, o.Type); c != 0 {
		return c
	}
	return cmp.Compare(k.Transport, o.Transport)
}

// IPString renders the IP or an empty string for keys without one.
func (k AggregatedKey) IPString() string {
	if !k.IP.IsValid() {
		return ""
	}
	return k.IP.String()
}

func (k AggregatedKey) PortString() string {
	return strconv.Itoa(int(k.Port))
}

func (k AggregatedKey) String() string {
	if k.Type != "" {
		return k.Fqdn + "/" + k.Type + "/" + k.Transport.String()
	}
	return k.Fqdn + "/" + netip.AddrPortFrom(k.IP, k.Port).String()
}
