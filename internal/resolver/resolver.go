package resolver

import (
	"fmt"
	"net/netip"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	psnet "github.com/shirou/gopsutil/v3/net"
	log "github.com/sirupsen/logrus"
)

// Cache maps server addresses to the last name a DNS answer gave them.
// It is safe for concurrent use.
type Cache struct {
	names *lru.Cache[netip.Addr, string]
}

// New creates a cache holding at most size addresses.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = 65536
	}
	names, err := lru.New[netip.Addr, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}
	return &Cache{names: names}, nil
}

// LookupName returns the name of ip, if one was seen.
func (c *Cache) LookupName(ip netip.Addr) (string, bool) {
	return c.names.Get(ip.Unmap())
}

// AddName records name for ip. The trailing root dot is dropped.
func (c *Cache) AddName(ip netip.Addr, name string) {
	name = strings.TrimSuffix(name, ".")
	if name == "" || !ip.IsValid() {
		return
	}
	if prev, ok := c.names.Peek(ip.Unmap()); !ok || prev != name {
		log.WithFields(log.Fields{"ip": ip, "name": name}).Debug("resolver: new name")
	}
	c.names.Add(ip.Unmap(), name)
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	return c.names.Len()
}

// Entries returns a copy of the cache content.
func (c *Cache) Entries() map[string]string {
	out := make(map[string]string, c.names.Len())
	for _, ip := range c.names.Keys() {
		if name, ok := c.names.Peek(ip); ok {
			out[ip.String()] = name
		}
	}
	return out
}

// LocalAddresses lists the addresses of every interface of the host.
func LocalAddresses() ([]netip.Addr, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var addrs []netip.Addr
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			if addr, ok := parseInterfaceAddr(a.Addr); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs, nil
}

// parseInterfaceAddr accepts both "10.0.0.1/24" and bare addresses.
func parseInterfaceAddr(s string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}
