package flow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ep(addr string, port uint16) Endpoint {
	return Endpoint{Addr: netip.MustParseAddr(addr), Port: port}
}

func TestFlowId_LowerPortIsServer(t *testing.T) {
	clt := ep("10.0.0.1", 43210)
	srv := ep("93.184.216.34", 80)

	fromClient := NewFlowId(clt, srv, TCP)
	fromServer := NewFlowId(srv, clt, TCP)

	assert.Equal(t, FromClient, fromClient.Direction())
	assert.Equal(t, FromServer, fromServer.Direction())
	assert.Equal(t, srv, fromClient.ServerEndpoint())
	assert.Equal(t, srv, fromServer.ServerEndpoint())
	assert.Equal(t, clt, fromServer.ClientEndpoint())
	assert.Equal(t, srv, fromServer.Source())
	assert.Equal(t, "10.0.0.1:43210 -> 93.184.216.34:80", fromServer.String())
}

func TestFlowId_EqualityIsOrderIndependent(t *testing.T) {
	a := ep("10.0.0.1", 5000)
	b := ep("10.0.0.2", 5000)

	ab := NewFlowId(a, b, UDP)
	ba := NewFlowId(b, a, UDP)

	// Equal ports keep first-seen order, so each packet sees its source as client.
	assert.Equal(t, a, ab.ClientEndpoint())
	assert.Equal(t, b, ba.ClientEndpoint())

	require.True(t, ab.Equal(ba))
	assert.Equal(t, ab.Key(), ba.Key())
	assert.Equal(t, ab.Hash(), ba.Hash())

	other := NewFlowId(a, b, TCP)
	assert.False(t, ab.Equal(other))
}

func TestFlowId_Swapped(t *testing.T) {
	a := ep("10.0.0.1", 5000)
	b := ep("10.0.0.2", 5000)

	id := NewFlowId(a, b, UDP).Swapped()
	assert.Equal(t, b, id.ClientEndpoint())
	assert.Equal(t, FromServer, id.Direction())
	assert.Equal(t, a, id.Source())
	assert.True(t, id.Equal(NewFlowId(a, b, UDP)))
}

func TestFlowId_IPv6(t *testing.T) {
	clt := ep("2001:db8::1", 51000)
	srv := ep("2a00:1450:4007:80c::200e", 443)
	id := NewFlowId(clt, srv, TCP)
	assert.Equal(t, srv, id.ServerEndpoint())
	assert.Equal(t, id.Key(), NewFlowId(srv, clt, TCP).Key())
}

func TestAggregatedKey_Compare(t *testing.T) {
	ip1 := netip.MustParseAddr("10.0.0.1")
	ip2 := netip.MustParseAddr("10.0.0.2")

	assert.Negative(t, TCPKey("a.com", ip2, 80).Compare(TCPKey("b.com", ip1, 80)))
	assert.Negative(t, TCPKey("a.com", ip1, 443).Compare(TCPKey("a.com", ip2, 80)))
	assert.Negative(t, TCPKey("a.com", ip1, 80).Compare(TCPKey("a.com", ip1, 443)))
	assert.Zero(t, TCPKey("", ip1, 80).Compare(TCPKey(UnknownFqdn, ip1, 80)))
	assert.True(t, TotalKey().IsTotal())
	assert.Equal(t, "google.fr/AAAA/udp", DNSKey("google.fr", "AAAA", UDP).String())
}

func TestParseField(t *testing.T) {
	f, err := ParseField("srt_p99")
	require.NoError(t, err)
	assert.Equal(t, FieldSrtP99, f)

	_, err = ParseField("nope")
	assert.Error(t, err)

	assert.Equal(t, "FQDN", FieldFqdn.String())
	assert.Len(t, FieldActiveConnections.Header(), len("ACTIVE_CONNECTIONS")+1)
	assert.Equal(t, "ab  ", Pad("ab", 4))
	assert.Equal(t, "abc", Pad("abcdef", 3))
}
