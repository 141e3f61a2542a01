package alerter

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (n *recordingNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return n.err
}

func tcpSnapshot(at time.Duration, ctP99 string) *model.Snapshot {
	key := flow.TCPKey("www.example.com", netip.MustParseAddr("93.184.216.34"), 443)
	return &model.Snapshot{
		Collector: "tcp",
		Timestamp: t0.Add(at),
		Duration:  1,
		Records: []model.Record{
			{Key: key, Client: map[string]string{"CT_P99": ctP99, "PKTS": "1.5K"}, Server: map[string]string{"PKTS": "3"}},
			{Key: flow.TotalKey(), Client: map[string]string{"CT_P99": "1ms"}, Server: map[string]string{}},
		},
	}
}

func rules(rs ...config.AlerterRule) config.AlerterConfig {
	return config.AlerterConfig{Cooldown: "1m", Rules: rs}
}

func TestNewAlerter_Validation(t *testing.T) {
	for name, r := range map[string]config.AlerterRule{
		"no collector": {Name: "a", Field: "PKTS", Operator: ">"},
		"bad field":    {Name: "a", Collector: "tcp", Field: "NOPE", Operator: ">"},
		"bad operator": {Name: "a", Collector: "tcp", Field: "PKTS", Operator: "~"},
		"bad dir":      {Name: "a", Collector: "tcp", Field: "PKTS", Operator: ">", Direction: "up"},
	} {
		_, err := NewAlerter(rules(r), nil)
		assert.Error(t, err, name)
	}
}

func TestAlerter_EvaluateThresholds(t *testing.T) {
	a, err := NewAlerter(rules(
		config.AlerterRule{Name: "slow", Collector: "tcp", Field: "ct_p99", Operator: ">", Threshold: 500},
		config.AlerterRule{Name: "busy", Collector: "tcp", Field: "PKTS", Operator: ">=", Threshold: 1000, Fqdn: "www.example.com"},
		config.AlerterRule{Name: "quiet-srv", Collector: "tcp", Field: "PKTS", Direction: "srv", Operator: "<", Threshold: 5},
		config.AlerterRule{Name: "other", Collector: "dns", Field: "REQ", Operator: ">", Threshold: 0},
	), nil)
	require.NoError(t, err)

	alerts := a.Evaluate([]*model.Snapshot{tcpSnapshot(0, "700ms")})
	require.Len(t, alerts, 3)
	assert.Equal(t, "slow", alerts[0].Rule)
	assert.Equal(t, "700ms", alerts[0].Observed)
	assert.Equal(t, "www.example.com/93.184.216.34:443", alerts[0].Record)
	assert.Equal(t, "busy", alerts[1].Rule)
	assert.Equal(t, "quiet-srv", alerts[2].Rule)
}

func TestAlerter_Cooldown(t *testing.T) {
	a, err := NewAlerter(rules(config.AlerterRule{Name: "slow", Collector: "tcp", Field: "CT_P99", Operator: ">", Threshold: 500}), nil)
	require.NoError(t, err)

	assert.Len(t, a.Evaluate([]*model.Snapshot{tcpSnapshot(0, "700ms")}), 1)
	assert.Empty(t, a.Evaluate([]*model.Snapshot{tcpSnapshot(30*time.Second, "900ms")}))
	assert.Len(t, a.Evaluate([]*model.Snapshot{tcpSnapshot(61*time.Second, "900ms")}), 1)
	assert.Empty(t, a.Evaluate([]*model.Snapshot{tcpSnapshot(200*time.Second, "20ms")}))
}

func TestAlerter_CheckNotifies(t *testing.T) {
	n := &recordingNotifier{}
	a, err := NewAlerter(rules(config.AlerterRule{Name: "slow<1>", Collector: "tcp", Field: "CT_P99", Operator: ">", Threshold: 500}), n)
	require.NoError(t, err)
	a.Start()

	a.Check([]*model.Snapshot{tcpSnapshot(0, "20ms")})
	a.Check([]*model.Snapshot{tcpSnapshot(time.Second, "700ms")})
	a.Stop()

	require.Len(t, n.bodies, 1)
	assert.Contains(t, n.bodies[0], "slow&lt;1&gt;")
	assert.Contains(t, n.bodies[0], "CT_P99 &gt; 500")
}

func TestAlerter_NotifierErrorIsLogged(t *testing.T) {
	n := &recordingNotifier{err: errors.New("relay down")}
	a, err := NewAlerter(rules(config.AlerterRule{Name: "slow", Collector: "tcp", Field: "CT_P99", Operator: ">", Threshold: 1}), n)
	require.NoError(t, err)
	a.Start()
	a.Check([]*model.Snapshot{tcpSnapshot(0, "700ms")})
	a.Stop()
	assert.Len(t, n.bodies, 1)
}
