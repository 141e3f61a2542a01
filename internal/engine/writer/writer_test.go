package writer

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srtMetric(value float64) model.Metric {
	return model.Metric{
		Name:       "tcp.srt",
		Value:      value,
		Kind:       model.Histogram,
		SampleRate: 1,
		Tags:       []model.Tag{{Key: "fqdn", Value: "www.example.com"}, {Key: "ip", Value: "10.0.0.2"}, {Key: "port", Value: "80"}},
	}
}

type sent struct {
	kind  string
	name  string
	value float64
	tags  []string
	rate  float64
}

type recordingClient struct {
	*statsd.NoOpClient
	sent    []sent
	flushes int
	closed  bool
}

func (c *recordingClient) Count(name string, value int64, tags []string, rate float64) error {
	c.sent = append(c.sent, sent{"c", name, float64(value), tags, rate})
	return nil
}

func (c *recordingClient) Gauge(name string, value float64, tags []string, rate float64) error {
	c.sent = append(c.sent, sent{"g", name, value, tags, rate})
	return nil
}

func (c *recordingClient) Histogram(name string, value float64, tags []string, rate float64) error {
	c.sent = append(c.sent, sent{"h", name, value, tags, rate})
	return nil
}

func (c *recordingClient) Flush() error {
	c.flushes++
	return nil
}

func (c *recordingClient) Close() error {
	c.closed = true
	return nil
}

func TestStatsdWriter_MapsKinds(t *testing.T) {
	c := &recordingClient{NoOpClient: &statsd.NoOpClient{}}
	w := NewStatsdWriterWithClient(c)

	snap := &model.Snapshot{Collector: "dns", Metrics: []model.Metric{
		srtMetric(2),
		{Name: "dns.requests", Value: 12, Kind: model.Counter, SampleRate: 0.5},
		{Name: "tcp.activeConnections", Value: 3, Kind: model.Gauge},
	}}
	require.NoError(t, w.Write(snap))

	require.Len(t, c.sent, 3)
	assert.Equal(t, sent{"h", "tcp.srt", 2, []string{"fqdn:www.example.com", "ip:10.0.0.2", "port:80"}, 1}, c.sent[0])
	assert.Equal(t, sent{"c", "dns.requests", 12, nil, 0.5}, c.sent[1])
	assert.Equal(t, sent{"g", "tcp.activeConnections", 3, nil, 1}, c.sent[2])
	assert.Equal(t, 1, c.flushes)

	err := w.Write(&model.Snapshot{Metrics: []model.Metric{{Name: "x", Kind: model.MetricKind(9)}}})
	assert.ErrorContains(t, err, "unknown metric kind")

	require.NoError(t, w.Close())
	assert.True(t, c.closed)
}

func TestStatsdWriter_Write(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	w, err := NewStatsdWriter(config.StatsdConfig{Addr: pc.LocalAddr().String(), Prefix: "fs"})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(&model.Snapshot{Collector: "tcp", Metrics: []model.Metric{srtMetric(7)}}))

	buf := make([]byte, 2048)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "fs.tcp.srt:7|h|#fqdn:www.example.com,ip:10.0.0.2,port:80"), string(buf[:n]))
}

func TestKafkaWriter_Write(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		env, err := probe.DecodeSnapshot(val)
		if err != nil {
			return err
		}
		assert.Equal(t, "dns", env.Snapshot.Collector)
		assert.Equal(t, probe.AgentID, env.Agent)
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	w := NewKafkaWriterWithProducer(producer, "flowspectra")
	snap := &model.Snapshot{Collector: "dns", Timestamp: time.Now(), Duration: 1}
	assert.NoError(t, w.Write(snap))
	assert.ErrorIs(t, w.Write(snap), sarama.ErrOutOfBrokers)
	assert.NoError(t, w.Close())
}

func TestKafkaConfig(t *testing.T) {
	cfg, err := KafkaConfig(config.KafkaConfig{Version: "2.8.0", Compression: "LZ4"})
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Return.Successes)

	_, err = KafkaConfig(config.KafkaConfig{Compression: "brotli"})
	assert.Error(t, err)
	_, err = KafkaConfig(config.KafkaConfig{Version: "not-a-version"})
	assert.Error(t, err)

	_, err = NewKafkaWriter(config.KafkaConfig{})
	assert.ErrorContains(t, err, "brokers")
}

func TestClickHouseRows(t *testing.T) {
	r := model.Record{
		Key:    flow.TCPKey("a.example.com", netip.MustParseAddr("10.0.0.2"), 443),
		Client: map[string]string{"CONN": "1"},
	}
	rows := Rows(r)
	require.Len(t, rows, 1)
	assert.Equal(t, "clt", rows[0].Direction)

	r.Server = map[string]string{"PKTS": "4"}
	assert.Len(t, Rows(r), 2)
}

func TestTableName(t *testing.T) {
	name, err := TableName(config.ClickHouseConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, name)

	_, err = TableName(config.ClickHouseConfig{Table: "records; DROP TABLE x"})
	assert.Error(t, err)
}
