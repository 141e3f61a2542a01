package writer

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/multierr"
)

// StatsdName is the registry name of the statsd writer.
const StatsdName = "statsd"

func init() {
	factory.RegisterWriter(StatsdName, func(cfg config.WriterConfig) (model.Writer, error) {
		return NewStatsdWriter(cfg.Statsd)
	})
}

// StatsdWriter sends snapshot metrics to a DogStatsD agent.
type StatsdWriter struct {
	client statsd.ClientInterface
}

// NewStatsdWriter creates the client. Metrics are buffered into
// MTU-sized datagrams and flushed after every snapshot.
func NewStatsdWriter(cfg config.StatsdConfig) (*StatsdWriter, error) {
	client, err := statsd.New(cfg.Addr,
		statsd.WithNamespace(cfg.Prefix),
		statsd.WithoutClientSideAggregation(),
		statsd.WithoutTelemetry(),
		statsd.WithoutOriginDetection(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client for %s: %w", cfg.Addr, err)
	}
	return NewStatsdWriterWithClient(client), nil
}

// NewStatsdWriterWithClient wraps an existing client.
func NewStatsdWriterWithClient(client statsd.ClientInterface) *StatsdWriter {
	return &StatsdWriter{client: client}
}

func (w *StatsdWriter) Name() string { return StatsdName }

// Write sends every metric of the snapshot and flushes the buffer.
func (w *StatsdWriter) Write(s *model.Snapshot) error {
	var err error
	for _, m := range s.Metrics {
		err = multierr.Append(err, w.send(m))
	}
	if ferr := w.client.Flush(); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to flush statsd buffer: %w", ferr))
	}
	return err
}

func (w *StatsdWriter) send(m model.Metric) error {
	tags := Tags(m.Tags)
	rate := m.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	switch m.Kind {
	case model.Counter:
		return w.client.Count(m.Name, int64(m.Value), tags, rate)
	case model.Gauge:
		return w.client.Gauge(m.Name, m.Value, tags, rate)
	case model.Histogram:
		return w.client.Histogram(m.Name, m.Value, tags, rate)
	}
	return fmt.Errorf("unknown metric kind %d for %s", m.Kind, m.Name)
}

func (w *StatsdWriter) Close() error {
	return w.client.Close()
}

// Tags renders metric tags in the key:value form DogStatsD expects.
func Tags(tags []model.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Key + ":" + t.Value
	}
	return out
}
