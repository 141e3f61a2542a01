package probe

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// WriterName is the registry name of the NATS snapshot writer.
const WriterName = "nats"

func init() {
	factory.RegisterWriter(WriterName, func(cfg config.WriterConfig) (model.Writer, error) {
		return NewPublisher(cfg.NATS)
	})
}

// AgentID identifies this process in every published snapshot.
var AgentID = uuid.NewString()

// Publisher publishes collector snapshots to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowspectra-"+AgentID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

func (p *Publisher) Name() string { return WriterName }

// Write serializes the snapshot to protobuf and publishes it on
// <subject>.<collector>.
func (p *Publisher) Write(s *model.Snapshot) error {
	data, err := EncodeSnapshot(AgentID, s)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.subject, s.Collector), data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	log.Println("NATS connection drained and closed.")
	return err
}

// Subject returns the subject a collector's snapshots are published on.
func Subject(base, collector string) string {
	return base + "." + collector
}
