package probe

import (
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// SnapshotHandler processes one received snapshot.
type SnapshotHandler func(env *Envelope)

// Subscriber receives snapshots published by Publisher.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber. An empty collector name
// subscribes to every collector.
func NewSubscriber(url, subject, collector string) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	log.Printf("Connected to NATS server at %s", url)
	if collector == "" {
		collector = "*"
	}
	return &Subscriber{nc: nc, subject: Subject(subject, collector)}, nil
}

// Start subscribes and hands every decoded snapshot to handler.
func (s *Subscriber) Start(handler SnapshotHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		env, err := DecodeSnapshot(msg.Data)
		if err != nil {
			log.Printf("Error decoding snapshot on %s: %v", msg.Subject, err)
			return
		}
		handler(env)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for snapshots...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
