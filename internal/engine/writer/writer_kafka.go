package writer

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"errors"
	"fmt"
	"strings"

	sarama "github.com/Shopify/sarama"
)

// KafkaName is the registry name of the Kafka writer.
const KafkaName = "kafka"

var compressionCodecs = map[string]sarama.CompressionCodec{
	strings.ToLower(sarama.CompressionNone.String()):   sarama.CompressionNone,
	strings.ToLower(sarama.CompressionGZIP.String()):   sarama.CompressionGZIP,
	strings.ToLower(sarama.CompressionSnappy.String()): sarama.CompressionSnappy,
	strings.ToLower(sarama.CompressionLZ4.String()):    sarama.CompressionLZ4,
	strings.ToLower(sarama.CompressionZSTD.String()):   sarama.CompressionZSTD,
}

func init() {
	factory.RegisterWriter(KafkaName, func(cfg config.WriterConfig) (model.Writer, error) {
		return NewKafkaWriter(cfg.Kafka)
	})
}

// KafkaWriter produces one message per snapshot, keyed by collector name.
type KafkaWriter struct {
	producer sarama.SyncProducer
	topic    string
}

// KafkaConfig builds the producer configuration.
func KafkaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	kafkaConfig := sarama.NewConfig()
	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		kafkaConfig.Version = version
	}
	if cfg.Compression != "" {
		cc, ok := compressionCodecs[strings.ToLower(cfg.Compression)]
		if !ok {
			return nil, errors.New("compression codec does not exist")
		}
		kafkaConfig.Producer.Compression = cc
	}
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.ClientID = "flowspectra"
	return kafkaConfig, nil
}

// NewKafkaWriter connects a synchronous producer to the brokers.
func NewKafkaWriter(cfg config.KafkaConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka writer needs brokers and a topic")
	}
	kafkaConfig, err := KafkaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaWriterWithProducer(producer, cfg.Topic), nil
}

// NewKafkaWriterWithProducer wraps an existing producer.
func NewKafkaWriterWithProducer(producer sarama.SyncProducer, topic string) *KafkaWriter {
	return &KafkaWriter{producer: producer, topic: topic}
}

func (w *KafkaWriter) Name() string { return KafkaName }

// Write sends the protobuf encoded snapshot.
func (w *KafkaWriter) Write(s *model.Snapshot) error {
	data, err := probe.EncodeSnapshot(probe.AgentID, s)
	if err != nil {
		return err
	}
	_, _, err = w.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     w.topic,
		Key:       sarama.StringEncoder(s.Collector),
		Value:     sarama.ByteEncoder(data),
		Timestamp: s.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to produce snapshot: %w", err)
	}
	return nil
}

func (w *KafkaWriter) Close() error {
	return w.producer.Close()
}
