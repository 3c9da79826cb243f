package mq

import (
	"fmt"

	"coopcredit/internal/config"

	"github.com/IBM/sarama"
)

// Publisher is what the outbox sender needs from a broker.
type Publisher interface {
	SendMessage(topic, key, value string) error
	Close() error
}

// KafkaPublisher publishes outbox payloads with a synchronous producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// InitKafka creates the producer from config.
func InitKafka(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisher(producer), nil
}

// NewProducerConfig waits for all in-sync replicas: a credit event that the
// broker may lose must not be marked SENT in the outbox.
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	// member id is the message key: one member's events stay ordered
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return kafkaConfig
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
