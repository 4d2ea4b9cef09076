package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/outbound-call-queue/internal/config"
)

// Kafka aggregates helpers for interacting with Kafka.
type Kafka struct {
	cfg config.KafkaConfig
}

// NewKafka initializes the Kafka helper.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Kafka{cfg: cfg}, nil
}

// NewWriter creates a kafka writer for a specific topic. Outcome events are keyed
// by queue entry so every attempt of one entry lands on the same partition.
func (k *Kafka) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
}

// NewReader creates a kafka reader for a topic.
func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1,
		MaxBytes:       10e6,
		Dialer:         k.dialer(),
	})
}

func (k *Kafka) dialer() *kafka.Dialer {
	return &kafka.Dialer{Timeout: 10 * time.Second, ClientID: k.cfg.ClientID}
}

// EnsureOutcomeTopic creates the outcome topic on the cluster controller when it is
// missing. Brokers are tried in order until one answers.
func (k *Kafka) EnsureOutcomeTopic(ctx context.Context) error {
	partitions := k.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	var lastErr error
	for _, broker := range k.cfg.Brokers {
		err := k.createTopic(ctx, broker, kafka.TopicConfig{
			Topic:             k.cfg.OutcomeTopic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka: ensure topic %s: %w", k.cfg.OutcomeTopic, lastErr)
}

func (k *Kafka) createTopic(ctx context.Context, broker string, topic kafka.TopicConfig) error {
	conn, err := k.dialer().DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(topic.Topic); err == nil {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := k.dialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	if err := ctrl.CreateTopics(topic); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}
