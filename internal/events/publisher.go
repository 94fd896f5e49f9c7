// Package events publishes transaction lifecycle events to Kafka so
// downstream consumers can observe confirmed and failed transactions
// without polling chain state.
package events

import (
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/pkg/logging"
)

const (
	confirmedTopic = "agentd.tx.confirmed"
	failedTopic    = "agentd.tx.failed"
)

// Event is the JSON envelope published for every lifecycle event.
type Event struct {
	TxID      string         `json:"tx_id"`
	Signer    string         `json:"signer"`
	Nonce     uint64         `json:"nonce"`
	Effect    backend.Effect `json:"effect"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher publishes transaction events to Kafka. It implements the
// transaction queue's event sink and must never block the queue worker:
// produces are asynchronous and delivery failures are only logged.
type Publisher struct {
	producer *kafka.Producer
	logger   *logging.Logger
}

// NewPublisher creates a Kafka-backed event publisher.
func NewPublisher(brokers string, logger *logging.Logger) (*Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		producer: producer,
		logger:   logger.WithField("component", "events"),
	}
	go p.drainDeliveryReports()
	return p, nil
}

// TxConfirmed publishes a confirmation event.
func (p *Publisher) TxConfirmed(tx *backend.SignedTx, status *backend.TxStatus) {
	p.publish(confirmedTopic, Event{
		TxID:      tx.ID,
		Signer:    tx.Signer,
		Nonce:     tx.Nonce,
		Effect:    tx.Effect,
		Status:    string(backend.TxConfirmed),
		Timestamp: time.Now().Unix(),
	})
}

// TxFailed publishes a failure event with the rejection reason.
func (p *Publisher) TxFailed(tx *backend.SignedTx, reason string) {
	p.publish(failedTopic, Event{
		TxID:      tx.ID,
		Signer:    tx.Signer,
		Nonce:     tx.Nonce,
		Effect:    tx.Effect,
		Status:    string(backend.TxFailed),
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
}

func (p *Publisher) publish(topic string, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to serialize event", "topic", topic, "error", err)
		return
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.TxID),
		Value: value,
	}, nil)
	if err != nil {
		p.logger.Error("failed to publish event", "topic", topic, "tx", event.TxID, "error", err)
	}
}

// drainDeliveryReports consumes async delivery reports so the producer's
// event channel never fills up.
func (p *Publisher) drainDeliveryReports() {
	for e := range p.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			p.logger.Warn("event delivery failed",
				"topic", *m.TopicPartition.Topic,
				"error", m.TopicPartition.Error)
		}
	}
}

// Close flushes outstanding produces and shuts the producer down.
func (p *Publisher) Close() {
	p.producer.Flush(15 * 1000)
	p.producer.Close()
}
