// Package events carries notified-ride events between engine replicas.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/route-watch/internal/models"
)

const publishTimeout = 2 * time.Second

// NotifiedEvent is published once per recorded ride.
type NotifiedEvent struct {
	EventID    string              `json:"event_id"`
	CycleID    string              `json:"cycle_id"`
	OccurredAt time.Time           `json:"occurred_at"`
	Ride       models.NotifiedRide `json:"ride"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
}

// NewKafkaProducer writes to topic, hashing on the ride ID so every event
// for a ride lands on the same partition.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishNotified(ctx context.Context, cycleID string, ride models.NotifiedRide) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	b, err := json.Marshal(NotifiedEvent{
		EventID:    uuid.NewString(),
		CycleID:    cycleID,
		OccurredAt: time.Now().UTC(),
		Ride:       ride,
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ride.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message value produced by PublishNotified.
func Decode(value []byte) (NotifiedEvent, error) {
	var ev NotifiedEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return NotifiedEvent{}, err
	}
	return ev, nil
}
