package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes chosen actions keyed by rover id, so every command
// for one rover lands on the same partition in order.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

type actionMessage struct {
	RoverID string        `json:"rover_id"`
	Action  model.Command `json:"action"`
	SentAt  time.Time     `json:"sent_at"`
}

func NewKafkaSink(cfg config.ActionsKafkaConfig) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: cfg.Topic,
	}
}

func (k *KafkaSink) Dispatch(ctx context.Context, roverID string, cmd model.Command) error {
	payload, err := json.Marshal(actionMessage{RoverID: roverID, Action: cmd, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(roverID), Value: payload}); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
