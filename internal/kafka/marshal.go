package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/segmentio/kafka-go"
	"strconv"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Bus publishes domain envelopes through a Producer, one topic per event family.
type Bus struct {
	P *Producer
}

var _ rifa.Publisher = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, raffleID string, env rifa.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.P.Publish(ctx, kafka.Message{
		Topic: rifa.TopicFor(env.EventType),
		Key:   rifa.PartitionKey(raffleID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	})
}

func DecodeEnvelope(m kafka.Message) (rifa.Envelope, error) {
	var env rifa.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope (topic %s offset %d): %w", m.Topic, m.Offset, err)
	}
	return env, nil
}

// UnwrapPayload decodes the event-specific payload of an envelope.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
