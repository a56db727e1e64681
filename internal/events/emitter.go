package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Sink accepts encoded messages; *kafka.Producer is the production one.
type Sink interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Emitter wraps payloads in an Envelope and hands them to a Sink.
// A nil *Emitter drops everything, which is how the service runs without Kafka.
type Emitter struct {
	sink     Sink
	producer string
	now      func() time.Time
}

func NewEmitter(sink Sink, producer string) *Emitter {
	return &Emitter{sink: sink, producer: producer, now: func() time.Time { return time.Now().UTC() }}
}

// Emit publishes payload on topic keyed by key. correlationID is usually the order id.
func (e *Emitter) Emit(topic, eventType, key, correlationID, traceID string, payload any) (Envelope, error) {
	if e == nil || e.sink == nil {
		return Envelope{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    e.now(),
		Producer:      e.producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	e.sink.Publish(topic, PartitionKey(key), b,
		kafkago.Header{Key: HeaderEventType, Value: []byte(eventType)},
		kafkago.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
	return env, nil
}

// Decode reads an envelope and, when the type matches, its payload.
// ok is false for other event types.
func Decode[T any](b []byte, eventType string) (env Envelope, payload T, ok bool, err error) {
	if err = json.Unmarshal(b, &env); err != nil {
		return env, payload, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != eventType {
		return env, payload, false, nil
	}
	if err = json.Unmarshal(env.Payload, &payload); err != nil {
		return env, payload, false, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return env, payload, true, nil
}
