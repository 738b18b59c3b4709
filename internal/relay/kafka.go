// Package relay forwards bus signals to external systems. Relays are
// optional and best effort: a failed delivery is logged, never returned to
// the operation that produced the signal.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/roadmap/internal/bus"
)

// KafkaConfig configures the Kafka relay.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Source is stamped into every envelope, e.g. the project name.
	Source string
}

// writer is the part of *kafka.Writer the sink uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for each signal.
type Envelope struct {
	Type    string      `json:"type"`
	Source  string      `json:"source,omitempty"`
	Payload *bus.Signal `json:"payload"`
}

// KafkaSink publishes signals as JSON envelopes keyed by the referenced
// entity, so all signals about one entity land on one partition.
type KafkaSink struct {
	w      writer
	source string
	log    *slog.Logger
}

// NewKafkaSink builds a sink over a kafka-go writer.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka relay: no brokers configured")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("kafka relay: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, cfg.Source, logger), nil
}

func newKafkaSink(w writer, source string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{w: w, source: source, log: logger}
}

// Handle writes one signal. Its signature matches bus.Subscribe.
func (k *KafkaSink) Handle(ctx context.Context, sig *bus.Signal) {
	if err := k.Send(ctx, sig); err != nil {
		k.log.Warn("kafka relay failed", "kind", sig.Kind, "error", err)
	}
}

// Send writes one signal and reports the error.
func (k *KafkaSink) Send(ctx context.Context, sig *bus.Signal) error {
	value, err := json.Marshal(Envelope{Type: sig.Kind, Source: k.source, Payload: sig})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(sig)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(sig.Kind)},
		},
		Time: sig.Timestamp,
	}
	if sig.Severity != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "severity", Value: []byte(sig.Severity)})
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}

func messageKey(sig *bus.Signal) string {
	if sig.RefKind == "" {
		return sig.Kind
	}
	return sig.RefKind + ":" + sig.RefID
}
