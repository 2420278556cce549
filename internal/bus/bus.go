// Package bus wraps segmentio/kafka-go as the frame transport between
// the producer and consumer processes: one topic, keyed by
// "{robot_id}:{captured_at_ms}", snappy-compressed.
package bus

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/framebucket/framebucket/internal/ferrors"
)

// Writer publishes frames onto the configured topic. It implements the
// producer.Publisher interface without importing it, so neither package
// imports the other; cmd/producer wires the two together.
type Writer struct {
	w *kafka.Writer
}

// WriterConfig mirrors the kafka.* config section.
type WriterConfig struct {
	Brokers     []string
	Topic       string
	Compression string // "none", or "snappy" (also used when empty or unrecognised)
}

// NewWriter builds a Writer. Compression defaults to snappy per spec.
func NewWriter(cfg WriterConfig) *Writer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	switch cfg.Compression {
	case "", "snappy":
		w.Compression = kafka.Snappy
	case "none":
	default:
		w.Compression = kafka.Snappy
	}
	return &Writer{w: w}
}

// Publish implements producer.Publisher.
func (w *Writer) Publish(ctx context.Context, key string, value []byte) error {
	err := w.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return ferrors.Wrap(ferrors.BusConsume, fmt.Errorf("publish: %w", err))
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (w *Writer) Close() error { return w.w.Close() }

// ReaderConfig mirrors the kafka.* config section, from the consumer side.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Reader consumes frames published by one or more producers.
type Reader struct {
	r *kafka.Reader
}

// NewReader builds a consumer-group Reader.
func NewReader(cfg ReaderConfig) *Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &Reader{r: r}
}

// Message is one decoded bus record.
type Message struct {
	Key   string
	Value []byte
}

// ReadMessage blocks for the next message, or returns ctx.Err() on
// cancellation.
func (r *Reader) ReadMessage(ctx context.Context) (Message, error) {
	msg, err := r.r.ReadMessage(ctx)
	if err != nil {
		return Message{}, ferrors.Wrap(ferrors.BusConsume, fmt.Errorf("read message: %w", err))
	}
	return Message{Key: string(msg.Key), Value: msg.Value}, nil
}

// Close closes the underlying reader, stopping its consumer-group session.
func (r *Reader) Close() error { return r.r.Close() }
