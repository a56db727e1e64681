package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from one goroutine.
// Publish never blocks the request path on the broker.
type Producer struct {
	w       messageWriter
	inbox   chan kafka.Message
	quit    chan struct{}
	closeCh chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// NewProducer builds a writer without a fixed topic; every message carries its own.
func NewProducer(brokers []string, buf int, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newProducer(w, buf, logger)
}

func newProducer(w messageWriter, buf int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		quit:    make(chan struct{}),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Start runs the write loop until Close is called or ctx is done. Either
// way the messages already buffered are flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer func() {
			if err := p.w.Close(); err != nil {
				p.logger.Error("kafka writer close", "err", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case <-p.quit:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error("kafka publish failed", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

// Publish enqueues a message; it waits for buffer space unless the producer
// is closing, in which case the message is dropped with a warning.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.quit:
		p.logger.Warn("kafka producer closed, dropping message", "topic", topic, "key", string(key))
		return
	default:
	}
	select {
	case p.inbox <- m:
	case <-p.quit:
		p.logger.Warn("kafka producer closed, dropping message", "topic", topic, "key", string(key))
	}
}

// Close stops accepting messages; the loop flushes the buffer and exits. Aman dipanggil berkali-kali.
func (p *Producer) Close() { p.once.Do(func() { close(p.quit) }) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
