package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          messageReader
	workers    int
	logger     *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration
	offsets    *offsets
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit via CommitMessages
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r messageReader, workers int, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		logger:     logger,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		offsets:    newOffsets(),
	}
}

// Start fetches messages and fans them out to the worker pool until ctx is
// done. A failed message is retried in place; per partition the committed
// offset never moves past a message that has not succeeded yet. It returns
// once every worker has exited.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.logger.Error("kafka reader close", "err", err)
		}
	}()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, id, h, m)
			}
		}(i)
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.offsets.fetched(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.logger.Error("kafka handler failed",
			"worker", worker, "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "attempt", attempt, "err", err)
		// ulangi di tempat; kalau shutdown, offset tetap tidak di-commit
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		wait = min(wait*2, c.maxBackoff)
	}
	c.offsets.done(m, func(upTo kafka.Message) {
		if err := c.r.CommitMessages(ctx, upTo); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "topic", upTo.Topic, "partition", upTo.Partition, "offset", upTo.Offset, "err", err)
		}
	})
}

// offsets tracks in-flight messages per partition so commits only cover a
// contiguous run of finished offsets.
type offsets struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []kafka.Message // fetch order, ascending offsets
	finished map[int64]bool
}

func newOffsets() *offsets { return &offsets{parts: map[int]*partitionOffsets{}} }

func (o *offsets) fetched(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.parts[m.Partition]
	if !ok {
		p = &partitionOffsets{finished: map[int64]bool{}}
		o.parts[m.Partition] = p
	}
	p.inflight = append(p.inflight, m)
}

// done marks m finished and calls commit with the highest message whose
// predecessors have all finished, if that advanced. commit runs under the
// lock so commits for a partition never go backwards.
func (o *offsets) done(m kafka.Message, commit func(upTo kafka.Message)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.parts[m.Partition]
	if !ok {
		return
	}
	p.finished[m.Offset] = true
	n := 0
	for n < len(p.inflight) && p.finished[p.inflight[n].Offset] {
		delete(p.finished, p.inflight[n].Offset)
		n++
	}
	if n == 0 {
		return
	}
	upTo := p.inflight[n-1]
	p.inflight = p.inflight[n:]
	commit(upTo)
}
