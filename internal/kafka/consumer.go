package kafka

import (
	"context"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"sync"
	"time"
)

// Handler returns nil only when the message is fully processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to a worker pool. Every partition is pinned to
// one worker so its messages are handled and committed in offset order. A
// failing message is retried with backoff and blocks its partition until it
// succeeds: a commit always means every earlier offset was handled.
type Consumer struct {
	r       messageReader
	workers int
	log     *logrus.Entry

	RetryBase time.Duration
	RetryMax  time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *logrus.Entry) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual, synchronous commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *logrus.Entry) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		log:       log,
		RetryBase: 200 * time.Millisecond,
		RetryMax:  30 * time.Second,
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					return // shutting down
				}
			}
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds, then commits. It reports false only when
// ctx ends first; the message is then left uncommitted for the next owner.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.RetryBase
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"topic": m.Topic, "partition": m.Partition, "offset": m.Offset, "attempt": attempt,
		}).Error("handler failed; retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
		if wait *= 2; wait > c.RetryMax {
			wait = c.RetryMax
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.WithError(err).Warn("commit failed")
	}
	return ctx.Err() == nil
}
