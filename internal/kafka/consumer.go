package kafka

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil once the message is processed. An error is retried
// with backoff; after the last attempt the message is logged and skipped.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	defaultAttempts = 5
	defaultBackoff  = 500 * time.Millisecond
)

// Consumer reads a consumer group with a fixed pool of workers. Every
// partition is pinned to one worker, so messages of a partition are handled
// in order and an offset is committed only after everything before it on
// that partition is done.
type Consumer struct {
	r        *kafka.Reader
	workers  int
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:        r,
		workers:  workers,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		log:      log.With().Str("component", "kafka-consumer").Logger(),
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup

	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			log := c.log.With().Int("worker", id).Logger()
			for m := range in {
				if err := handle(ctx, h, m, c.attempts, c.backoff, log); err != nil {
					if ctx.Err() != nil {
						// shutting down: leave the offset for the next owner
						return
					}
					log.Error().Err(err).Str("topic", m.Topic).Int("partition", m.Partition).
						Int64("offset", m.Offset).Int("attempts", c.attempts).Msg("handler gave up, message skipped")
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					log.Error().Err(err).Msg("commit failed")
				}
			}
		}(i, jobs[i])
	}

	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// quiet on shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[worker(m, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// worker maps a topic partition to a fixed worker index.
func worker(m kafka.Message, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(m.Topic))
	_, _ = h.Write([]byte(strconv.Itoa(m.Partition)))
	return int(h.Sum32() % uint32(n))
}

// handle runs h until it succeeds, attempts run out or ctx ends.
func handle(ctx context.Context, h Handler, m kafka.Message, attempts int, backoff time.Duration, log zerolog.Logger) error {
	var err error
	wait := backoff
	for i := 1; i <= attempts; i++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Int("attempt", i).Msg("handler failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
	return err
}
