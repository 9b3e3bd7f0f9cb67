// Package persist moves completed records off the request path: a bounded
// queue with a single consumer writing to a Sink.
package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

var (
	ErrQueueFull   = errors.New("persist: queue full, record dropped")
	ErrQueueClosed = errors.New("persist: queue closed")
)

const (
	DefaultCapacity     = 100
	DefaultWriteTimeout = 10 * time.Second
)

type Stats struct {
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Submitted uint64 `json:"submitted"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Discarded uint64 `json:"discarded"`
}

type Option func(*Queue)

// WithWriteTimeout bounds each Sink.Write call. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(q *Queue) { q.writeTimeout = d }
}

// Queue is a bounded FIFO of records drained by exactly one consumer.
// Submit never blocks: when the queue is full the record is dropped.
type Queue struct {
	sink         Sink
	jobs         chan chat.Record
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool

	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	submitted atomic.Uint64
	written   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

var _ chat.Submitter = (*Queue)(nil)

func NewQueue(sink Sink, capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		sink:         sink,
		jobs:         make(chan chat.Record, capacity),
		writeTimeout: DefaultWriteTimeout,
		abort:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Submit enqueues rec without blocking.
func (q *Queue) Submit(rec chat.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- rec:
		q.submitted.Add(1)
		return nil
	default:
		n := q.dropped.Add(1)
		log.Warn().
			Str("component", "persist").
			Str("user_id", rec.UserID.String()).
			Str("chat_id", rec.ChatID.String()).
			Str("turn_id", rec.TurnID).
			Uint64("dropped_total", n).
			Msg("persistence queue full, record dropped")
		return ErrQueueFull
	}
}

// Start launches the consumer. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.consume()
}

func (q *Queue) consume() {
	defer close(q.done)
	log.Info().Str("component", "persist").Int("capacity", cap(q.jobs)).Msg("persistence consumer started")

	for rec := range q.jobs {
		select {
		case <-q.abort:
			q.discarded.Add(1)
			continue
		default:
		}
		q.write(rec)
	}

	log.Info().
		Str("component", "persist").
		Uint64("written", q.written.Load()).
		Uint64("failed", q.failed.Load()).
		Uint64("discarded", q.discarded.Load()).
		Msg("persistence consumer stopped")
}

func (q *Queue) write(rec chat.Record) {
	ctx := context.Background()
	if q.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.writeTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := q.sink.Write(ctx, rec); err != nil {
		q.failed.Add(1)
		log.Error().Err(err).
			Str("component", "persist").
			Str("user_id", rec.UserID.String()).
			Str("chat_id", rec.ChatID.String()).
			Str("turn_id", rec.TurnID).
			Dur("cost", time.Since(start)).
			Msg("persist record failed")
		return
	}
	q.written.Add(1)
}

// Shutdown stops intake and waits for the consumer to drain what is queued.
// If ctx ends first, the remaining records are discarded and ctx.Err() is
// returned once the consumer has stopped. A queue that was never started has
// its backlog discarded.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.jobs)
	if !q.started {
		q.started = true
		q.stopConsuming()
		go q.consume()
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
	}

	q.stopConsuming()
	<-q.done
	log.Warn().
		Str("component", "persist").
		Uint64("discarded", q.discarded.Load()).
		Msg("shutdown deadline reached, remaining records discarded")
	return ctx.Err()
}

// stopConsuming makes the consumer discard instead of write. An in-flight
// write still finishes, bounded by the write timeout.
func (q *Queue) stopConsuming() {
	q.abortOnce.Do(func() { close(q.abort) })
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		Submitted: q.submitted.Load(),
		Written:   q.written.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Discarded: q.discarded.Load(),
	}
}
