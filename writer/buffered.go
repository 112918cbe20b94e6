package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pythagoras/internal/metrics"
	"pythagoras/logger"
	"pythagoras/models"
)

var (
	ErrQueueFull  = errors.New("sink queue full")
	ErrSinkClosed = errors.New("sink closed")
)

// Buffered decouples a sink from the dispatch loop with a bounded queue and
// a single worker, so messages reach the sink in arrival order. When the
// queue is full the message is dropped for this sink only.
type Buffered struct {
	sink    Sink
	queue   chan models.PushMessage
	metrics *metrics.Metrics
	log     *logger.Entry

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBuffered starts the worker for sink with room for size queued messages.
func NewBuffered(sink Sink, size int, m *metrics.Metrics, log *logger.Log) *Buffered {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffered{
		sink:    sink,
		queue:   make(chan models.PushMessage, size),
		metrics: m,
		log:     log.WithComponent("buffered_sink").WithFields(logger.Fields{"sink": sink.Name()}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// WrapBuffered wraps every sink, keeping their order.
func WrapBuffered(sinks []Sink, size int, m *metrics.Metrics, log *logger.Log) []Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, NewBuffered(s, size, m, log))
	}
	return out
}

func (b *Buffered) Name() string { return b.sink.Name() }

// Write enqueues msg without blocking.
func (b *Buffered) Write(_ context.Context, msg models.PushMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrSinkClosed
	}

	select {
	case b.queue <- msg:
		return nil
	default:
		b.metrics.SinkDrop(b.sink.Name())
		b.log.WithFields(logger.Fields{
			"instrument": msg.Subscription().InstrumentID,
			"queue_cap":  cap(b.queue),
		}).Warn("sink queue full, dropping message")
		return fmt.Errorf("%w: %s", ErrQueueFull, b.sink.Name())
	}
}

func (b *Buffered) run() {
	defer close(b.done)
	for msg := range b.queue {
		if err := b.write(msg); err != nil {
			b.metrics.SinkFailure(b.sink.Name())
			b.log.WithError(err).Warn("sink write failed")
		}
	}
}

func (b *Buffered) write(msg models.PushMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.sink.Write(b.ctx, msg)
}

// Close stops accepting messages and drains the queue into the sink. If ctx
// expires first, the in-flight write is cancelled and the rest are dropped.
func (b *Buffered) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	var drainErr error
	select {
	case <-b.done:
	case <-ctx.Done():
		b.cancel()
		<-b.done
		drainErr = fmt.Errorf("drain %s: %w", b.sink.Name(), ctx.Err())
	}
	b.cancel()

	return errors.Join(drainErr, b.sink.Close(ctx))
}
