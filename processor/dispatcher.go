package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pythagoras/internal/metrics"
	"pythagoras/logger"
	"pythagoras/models"
	"pythagoras/reader/okx"
	"pythagoras/writer"
)

// State is the dispatcher's position in its loop.
type State int32

const (
	StateSubscribing State = iota
	StateListening
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Feed is the part of okx.Feed the dispatcher drives.
type Feed interface {
	Subscribe(ctx context.Context, instrumentID string) error
	Receive() (okx.Frame, error)
	Close() error
	Endpoint() string
}

// FatalError ends a Run when the feed connection cannot be used any more.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("feed connection lost: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

type Options struct {
	Instruments []string
	// MaxConsecutiveErrors turns a run of recoverable read errors into a
	// fatal one. Zero means no limit.
	MaxConsecutiveErrors int
}

// Dispatcher subscribes the feed to every instrument, then reads frames and
// fans each parsed message out to all sinks in order.
type Dispatcher struct {
	feed    Feed
	sinks   []writer.Sink
	opts    Options
	metrics *metrics.Metrics
	log     *logger.Entry

	state   atomic.Int32
	mu      sync.Mutex
	running bool
}

func NewDispatcher(feed Feed, sinks []writer.Sink, opts Options, m *metrics.Metrics, log *logger.Log) *Dispatcher {
	return &Dispatcher{
		feed:    feed,
		sinks:   sinks,
		opts:    opts,
		metrics: m,
		log:     log.WithComponent("dispatcher"),
	}
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
	d.metrics.SetState(int(s))
}

// Run blocks until the feed fails fatally, returning *FatalError, or until
// ctx is cancelled, returning ctx.Err(). Cancelling ctx closes the feed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = d.feed.Close() })
	defer stop()

	d.setState(StateSubscribing)
	d.subscribeAll(ctx)

	consecutive := 0
	for {
		d.setState(StateListening)
		frame, err := d.feed.Receive()
		if err != nil {
			if ctx.Err() != nil {
				d.setState(StateTerminated)
				return ctx.Err()
			}
			consecutive++
			if fatal := d.readError(err, consecutive); fatal != nil {
				d.setState(StateTerminated)
				return fatal
			}
			continue
		}
		consecutive = 0
		d.metrics.FrameReceived()

		msg, err := okx.Parse(frame)
		if err != nil {
			d.parseFailure(err)
			continue
		}

		d.setState(StateDispatching)
		d.Dispatch(ctx, msg)
	}
}

func (d *Dispatcher) subscribeAll(ctx context.Context) {
	for _, inst := range d.opts.Instruments {
		if err := d.feed.Subscribe(ctx, inst); err != nil {
			d.log.WithFields(logger.Fields{"instrument": inst}).WithError(err).Warn("subscription failed")
			continue
		}
		d.log.WithFields(logger.Fields{"instrument": inst}).Info("subscribed")
	}
}

func (d *Dispatcher) readError(err error, consecutive int) *FatalError {
	severity := okx.ClassifyReadError(err)
	d.metrics.ReadError(severity.String())

	log := d.log.WithFields(logger.Fields{
		"severity":    severity.String(),
		"consecutive": consecutive,
	}).WithError(err)

	if severity == okx.SeverityFatal {
		log.Error("feed read failed")
		return &FatalError{Err: err}
	}
	if limit := d.opts.MaxConsecutiveErrors; limit > 0 && consecutive >= limit {
		log.Error("too many consecutive read errors")
		return &FatalError{Err: fmt.Errorf("%d consecutive read errors: %w", consecutive, err)}
	}
	log.Warn("feed read error")
	return nil
}

func (d *Dispatcher) parseFailure(err error) {
	var (
		nonText *okx.NonTextError
		deser   *okx.DeserializationError
	)
	switch {
	case errors.As(err, &nonText):
		d.metrics.ParseFailure("non_text")
		d.log.WithFields(logger.Fields{"frame_type": nonText.FrameType}).WithError(nonText.Err).Warn("discarding non-text frame")
	case errors.As(err, &deser):
		d.metrics.ParseFailure("deserialization")
		d.log.WithFields(logger.Fields{"text": deser.Text}).WithError(deser.Err).Warn("discarding message with unknown schema")
	default:
		d.metrics.ParseFailure("unknown")
		d.log.WithError(err).Warn("discarding unparseable frame")
	}
}

// Dispatch writes msg to every sink in registration order. A failing or
// panicking sink is logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.PushMessage) {
	for _, sink := range d.sinks {
		if err := writeSink(ctx, sink, msg); err != nil {
			d.metrics.SinkFailure(sink.Name())
			d.log.WithFields(logger.Fields{
				"sink":       sink.Name(),
				"instrument": msg.Subscription().InstrumentID,
			}).WithError(err).Warn("sink write failed")
			continue
		}
		d.metrics.SinkWrite(sink.Name())
		logger.LogDataFlowEntry(d.log, "okx_feed", sink.Name(), 1, string(msg.Kind()))
	}
	d.metrics.DispatchCycle()
}

func writeSink(ctx context.Context, sink writer.Sink, msg models.PushMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Write(ctx, msg)
}
