package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pythagoras/internal/metrics"
	"pythagoras/logger"
	"pythagoras/writer"
)

// Dialer opens a fresh feed connection.
type Dialer func(ctx context.Context) (Feed, error)

// Supervisor runs a Dispatcher and, after a fatal feed error, dials again
// with backoff, resubscribes and resumes. It gives up after MaxAttempts
// failed reconnects in a row (zero means never).
type Supervisor struct {
	dial        Dialer
	sinks       []writer.Sink
	opts        Options
	backoff     Backoff
	maxAttempts int
	metrics     *metrics.Metrics
	log         *logger.Log
}

func NewSupervisor(dial Dialer, sinks []writer.Sink, opts Options, backoff Backoff, maxAttempts int, m *metrics.Metrics, log *logger.Log) *Supervisor {
	return &Supervisor{
		dial:        dial,
		sinks:       sinks,
		opts:        opts,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		metrics:     m,
		log:         log,
	}
}

// Run drives feed until ctx is cancelled or reconnecting is abandoned.
func (s *Supervisor) Run(ctx context.Context, feed Feed) error {
	log := s.log.WithComponent("supervisor")
	attempt := 0

	for {
		started := time.Now()
		err := NewDispatcher(feed, s.sinks, s.opts, s.metrics, s.log).Run(ctx)
		_ = feed.Close()

		var fatal *FatalError
		if !errors.As(err, &fatal) {
			return err
		}
		// a session that outlived the longest wait counts as healthy
		if time.Since(started) > s.backoff.Max {
			attempt = 0
		}

		for {
			attempt++
			if s.maxAttempts > 0 && attempt > s.maxAttempts {
				log.WithFields(logger.Fields{"attempts": s.maxAttempts}).Error("giving up reconnecting")
				return &FatalError{Err: fmt.Errorf("reconnect abandoned after %d attempts: %w", s.maxAttempts, fatal.Err)}
			}

			wait := s.backoff.Next(attempt)
			log.WithFields(logger.Fields{
				"attempt": attempt,
				"wait":    wait.String(),
			}).WithError(fatal.Err).Warn("feed lost, reconnecting")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			next, dialErr := s.dial(ctx)
			if dialErr != nil {
				log.WithFields(logger.Fields{"attempt": attempt}).WithError(dialErr).Warn("reconnect failed")
				fatal = &FatalError{Err: dialErr}
				continue
			}
			log.WithFields(logger.Fields{
				"attempt":  attempt,
				"endpoint": next.Endpoint(),
			}).Info("feed reconnected")
			feed = next
			break
		}
	}
}
