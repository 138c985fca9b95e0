package commission

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/graph"
	"golang.org/x/sync/errgroup"
)

type Processor interface {
	ProcessEvent(ctx context.Context, ev *model.Event) (*Result, error)
}

// DeadLetterFunc receives events that could not be applied within the retry window
type DeadLetterFunc func(ctx context.Context, ev *model.Event, err error)

// Dispatcher processes events in parallel with a bounded number of workers. Each event is
// retried until it fully applies or the retry window elapses.
type Dispatcher struct {
	processor  Processor
	workers    int
	window     time.Duration
	deadLetter DeadLetterFunc
}

func NewDispatcher(processor Processor, workers int, window time.Duration, deadLetter DeadLetterFunc) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if deadLetter == nil {
		deadLetter = func(_ context.Context, ev *model.Event, err error) {
			log.Error().Err(err).Str("section", "dispatcher").Str("event_id", ev.EventID).Msg("Event dropped")
		}
	}
	return &Dispatcher{processor: processor, workers: workers, window: window, deadLetter: deadLetter}
}

func permanent(err error) bool {
	var integrity *graph.GraphIntegrityError
	return IsValidationError(err) || errors.As(err, &integrity)
}

// Dispatch blocks until every event was applied or dead lettered. It only returns an error
// when ctx is cancelled, in which case some events may not have been attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, events []*model.Event) error {
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, ev := range events {
		ev := ev
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d.process(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (d *Dispatcher) process(ctx context.Context, ev *model.Event) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (*Result, error) {
		result, err := d.processor.ProcessEvent(ctx, ev)
		if err != nil {
			if permanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if err := result.Err(); err != nil {
			return result, err
		}
		return result, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(d.window))

	if err == nil || ctx.Err() != nil {
		return
	}
	d.deadLetter(ctx, ev, err)
}
