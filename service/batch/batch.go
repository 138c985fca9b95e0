// Package batch pages through members for the periodic jobs with a bounded worker pool
package batch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Runner struct {
	Workers  int
	PageSize int
	// Limiter throttles item processing against the store, nil disables throttling
	Limiter *rate.Limiter
}

func NewRunner(workers, pageSize int, opsPerSecond float64) Runner {
	r := Runner{Workers: workers, PageSize: pageSize}
	if opsPerSecond > 0 {
		r.Limiter = rate.NewLimiter(rate.Limit(opsPerSecond), workers)
	}
	return r
}

// Lister returns the next page of items ordered by id after afterID
type Lister[T any] func(ctx context.Context, afterID uint64, limit int) ([]T, error)

// Run calls fn for every item returned by list. Items of a page run concurrently; the next
// page is only requested once the current one is finished. A cancelled context stops
// scheduling new items and Run returns the context error after running items complete.
func Run[T any](ctx context.Context, r Runner, list Lister[T], id func(T) uint64, fn func(ctx context.Context, item T)) (int, error) {
	workers, pageSize := r.Workers, r.PageSize
	if workers <= 0 {
		workers = 1
	}
	if pageSize <= 0 {
		pageSize = 500
	}

	var (
		processed int
		mu        sync.Mutex
		afterID   uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		items, err := list(ctx, afterID, pageSize)
		if err != nil {
			return processed, err
		}
		if len(items) == 0 {
			return processed, nil
		}

		g := new(errgroup.Group)
		g.SetLimit(workers)
		for _, item := range items {
			item := item
			if r.Limiter != nil {
				if err := r.Limiter.Wait(ctx); err != nil {
					break
				}
			}
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				fn(ctx, item)
				mu.Lock()
				processed++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("section", "batch").Int("processed", processed).Msg("Batch cancelled")
			return processed, err
		}
		afterID = id(items[len(items)-1])
		if len(items) < pageSize {
			return processed, nil
		}
	}
}
