package threader

import (
	"context"
	"sync"
	"sync/atomic"

	"grantflow/internal/models"

	"golang.org/x/sync/errgroup"
)

// Fetcher performs one hop: it fetches what b points at and returns the
// extracted fields and the follow-up hops. An error abandons the branch.
type Fetcher interface {
	Fetch(ctx context.Context, b *Branch) (models.RawFields, []Hop, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, b *Branch) (models.RawFields, []Hop, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, b *Branch) (models.RawFields, []Hop, error) {
	return f(ctx, b)
}

// Driver walks records through a Fetcher with at most limit fetches in
// flight across all records.
type Driver struct {
	threader *Threader
	fetcher  Fetcher
	limit    int
}

// NewDriver creates a driver. limit below 1 means 1.
func NewDriver(t *Threader, f Fetcher, limit int) *Driver {
	if limit < 1 {
		limit = 1
	}

	return &Driver{
		threader: t,
		fetcher:  f,
		limit:    limit,
	}
}

// Run begins one record per seed and drives every branch to retirement.
// When ctx is cancelled, queued branches are abandoned and in-flight fetches
// see the cancellation, so every record still finalizes before Run returns.
func (d *Driver) Run(ctx context.Context, seeds []models.RawFields) error {
	var (
		mu    sync.Mutex
		queue []*Branch
		open  atomic.Int64
		g     errgroup.Group
	)

	g.SetLimit(d.limit)

	ready := make(chan struct{}, 1)
	signal := func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	push := func(bs []*Branch) {
		mu.Lock()
		queue = append(queue, bs...)
		mu.Unlock()
		signal()
	}

	roots := make([]*Branch, len(seeds))
	for i, seed := range seeds {
		roots[i] = d.threader.Begin(seed)
	}

	open.Add(int64(len(roots)))
	push(roots)

	cancelled := ctx.Done()

	for {
		mu.Lock()
		if len(queue) == 0 {
			mu.Unlock()

			if open.Load() == 0 {
				break
			}

			select {
			case <-ready:
			case <-cancelled:
				cancelled = nil
			}

			continue
		}

		b := queue[0]
		queue = queue[1:]
		mu.Unlock()

		if err := ctx.Err(); err != nil {
			_ = b.Abandon(err)

			open.Add(-1)

			continue
		}

		// blocks while limit fetches are in flight
		g.Go(func() error {
			children := d.step(ctx, b)

			open.Add(int64(len(children)))
			push(children)
			open.Add(-1)
			signal()

			return nil
		})
	}

	_ = g.Wait()

	return ctx.Err()
}

func (d *Driver) step(ctx context.Context, b *Branch) []*Branch {
	fields, hops, err := d.fetcher.Fetch(ctx, b)
	if err != nil {
		_ = b.Abandon(err)

		return nil
	}

	children, err := b.Advance(fields, hops...)
	if err != nil {
		d.threader.log.Debug("Fetcher retired its own branch", "record", b.Key(), "branch", b.ID())

		return nil
	}

	return children
}
