package normalizer

import (
	"context"
	"fmt"

	"grantflow/internal/models"

	"golang.org/x/sync/errgroup"
)

// Processor normalizes batches across a bounded worker pool.
type Processor struct {
	normalizer *Normalizer
	workers    int
}

// Result is one normalized record with its field diagnostics.
type Result struct {
	Record      *models.AwardRecord
	FieldErrors []*models.FieldError
}

// NewProcessor creates a new processor instance. workers below 1 means 1.
func NewProcessor(n *Normalizer, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}

	return &Processor{
		normalizer: n,
		workers:    workers,
	}
}

// Process normalizes a single raw record.
func (p *Processor) Process(raw models.RawFields) Result {
	rec, errs := p.normalizer.Normalize(raw)

	return Result{Record: rec, FieldErrors: errs}
}

// NormalizeBatch normalizes raws concurrently. Results are in input order.
// It only fails when ctx is cancelled.
func (p *Processor) NormalizeBatch(ctx context.Context, raws []models.RawFields) ([]Result, error) {
	results := make([]Result, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, raw := range raws {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			results[i] = p.Process(raw)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("normalization cancelled: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("normalization cancelled: %w", err)
	}

	return results, nil
}

// Records extracts the records from results.
func Records(results []Result) []*models.AwardRecord {
	out := make([]*models.AwardRecord, len(results))
	for i, r := range results {
		out[i] = r.Record
	}

	return out
}
