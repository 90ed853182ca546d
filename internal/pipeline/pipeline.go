// Package pipeline runs a batch of raw records through normalization,
// validation and emission.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"grantflow/internal/config"
	"grantflow/internal/emit"
	"grantflow/internal/fx"
	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"
	"grantflow/internal/normalizer"
	"grantflow/internal/threader"
	"grantflow/internal/validator"
	"grantflow/pkg/fingerprint"
)

// ErrEmissionSuppressed is returned when validation failed and the
// configuration forbids emitting an invalid batch.
var ErrEmissionSuppressed = errors.New("emission suppressed by validation failures")

// Result describes one Ingest call.
type Result struct {
	Records     []*models.AwardRecord
	Maps        []models.RecordMap
	Report      *validator.Report
	Emitted     emit.Summary
	Manifest    *fingerprint.Manifest
	FieldErrors int
	Incomplete  int
	Dropped     int
	Suppressed  bool
}

// Pipeline holds the long-lived parts of a run: rates, dedup state and
// the worker pools.
type Pipeline struct {
	cfg            *config.Config
	converter      *fx.Converter
	store          emit.Store
	log            *logger.Logger
	metrics        *metrics.Metrics
	clock          func() time.Time
	dropIncomplete bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics shares m with every stage.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock fixes the crawl-time fallback and the validation year bound.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithRates uses rates instead of loading fx.rates_file.
func WithRates(rates fx.RateSource) Option {
	return func(p *Pipeline) { p.converter = fx.NewConverter(rates) }
}

// WithStore uses store instead of the one described by the dedup section.
func WithStore(store emit.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithDropIncomplete discards records that lost a branch during assembly
// instead of emitting them with gaps.
func WithDropIncomplete(drop bool) Option {
	return func(p *Pipeline) { p.dropIncomplete = drop }
}

// New builds a pipeline from cfg, loading the rate table and opening the
// dedup store unless options supply them.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:   cfg,
		log:   logger.Discard(),
		clock: time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.converter == nil {
		conv, err := loadConverter(cfg.FX, p.log)
		if err != nil {
			return nil, err
		}

		p.converter = conv
	}

	if p.store == nil && cfg.Dedup.Enabled {
		store, err := openStore(cfg.Dedup, p.log)
		if err != nil {
			return nil, err
		}

		p.store = store
	}

	return p, nil
}

func loadConverter(cfg config.FXConfig, log *logger.Logger) (*fx.Converter, error) {
	if cfg.RatesFile == "" {
		log.Warn("No rates file configured, award_amount_usd is only set for USD awards")
		return fx.NewConverter(nil), nil
	}

	table, err := fx.LoadFile(cfg.RatesFile, cfg.Format, cfg.MaxLookbackDays)
	if err != nil {
		return nil, err
	}

	log.Info("Loaded exchange rates",
		"file", cfg.RatesFile,
		"base", table.Base(),
		"currencies", len(table.Currencies()))

	return fx.NewConverter(table), nil
}

func openStore(cfg config.DedupConfig, log *logger.Logger) (emit.Store, error) {
	if cfg.InMemory {
		return emit.NewMemoryStore(), nil
	}

	return emit.OpenBadgerStore(emit.BadgerConfig{
		Path:   cfg.Path,
		Logger: log.Slog(),
	})
}

// Close releases the dedup store.
func (p *Pipeline) Close() error {
	if p.store == nil {
		return nil
	}

	return p.store.Close()
}

// Ingest reads raw records from in, normalizes and validates them as one
// batch and emits the result to output.path. When validation fails and
// validation.fail_on_violation is set, nothing is written and the error
// wraps both ErrEmissionSuppressed and the *validator.AggregateError.
func (p *Pipeline) Ingest(ctx context.Context, in io.Reader, mode Mode) (*Result, error) {
	res := &Result{}

	raws, err := p.read(ctx, in, mode, res)
	if err != nil {
		return nil, err
	}

	p.log.Info("Read raw records", "mode", string(mode), "records", len(raws), "incomplete", res.Incomplete)

	return p.process(ctx, raws, res)
}

// Crawl assembles one record per seed by following f, with at most
// pipeline.fetch_concurrency fetches in flight, then processes the batch
// like Ingest. A cancelled crawl finalizes every begun record but emits
// nothing.
func (p *Pipeline) Crawl(ctx context.Context, f threader.Fetcher, seeds []models.RawFields) (*Result, error) {
	res := &Result{}

	var got assembly

	t := threader.New(got.finalize, threader.WithLogger(p.log), threader.WithMetrics(p.metrics))

	if err := threader.NewDriver(t, f, p.cfg.Pipeline.FetchConcurrency).Run(ctx, seeds); err != nil {
		return nil, fmt.Errorf("crawl interrupted: %w", err)
	}

	// records finalize in completion order; Begin keys them rec-<seq>, so
	// ordering by key length then key restores seed order
	recs := got.all()
	slices.SortFunc(recs, func(a, b threader.Assembled) int {
		return cmp.Or(cmp.Compare(len(a.Key), len(b.Key)), strings.Compare(a.Key, b.Key))
	})

	raws := p.complete(recs, res)

	p.log.Info("Crawled records",
		"seeds", len(seeds),
		"records", len(raws),
		"incomplete", res.Incomplete,
		"fetch_concurrency", p.cfg.Pipeline.FetchConcurrency)

	return p.process(ctx, raws, res)
}

// process normalizes, validates and emits one batch of raw records.
func (p *Pipeline) process(ctx context.Context, raws []models.RawFields, res *Result) (*Result, error) {
	if err := p.normalize(ctx, raws, res); err != nil {
		return nil, err
	}

	report, err := validator.Check(ctx, res.Maps, validator.Options{
		Now:                p.clock(),
		AdditionalRequired: p.cfg.Validation.AdditionalRequired,
		MinYear:            p.cfg.Validation.MinYear,
	})
	if err != nil {
		return nil, err
	}

	res.Report = report

	for _, v := range report.Violations {
		p.metrics.Violation(v.Rule)
	}

	if !report.Valid() {
		p.log.Warn("Validation failed",
			"records", report.Records,
			"invalid_records", report.InvalidRecords(),
			"violations", len(report.Violations))

		if p.cfg.Validation.FailOnViolation {
			res.Suppressed = true
			return res, fmt.Errorf("%w: %w", ErrEmissionSuppressed, report.Err())
		}
	}

	if err := p.emit(res); err != nil {
		return res, err
	}

	return res, nil
}

func (p *Pipeline) read(ctx context.Context, in io.Reader, mode Mode, res *Result) ([]models.RawFields, error) {
	switch mode {
	case ModeFlat:
		return readFlat(ctx, in)
	case ModeTrace:
		return p.readTrace(ctx, in, res)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

func (p *Pipeline) readTrace(ctx context.Context, in io.Reader, res *Result) ([]models.RawFields, error) {
	var got assembly

	t := threader.New(got.finalize, threader.WithLogger(p.log), threader.WithMetrics(p.metrics))

	// Every begun record is finalized before Replay returns, even on error.
	if err := threader.NewReplayer(t).Replay(ctx, in); err != nil {
		return nil, err
	}

	return p.complete(got.all(), res), nil
}

// complete counts records that lost a branch and, with dropIncomplete,
// leaves them out.
func (p *Pipeline) complete(recs []threader.Assembled, res *Result) []models.RawFields {
	var raws []models.RawFields

	for _, rec := range recs {
		if !rec.Complete() {
			res.Incomplete++

			if p.dropIncomplete {
				res.Dropped++
				p.log.Warn("Dropping incomplete record", "record", rec.Key, "abandoned", rec.Abandoned)

				continue
			}
		}

		raws = append(raws, rec.Fields)
	}

	return raws
}

func (p *Pipeline) normalize(ctx context.Context, raws []models.RawFields, res *Result) error {
	n := normalizer.New(
		normalizer.WithConverter(p.converter),
		normalizer.WithSources(p.cfg.GetEnabledSources()),
		normalizer.WithClock(p.clock),
		normalizer.WithLogger(p.log),
		normalizer.WithMetrics(p.metrics),
	)

	results, err := normalizer.NewProcessor(n, p.cfg.Pipeline.Workers).NormalizeBatch(ctx, raws)
	if err != nil {
		return err
	}

	for _, r := range results {
		res.FieldErrors += len(r.FieldErrors)
	}

	res.Records = normalizer.Records(results)

	res.Maps, err = validator.RecordsToMaps(res.Records)

	return err
}

// emit writes res.Records to a fresh output file and signs it.
func (p *Pipeline) emit(res *Result) error {
	path := p.cfg.Output.Path

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	e := emit.NewEmitter(f, p.store, emit.WithLogger(p.log), emit.WithMetrics(p.metrics))

	sum, err := e.Emit(res.Records)
	res.Emitted = sum

	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}

	if err != nil {
		return err
	}

	if p.cfg.Output.Manifest {
		m := e.Manifest()
		if err := fingerprint.WriteManifest(p.cfg.ManifestPath(), m); err != nil {
			return err
		}

		res.Manifest = &m
	}

	p.log.Info("Wrote output",
		"path", path,
		"run_id", e.RunID(),
		"written", sum.Written(),
		"unchanged", sum.Unchanged)

	return nil
}
