// Package validator runs the batch consistency rules over normalized award
// records.
//
// Every rule inspects the whole batch and reports every violation it finds;
// ValidateAll runs all rules and returns a single *AggregateError listing
// each violation with its record index and rule. Rules are pure functions of
// their input and run concurrently.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"grantflow/internal/models"

	"golang.org/x/sync/errgroup"
)

// Options tunes a validation run.
type Options struct {
	// Now anchors the grant_year upper bound; zero means time.Now().
	Now time.Time
	// AdditionalRequired names fields required on top of RequiredFields.
	AdditionalRequired []string
	// MinYear is the earliest accepted grant_year; zero means DefaultMinYear.
	MinYear int
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}

	if o.MinYear == 0 {
		o.MinYear = DefaultMinYear
	}

	return o
}

type rule struct {
	name  string
	check func([]models.RecordMap, Options) error
}

func rulesFor() []rule {
	return []rule{
		{RuleRequiredFields, func(r []models.RecordMap, o Options) error {
			return ValidateRequiredFields(r, o.AdditionalRequired...)
		}},
		{RuleDates, func(r []models.RecordMap, o Options) error {
			return aggregate(checkDates(r, o.Now, o.MinYear))
		}},
		{RuleCurrency, func(r []models.RecordMap, _ Options) error { return ValidateCurrencyFields(r) }},
		{RuleParticipants, func(r []models.RecordMap, _ Options) error { return ValidateParticipants(r) }},
		{RuleSchema, func(r []models.RecordMap, _ Options) error { return ValidateSchema(r) }},
		{RuleIdentity, func(r []models.RecordMap, _ Options) error { return ValidateUniqueIDs(r) }},
	}
}

// Check runs every rule concurrently and returns the full report. The error
// is non-nil only when ctx is cancelled.
func Check(ctx context.Context, records []models.RecordMap, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	rules := rulesFor()
	found := make([][]Violation, len(rules))

	g, gctx := errgroup.WithContext(ctx)

	for i, r := range rules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			if agg, ok := r.check(records, opts).(*AggregateError); ok {
				found[i] = agg.Violations
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validation cancelled: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("validation cancelled: %w", err)
	}

	var all []Violation
	for _, vs := range found {
		all = append(all, vs...)
	}

	sortViolations(all)

	return &Report{Violations: all, Records: len(records)}, nil
}

// ValidateAll runs every rule and returns nil or one *AggregateError
// covering the whole batch.
func ValidateAll(ctx context.Context, records []models.RecordMap, opts Options) error {
	report, err := Check(ctx, records, opts)
	if err != nil {
		return err
	}

	return report.Err()
}

// RecordsToMaps converts typed records to the map form the rules inspect.
// Numbers decode as json.Number.
func RecordsToMaps(records []*models.AwardRecord) ([]models.RecordMap, error) {
	out := make([]models.RecordMap, len(records))

	for i, rec := range records {
		m, err := ToMap(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		out[i] = m
	}

	return out, nil
}

// ToMap converts any JSON-encodable value to a RecordMap.
func ToMap(v any) (models.RecordMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	return DecodeMap(data)
}

// DecodeMap decodes one JSON object, keeping numbers as json.Number.
func DecodeMap(data []byte) (models.RecordMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m models.RecordMap
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return m, nil
}

// DecodeRecords reads a stream of JSON objects such as an emitted NDJSON
// file, keeping numbers as json.Number.
func DecodeRecords(r io.Reader) ([]models.RecordMap, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out []models.RecordMap

	for {
		var m models.RecordMap

		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}

		out = append(out, m)
	}
}
