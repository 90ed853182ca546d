// Package normalizer turns loosely typed raw field maps into AwardRecord
// candidates.
//
// Normalization is field-local and never fails as a whole: a field that
// cannot be derived is left unset and reported as a *models.FieldError. Hard
// failures surface later, in the batch validator.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"grantflow/internal/config"
	"grantflow/internal/fx"
	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"
	"grantflow/pkg/textutil"
)

// Normalizer converts raw field maps into AwardRecords. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	transformer *Transformer
	converter   *fx.Converter
	sources     map[string]config.SourceConfig
	clock       func() time.Time
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithConverter sets the USD converter. Without one only USD amounts get an
// award_amount_usd.
func WithConverter(c *fx.Converter) Option {
	return func(n *Normalizer) { n.converter = c }
}

// WithSources registers per-source defaults for funder fields.
func WithSources(sources []config.SourceConfig) Option {
	return func(n *Normalizer) {
		for _, s := range sources {
			n.sources[s.Name] = s
		}
	}
}

// WithClock sets the time source used when a record has no crawl timestamp.
func WithClock(clock func() time.Time) Option {
	return func(n *Normalizer) { n.clock = clock }
}

// WithLogger sets the logger for field diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(n *Normalizer) { n.log = l.With("component", "normalizer") }
}

// WithMetrics sets the counters for field errors and rate misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		transformer: NewTransformer(),
		converter:   fx.NewConverter(nil),
		sources:     make(map[string]config.SourceConfig),
		clock:       time.Now,
		log:         logger.Discard(),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Normalize builds a record from raw. The record is always returned; the
// slice lists every field that could not be derived.
func (n *Normalizer) Normalize(raw models.RawFields) (*models.AwardRecord, []*models.FieldError) {
	b := &builder{raw: raw, t: n.transformer}

	source, _ := raw.String("source")
	defaults := n.sources[source]

	rec := &models.AwardRecord{
		Source:               source,
		GrantID:              GrantID(source, raw),
		FunderOrgName:        textutil.FirstNonEmpty(b.text("funder_org_name"), defaults.FunderOrgName),
		RecipientOrgName:     b.text("recipient_org_name"),
		RecipientOrgRorID:    optString(raw, "recipient_org_ror_id"),
		RecipientOrgLocation: optString(raw, "recipient_org_location"),
		SourceURL:            optString(raw, "source_url", "url"),
		GrantTitle:           optString(raw, "grant_title", "title"),
		GrantDescription:     optString(raw, "grant_description", "description"),
		Comments:             optString(raw, "comments"),
		SchemaVersion:        models.SchemaVersion,
	}

	if ror := textutil.FirstNonEmpty(b.text("funder_org_ror_id"), defaults.FunderOrgRorID); ror != "" {
		rec.FunderOrgRorID = &ror
	}

	rec.CrawledAt = b.crawledAt(n.clock)

	var perr []*models.FieldError

	rec.NamedParticipants, perr = participants(raw)
	b.errs = append(b.errs, perr...)

	if pi := b.text("pi_name"); pi != "" {
		rec.PiName = &pi
	} else if pi, ok := leadApplicant(rec.NamedParticipants); ok {
		rec.PiName = &pi
	}

	b.dates(rec)
	b.amounts(rec)
	n.convert(b, rec)

	if program := JoinProgram(b.texts("program_levels", "program_of_funder")...); program != "" {
		rec.ProgramOfFunder = &program
	}

	if label := b.text("grant_category"); label != "" {
		if c, err := models.ParseGrantCategory(label); err == nil {
			rec.GrantCategory = &c
		} else {
			b.fail("grant_category", label, models.ErrSchemaViolation)
		}
	}

	rec.RawSourceData = rawSourceData(raw)

	n.report(rec, b.errs)

	return rec, b.errs
}

// convert fills award_amount_usd using the rate on January 1st of the award
// year, falling back to the start date's year.
func (n *Normalizer) convert(b *builder, rec *models.AwardRecord) {
	if rec.AwardAmount == nil || rec.AwardCurrency == nil {
		return
	}

	year := models.Deref(rec.GrantYear)
	if year == 0 && rec.GrantStartDate != nil {
		year = rec.GrantStartDate.Year()
	}

	currency := *rec.AwardCurrency

	if year != 0 {
		if usd, ok := n.converter.Convert(rec.AwardAmount.Decimal, currency, fx.AwardYearDate(year)); ok {
			rec.AwardAmountUSD = models.Ptr(models.NewAmount(usd))

			return
		}
	}

	n.metrics.RateMiss(currency)
	b.fail("award_amount_usd", fmt.Sprintf("%s@%d", currency, year), models.ErrRateNotFound)
}

func (n *Normalizer) report(rec *models.AwardRecord, errs []*models.FieldError) {
	for _, fe := range errs {
		n.metrics.FieldError(fe.Field)

		args := []any{"field", fe.Field, "raw", fe.Raw, "error", fe.Kind, "grant_source", rec.Source, "grant_id", rec.GrantID}

		// a missing rate is advisory
		if errors.Is(fe, models.ErrRateNotFound) {
			n.log.Info("Exchange rate not found", args...)

			continue
		}

		n.log.Warn("Field could not be normalized", args...)
	}
}

// builder collects field errors while one record is derived.
type builder struct {
	raw  models.RawFields
	t    *Transformer
	errs []*models.FieldError
}

func (b *builder) fail(field, raw string, kind error) {
	b.errs = append(b.errs, &models.FieldError{Kind: kind, Field: field, Raw: raw})
}

func (b *builder) text(keys ...string) string {
	s, _ := b.raw.String(keys...)

	return textutil.NormalizeWhitespace(s)
}

// texts returns the text of every list element under the first present key.
func (b *builder) texts(keys ...string) []string {
	for _, k := range keys {
		items := b.raw.List(k)
		if len(items) == 0 {
			continue
		}

		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, models.Stringify(item))
		}

		return out
	}

	return nil
}

// first returns the first present raw value among keys.
func (b *builder) first(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := b.raw[k]; ok && v != nil && models.Stringify(v) != "" {
			return k, v, true
		}
	}

	return "", nil, false
}

func (b *builder) crawledAt(clock func() time.Time) time.Time {
	v, ok := b.raw["_crawled_at"]
	if !ok || v == nil {
		return clock().UTC()
	}

	ts, err := b.t.ParseTimestamp(v)
	if err != nil {
		b.fail("_crawled_at", models.Stringify(v), models.ErrDateFormat)

		return clock().UTC()
	}

	return ts
}

func (b *builder) date(key string) *models.Date {
	v, ok := b.raw[key]
	if !ok || v == nil || models.Stringify(v) == "" {
		return nil
	}

	d, err := b.t.ParseDate(v)
	if err != nil {
		b.fail(key, models.Stringify(v), models.ErrDateFormat)

		return nil
	}

	return &d
}

// dates derives year, start, end and duration. An end date is computed
// from start plus duration only when the source gave none.
func (b *builder) dates(rec *models.AwardRecord) {
	rec.GrantStartDate = b.date("grant_start_date")
	rec.GrantEndDate = b.date("grant_end_date")

	if key, v, ok := b.first(yearKeys...); ok {
		if year, err := b.t.ParseYear(v); err == nil {
			rec.GrantYear = &year
		} else {
			b.fail(key, models.Stringify(v), models.ErrYearNotInteger)
		}
	}

	if rec.GrantYear == nil && rec.GrantStartDate != nil {
		rec.GrantYear = models.Ptr(rec.GrantStartDate.Year())
	}

	months, haveMonths := 0, false
	if _, v, ok := b.first("duration_months", "grant_duration"); ok {
		months, haveMonths = b.t.ParseDurationMonths(v)
	}

	if d := b.text("grant_duration"); d != "" {
		rec.GrantDuration = &d
	} else if haveMonths {
		rec.GrantDuration = models.Ptr(formatMonths(months))
	}

	if rec.GrantEndDate == nil && rec.GrantStartDate != nil && haveMonths {
		end := AddMonths(*rec.GrantStartDate, months)
		rec.GrantEndDate = &end
	}
}

// amounts parses award_amount and award_currency. A currency implied by the
// amount text is used only when no explicit currency is given.
func (b *builder) amounts(rec *models.AwardRecord) {
	implied := ""

	if v, ok := b.raw["award_amount"]; ok && v != nil && models.Stringify(v) != "" {
		d, currency, err := b.t.ParseAmount(v)
		if err != nil {
			kind := models.ErrAmountNotNumeric
			if errors.Is(err, models.ErrNegativeAmount) {
				kind = models.ErrNegativeAmount
			}

			b.fail("award_amount", models.Stringify(v), kind)
		} else {
			rec.AwardAmount = models.Ptr(models.NewAmount(d))
			implied = currency
		}
	}

	if code := textutil.FirstNonEmpty(b.text("award_currency"), implied); code != "" {
		code = strings.ToUpper(code)
		rec.AwardCurrency = &code
	}
}

// rawSourceData keeps a supplied provenance blob verbatim, otherwise
// serialises the whole raw map.
func rawSourceData(raw models.RawFields) *string {
	if v, ok := raw["raw_source_data"]; ok && v != nil {
		if s, ok := v.(string); ok {
			return &s
		}

		if data, err := json.Marshal(v); err == nil {
			return models.Ptr(string(data))
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	return models.Ptr(string(data))
}

func formatMonths(n int) string {
	if n == 1 {
		return "1 month"
	}

	return fmt.Sprintf("%d months", n)
}
