// Package metrics holds the Prometheus counters of one pipeline run.
//
// Every Metrics value owns its registry, so tests and concurrent runs never
// share counters. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grantflow"

// Emission statuses.
const (
	StatusNew       = "new"
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
)

// Metrics is the set of pipeline counters.
type Metrics struct {
	registry *prometheus.Registry

	// RecordsAssembled counts logical records finalized by the threader.
	RecordsAssembled prometheus.Counter

	// BranchesAbandoned counts fetch branches retired without data.
	BranchesAbandoned prometheus.Counter

	// FieldErrors counts normalizer field diagnostics.
	// Labels: field
	FieldErrors *prometheus.CounterVec

	// ValidationViolations counts validator findings.
	// Labels: rule
	ValidationViolations *prometheus.CounterVec

	// FXRateMisses counts conversions that found no rate.
	// Labels: currency
	FXRateMisses *prometheus.CounterVec

	// RecordsEmitted counts records seen by the emitter.
	// Labels: status (new, changed, unchanged)
	RecordsEmitted *prometheus.CounterVec
}

// New creates the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordsAssembled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_assembled_total",
			Help:      "Logical records finalized by the continuation threader.",
		}),
		BranchesAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branches_abandoned_total",
			Help:      "Fetch branches retired without contributing fields.",
		}),
		FieldErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_errors_total",
			Help:      "Field-level normalization diagnostics.",
		}, []string{"field"}),
		ValidationViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_violations_total",
			Help:      "Batch validation violations by rule.",
		}, []string{"rule"}),
		FXRateMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fx_rate_misses_total",
			Help:      "USD conversions with no exchange rate available.",
		}, []string{"currency"}),
		RecordsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Records classified by the emitter.",
		}, []string{"status"}),
	}
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// RecordAssembled counts one finalized record.
func (m *Metrics) RecordAssembled() {
	if m == nil {
		return
	}

	m.RecordsAssembled.Inc()
}

// BranchAbandoned counts one abandoned branch.
func (m *Metrics) BranchAbandoned() {
	if m == nil {
		return
	}

	m.BranchesAbandoned.Inc()
}

// FieldError counts one normalizer diagnostic on field.
func (m *Metrics) FieldError(field string) {
	if m == nil {
		return
	}

	m.FieldErrors.WithLabelValues(field).Inc()
}

// Violation counts one validator finding for rule.
func (m *Metrics) Violation(rule string) {
	if m == nil {
		return
	}

	m.ValidationViolations.WithLabelValues(rule).Inc()
}

// invalidCurrency labels rate misses whose currency is not a three-letter code.
const invalidCurrency = "invalid"

// RateMiss counts one failed conversion from currency. Anything that is not
// an upper-case three-letter code shares the "invalid" label.
func (m *Metrics) RateMiss(currency string) {
	if m == nil {
		return
	}

	m.FXRateMisses.WithLabelValues(currencyLabel(currency)).Inc()
}

func currencyLabel(code string) string {
	if len(code) != 3 {
		return invalidCurrency
	}

	for i := range len(code) {
		if code[i] < 'A' || code[i] > 'Z' {
			return invalidCurrency
		}
	}

	return code
}

// Emitted counts one record classified with status.
func (m *Metrics) Emitted(status string) {
	if m == nil {
		return
	}

	m.RecordsEmitted.WithLabelValues(status).Inc()
}

// WriteTextfile writes every counter in the Prometheus text exposition
// format, for pickup by a node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	return nil
}
