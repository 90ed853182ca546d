package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordAssembled()
	m.RecordAssembled()
	m.BranchAbandoned()
	m.FieldError("award_amount")
	m.Violation("dates")
	m.Violation("dates")
	m.RateMiss("DEM")
	m.Emitted(StatusNew)
	m.Emitted(StatusUnchanged)

	assert.InDelta(t, 2, testutil.ToFloat64(m.RecordsAssembled), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BranchesAbandoned), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FieldErrors.WithLabelValues("award_amount")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ValidationViolations.WithLabelValues("dates")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FXRateMisses.WithLabelValues("DEM")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues(StatusNew)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues(StatusChanged)), 0)
}

func TestMetrics_RateMissLabelIsBounded(t *testing.T) {
	m := New()

	for _, code := range []string{"usd1", "Euro (approx.)", "12345", "", "DEM"} {
		m.RateMiss(code)
	}

	assert.InDelta(t, 4, testutil.ToFloat64(m.FXRateMisses.WithLabelValues("invalid")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FXRateMisses.WithLabelValues("DEM")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.FXRateMisses))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordAssembled()

	assert.InDelta(t, 0, testutil.ToFloat64(b.RecordsAssembled), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordAssembled()
		m.BranchAbandoned()
		m.FieldError("x")
		m.Violation("x")
		m.RateMiss("x")
		m.Emitted(StatusNew)
	})
	assert.NoError(t, m.WriteTextfile("ignored"))
	assert.Nil(t, m.Registry())
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.Emitted(StatusChanged)

	path := filepath.Join(t.TempDir(), "grantflow.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `grantflow_records_emitted_total{status="changed"} 1`))
}
