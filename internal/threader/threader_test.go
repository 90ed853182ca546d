package threader

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"
	"grantflow/internal/normalizer"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records finalized records.
type collector struct {
	mu   sync.Mutex
	recs []Assembled
}

func (c *collector) finalize(a Assembled) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recs = append(c.recs, a)
}

func (c *collector) all() []Assembled {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Assembled(nil), c.recs...)
}

func applicant(name string) models.RawFields {
	return models.RawFields{
		"named_participants": []any{map[string]any{"full_name": name}},
	}
}

func TestAdvance_SingleBranchFinalizes(t *testing.T) {
	c := &collector{}
	th := New(c.finalize)

	root := th.Begin(models.RawFields{"source": "sloan.org", "grant_id": "G-1"})
	children, err := root.Advance(models.RawFields{"grant_title": "Open Data"})
	require.NoError(t, err)
	assert.Empty(t, children)

	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "Open Data", recs[0].Fields["grant_title"])
	assert.Equal(t, "G-1", recs[0].Fields["grant_id"])
	assert.Equal(t, 1, recs[0].Branches)
	assert.True(t, recs[0].Complete())
}

func TestTwoApplicantBranchesJoinInCompletionOrder(t *testing.T) {
	tests := []struct {
		name      string
		order     []int
		wantNames []string
		wantPI    string
	}{
		{"A then B", []int{0, 1}, []string{"Applicant A", "Applicant B"}, "Applicant A"},
		{"B then A", []int{1, 0}, []string{"Applicant B", "Applicant A"}, "Applicant B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			th := New(c.finalize)

			root := th.Begin(models.RawFields{"source": "dfg.de", "project_id": "1"})
			children, err := root.Advance(
				models.RawFields{"recipient_org_name": "Universität Bonn"},
				Hop{URL: "/person/a", Fields: models.RawFields{"name": "Applicant A"}},
				Hop{URL: "/person/b", Fields: models.RawFields{"name": "Applicant B"}},
			)
			require.NoError(t, err)
			require.Len(t, children, 2)
			assert.Empty(t, c.all(), "record must wait for both applicants")

			for _, i := range tt.order {
				name := children[i].Fields()["name"].(string)
				_, err := children[i].Advance(applicant(name))
				require.NoError(t, err)
			}

			recs := c.all()
			require.Len(t, recs, 1)
			assert.Equal(t, 3, recs[0].Branches)

			rec, _ := normalizer.New().Normalize(recs[0].Fields)

			names := make([]string, len(rec.NamedParticipants))
			for i, p := range rec.NamedParticipants {
				names[i] = p.FullName
			}

			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantPI, models.Deref(rec.PiName))
		})
	}
}

func TestBranchViewsArePrivate(t *testing.T) {
	c := &collector{}
	th := New(c.finalize)

	root := th.Begin(models.RawFields{"source": "x", "tags": []any{"a"}})
	children, err := root.Advance(nil, Hop{Fields: models.RawFields{"hop": 1}}, Hop{Fields: models.RawFields{"hop": 2}})
	require.NoError(t, err)

	first, second := children[0].Fields(), children[1].Fields()
	first["source"] = "changed"
	first["tags"] = append(first["tags"].([]any), "b")

	assert.Equal(t, "x", second["source"])
	assert.Equal(t, []any{"a"}, second["tags"])
	assert.Equal(t, 1, first["hop"])
	assert.Equal(t, 2, second["hop"])
	assert.Equal(t, "0.0", children[0].ID())
	assert.Equal(t, "0.1", children[1].ID())

	for _, ch := range children {
		_, err := ch.Advance(nil)
		require.NoError(t, err)
	}

	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].Fields["source"])
	assert.Equal(t, []any{"a"}, recs[0].Fields["tags"])
	assert.NotContains(t, recs[0].Fields, "hop")
}

func TestAbandonedBranchLeavesFieldsUnset(t *testing.T) {
	m := metrics.New()
	c := &collector{}
	th := New(c.finalize, WithMetrics(m))

	root := th.Begin(models.RawFields{"source": "x"})
	children, err := root.Advance(models.RawFields{"grant_title": "T"}, Hop{URL: "/pi"}, Hop{URL: "/budget"})
	require.NoError(t, err)

	cause := errors.New("404 not found")
	require.NoError(t, children[1].Abandon(cause))
	assert.Empty(t, c.all())

	_, err = children[0].Advance(models.RawFields{"pi_name": "Jane Roe"})
	require.NoError(t, err)

	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Abandoned)
	assert.False(t, recs[0].Complete())
	assert.Equal(t, "Jane Roe", recs[0].Fields["pi_name"])
	assert.NotContains(t, recs[0].Fields, "award_amount")
	assert.ErrorIs(t, recs[0].Errors[0], cause)

	assert.InDelta(t, 1, testutil.ToFloat64(m.BranchesAbandoned), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordsAssembled), 0)
}

func TestBranchRetiresOnce(t *testing.T) {
	c := &collector{}
	th := New(c.finalize)

	root := th.Begin(models.RawFields{"source": "x"})
	_, err := root.Advance(nil)
	require.NoError(t, err)

	_, err = root.Advance(models.RawFields{"late": true})
	assert.ErrorIs(t, err, ErrBranchRetired)
	assert.ErrorIs(t, root.Abandon(nil), ErrBranchRetired)
	assert.True(t, root.Retired())

	recs := c.all()
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0].Fields, "late")
}

func TestScalarConflictIsLastWriterWins(t *testing.T) {
	var buf bytes.Buffer

	c := &collector{}
	th := New(c.finalize, WithLogger(logger.NewLoggerWithWriter(&buf, "info", "text")))

	root := th.Begin(models.RawFields{"source": "x"})
	children, err := root.Advance(models.RawFields{"grant_year": "2020"}, Hop{}, Hop{})
	require.NoError(t, err)

	_, err = children[0].Advance(models.RawFields{"grant_year": "2020"})
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "Conflicting", "equal values merge silently")

	_, err = children[1].Advance(models.RawFields{"grant_year": "2021"})
	require.NoError(t, err)

	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "2021", recs[0].Fields["grant_year"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "field=grant_year")
}

func TestConcurrentBranchesFinalizeExactlyOnce(t *testing.T) {
	const (
		records = 50
		fanout  = 20
	)

	c := &collector{}
	th := New(c.finalize)

	var wg sync.WaitGroup

	for r := 0; r < records; r++ {
		root := th.Begin(models.RawFields{"source": "x", "grant_id": fmt.Sprintf("%d", r)})

		hops := make([]Hop, fanout)
		for i := range hops {
			hops[i] = Hop{Fields: models.RawFields{"n": i}}
		}

		children, err := root.Advance(models.RawFields{"named_participants": []any{}}, hops...)
		require.NoError(t, err)

		for _, ch := range children {
			wg.Add(1)

			go func(b *Branch) {
				defer wg.Done()

				n := b.Fields()["n"].(int)
				if n%7 == 0 {
					_ = b.Abandon(errors.New("timeout"))

					return
				}

				_, _ = b.Advance(models.RawFields{
					"named_participants": []any{map[string]any{"full_name": fmt.Sprintf("P%d", n)}},
				})
			}(ch)
		}
	}

	wg.Wait()

	recs := c.all()
	require.Len(t, recs, records)

	seen := make(map[string]bool)
	for _, rec := range recs {
		assert.False(t, seen[rec.Key], "record %s finalized twice", rec.Key)
		seen[rec.Key] = true

		assert.Equal(t, fanout+1, rec.Branches)
		assert.Equal(t, 3, rec.Abandoned)
		assert.Len(t, rec.Fields["named_participants"], fanout-3)
	}
}
