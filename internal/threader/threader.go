// Package threader reassembles one logical record from a chain of fetches
// that may branch (an index page, a detail page, one sub-page per
// participant).
//
// Each record owns one state: a field map, a mutex guarding it and a join
// counter. Branches of the same record synchronise only on that state;
// different records share nothing. A record is finalized exactly once, when
// the last of its branches completes or is abandoned.
package threader

import (
	"errors"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"
)

// ErrBranchRetired is returned when a branch is advanced or abandoned twice.
var ErrBranchRetired = errors.New("branch already retired")

// Hop is one follow-up fetch. Fields are context for the child branch only
// (a participant's profile URL, its position in the list); they reach the
// record when the child passes them back to Advance.
type Hop struct {
	Fields models.RawFields `json:"fields,omitempty"`
	URL    string           `json:"url,omitempty"`
}

// Assembled is a finalized record.
type Assembled struct {
	Fields    models.RawFields
	Key       string
	Errors    []error
	Branches  int
	Abandoned int
}

// Complete reports whether every branch contributed.
func (a Assembled) Complete() bool {
	return a.Abandoned == 0
}

// FinalizeFunc receives each finalized record. It is called from whichever
// goroutine retires the record's last branch.
type FinalizeFunc func(Assembled)

// Threader creates record states and finalizes them.
type Threader struct {
	finalize FinalizeFunc
	log      *logger.Logger
	metrics  *metrics.Metrics
	seq      atomic.Uint64
}

// Option configures a Threader.
type Option func(*Threader)

// WithLogger sets the logger for merge conflicts and abandoned branches.
func WithLogger(l *logger.Logger) Option {
	return func(t *Threader) { t.log = l.With("component", "threader") }
}

// WithMetrics sets the assembled and abandoned counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Threader) { t.metrics = m }
}

// New creates a Threader that hands finalized records to finalize.
func New(finalize FinalizeFunc, opts ...Option) *Threader {
	t := &Threader{
		finalize: finalize,
		log:      logger.Discard(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Begin starts a record from seed and returns its root branch. The record
// key is generated.
func (t *Threader) Begin(seed models.RawFields) *Branch {
	return t.BeginWithKey("rec-"+strconv.FormatUint(t.seq.Add(1), 10), seed)
}

// BeginWithKey starts a record under a caller-chosen key.
func (t *Threader) BeginWithKey(key string, seed models.RawFields) *Branch {
	s := &state{
		threader: t,
		key:      key,
		fields:   seed.Clone(),
	}
	s.pending.Store(1)
	s.spawned.Store(1)

	return &Branch{
		id:    "0",
		state: s,
		view:  seed.Clone(),
	}
}

type state struct {
	threader *Threader
	fields   models.RawFields
	key      string
	errs     []error
	mu       sync.Mutex

	pending   atomic.Int64
	spawned   atomic.Int64
	abandoned atomic.Int64
}

// merge applies newFields. Lists append; differing scalars are
// last-writer-wins. Caller holds s.mu.
func (s *state) merge(branch string, newFields models.RawFields) {
	for k, v := range newFields {
		if v == nil {
			continue
		}

		existing, ok := s.fields[k]
		if !ok || existing == nil {
			s.fields[k] = models.RawFields{k: v}.Clone()[k]

			continue
		}

		if isList(existing) {
			incoming := models.RawFields{k: v}.Clone().List(k)
			s.fields[k] = append(s.fields.List(k), incoming...)

			continue
		}

		if reflect.DeepEqual(existing, v) {
			continue
		}

		s.threader.log.Warn("Conflicting values for field, keeping the later one",
			"record", s.key, "branch", branch, "field", k,
			"previous", models.Stringify(existing), "value", models.Stringify(v))
		s.fields[k] = models.RawFields{k: v}.Clone()[k]
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []map[string]any:
		return true
	}

	return false
}

// done retires one branch and finalizes the record when it was the last.
func (s *state) done() {
	if s.pending.Add(-1) != 0 {
		return
	}

	s.mu.Lock()
	out := Assembled{
		Key:       s.key,
		Fields:    s.fields,
		Errors:    s.errs,
		Branches:  int(s.spawned.Load()),
		Abandoned: int(s.abandoned.Load()),
	}
	s.fields = nil
	s.mu.Unlock()

	t := s.threader
	t.metrics.RecordAssembled()
	t.log.Debug("Record finalized", "record", out.Key, "branches", out.Branches, "abandoned", out.Abandoned)

	if t.finalize != nil {
		t.finalize(out)
	}
}

// Branch is one path through a record's fetch chain.
type Branch struct {
	state   *state
	view    models.RawFields
	hop     Hop
	id      string
	retired atomic.Bool
}

// ID identifies the branch within its record: "0" for the root, "0.1" for
// the root's second child.
func (b *Branch) ID() string {
	return b.id
}

// Key returns the record key.
func (b *Branch) Key() string {
	return b.state.key
}

// Hop returns the hop that spawned this branch; zero for the root.
func (b *Branch) Hop() Hop {
	return b.hop
}

// Fields returns the branch's own copy of the record: the accumulated
// fields when it was spawned plus its hop's fields. Writes to it are not
// seen by the record or by sibling branches.
func (b *Branch) Fields() models.RawFields {
	return b.view
}

// Advance merges newFields into the record, spawns one child per hop and
// retires b. Children are counted before b is retired, so the record
// cannot finalize between the two.
func (b *Branch) Advance(newFields models.RawFields, hops ...Hop) ([]*Branch, error) {
	if !b.retired.CompareAndSwap(false, true) {
		return nil, ErrBranchRetired
	}

	s := b.state

	var snapshot models.RawFields

	s.mu.Lock()
	s.merge(b.id, newFields)

	if len(hops) > 0 {
		snapshot = s.fields.Clone()
	}
	s.mu.Unlock()

	children := make([]*Branch, len(hops))

	s.pending.Add(int64(len(hops)))
	s.spawned.Add(int64(len(hops)))

	for i, hop := range hops {
		view := snapshot.Clone()
		for k, v := range hop.Fields.Clone() {
			view[k] = v
		}

		children[i] = &Branch{
			id:    b.id + "." + strconv.Itoa(i),
			state: s,
			view:  view,
			hop:   hop,
		}
	}

	s.done()

	return children, nil
}

// Abandon retires b without contributing fields. The record still
// finalizes, with whatever the other branches supplied.
func (b *Branch) Abandon(cause error) error {
	if !b.retired.CompareAndSwap(false, true) {
		return ErrBranchRetired
	}

	s := b.state
	s.abandoned.Add(1)

	if cause != nil {
		s.mu.Lock()
		s.errs = append(s.errs, cause)
		s.mu.Unlock()
	}

	s.threader.metrics.BranchAbandoned()
	s.threader.log.Warn("Branch abandoned", "record", s.key, "branch", b.id, "url", b.hop.URL, "error", cause)

	s.done()

	return nil
}

// Retired reports whether b has been advanced or abandoned.
func (b *Branch) Retired() bool {
	return b.retired.Load()
}
