package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"
	"grantflow/pkg/fingerprint"

	"github.com/google/uuid"
)

// Status classifies a record against the dedup store.
type Status string

const (
	StatusNew       Status = metrics.StatusNew
	StatusChanged   Status = metrics.StatusChanged
	StatusUnchanged Status = metrics.StatusUnchanged
)

// volatileFields are left out of the content fingerprint. raw_source_data
// embeds the crawl timestamp of the page it was read from.
var volatileFields = []string{"_crawled_at", "raw_source_data"}

// Summary counts what one Emit call did.
type Summary struct {
	New        int
	Changed    int
	Unchanged  int
	Duplicates int
}

// Written returns the number of lines written.
func (s Summary) Written() int {
	return s.New + s.Changed
}

func (s *Summary) add(o Summary) {
	s.New += o.New
	s.Changed += o.Changed
	s.Unchanged += o.Unchanged
	s.Duplicates += o.Duplicates
}

// Emitter writes records one JSON object per line.
type Emitter struct {
	enc     *json.Encoder
	store   Store
	signer  *fingerprint.Signer
	runID   string
	total   Summary
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the logger. The default discards.
func WithLogger(log *logger.Logger) Option {
	return func(e *Emitter) { e.log = log }
}

// WithMetrics counts emitted records by status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Emitter) { e.runID = id }
}

// NewEmitter returns an Emitter writing to w. A nil store disables dedup
// across calls; duplicates within one call are still dropped.
func NewEmitter(w io.Writer, store Store, opts ...Option) *Emitter {
	signer := fingerprint.NewSigner()

	e := &Emitter{
		enc:    json.NewEncoder(io.MultiWriter(w, signer)),
		store:  store,
		signer: signer,
		runID:  uuid.NewString(),
		log:    logger.Discard(),
	}

	e.enc.SetEscapeHTML(false)

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RunID identifies this emitter's output in its manifest.
func (e *Emitter) RunID() string {
	return e.runID
}

// Total returns the counts accumulated over every Emit call.
func (e *Emitter) Total() Summary {
	return e.total
}

// Emit writes the new and changed records, skipping unchanged ones and
// repeated ids. The store is updated only after a record is written.
func (e *Emitter) Emit(records []*models.AwardRecord) (Summary, error) {
	var sum Summary

	seen := make(map[string]bool, len(records))

	for i, rec := range records {
		if rec == nil {
			continue
		}

		if seen[rec.GrantID] {
			sum.Duplicates++
			e.log.Warn("Duplicate grant id in batch, keeping the first",
				"grant_id", rec.GrantID, "index", i)

			continue
		}

		seen[rec.GrantID] = true

		fp, err := Fingerprint(rec)
		if err != nil {
			e.total.add(sum)
			return sum, err
		}

		status, err := e.classify(rec.GrantID, fp)
		if err != nil {
			e.total.add(sum)
			return sum, err
		}

		e.metrics.Emitted(string(status))

		if status == StatusUnchanged {
			sum.Unchanged++
			e.log.Debug("Skipping unchanged record", "grant_id", rec.GrantID)

			continue
		}

		if err := e.enc.Encode(rec); err != nil {
			e.total.add(sum)
			return sum, fmt.Errorf("failed to write record %s: %w", rec.GrantID, err)
		}

		if status == StatusNew {
			sum.New++
		} else {
			sum.Changed++
		}

		if e.store != nil {
			if err := e.store.Put(rec.GrantID, fp); err != nil {
				e.total.add(sum)
				return sum, err
			}
		}
	}

	e.total.add(sum)

	e.log.Info("Emitted records",
		"new", sum.New,
		"changed", sum.Changed,
		"unchanged", sum.Unchanged,
		"duplicates", sum.Duplicates)

	return sum, nil
}

func (e *Emitter) classify(id, fp string) (Status, error) {
	if e.store == nil {
		return StatusNew, nil
	}

	prev, found, err := e.store.Lookup(id)
	if err != nil {
		return "", err
	}

	switch {
	case !found:
		return StatusNew, nil
	case prev != fp:
		return StatusChanged, nil
	default:
		return StatusUnchanged, nil
	}
}

// Manifest describes everything this emitter has written so far.
func (e *Emitter) Manifest() fingerprint.Manifest {
	return e.signer.Sign(fingerprint.Manifest{
		RunID:         e.runID,
		SchemaVersion: models.SchemaVersion,
		Records:       e.total.Written(),
	})
}

// Fingerprint hashes the record's canonical JSON without its volatile fields.
// Object keys are sorted by the round trip through a map.
func Fingerprint(rec *models.AwardRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record %s: %w", rec.GrantID, err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("failed to decode record %s: %w", rec.GrantID, err)
	}

	for _, k := range volatileFields {
		delete(m, k)
	}

	canon, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize record %s: %w", rec.GrantID, err)
	}

	return fingerprint.Content(canon), nil
}

// VerifyManifest checks the output file against its manifest and record count.
func VerifyManifest(outputPath, manifestPath string) error {
	m, err := fingerprint.ReadManifest(manifestPath)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}

	if _, err := fingerprint.Verify(content, m); err != nil {
		return err
	}

	if lines := bytes.Count(content, []byte("\n")); lines != m.Records {
		return fmt.Errorf("%w: manifest lists %d records, file has %d",
			ErrRecordCountMismatch, m.Records, lines)
	}

	return nil
}

// ErrRecordCountMismatch means the hash matched but the manifest count did not.
var ErrRecordCountMismatch = errors.New("record count mismatch")
