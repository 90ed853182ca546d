package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"grantflow/internal/models"
	"grantflow/internal/threader"
)

// Mode selects how Ingest reads its input.
type Mode string

const (
	// ModeFlat reads one raw field map per line.
	ModeFlat Mode = "flat"
	// ModeTrace replays a recorded extraction trace through the threader.
	ModeTrace Mode = "trace"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown input mode")

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFlat:
		return ModeFlat, nil
	case ModeTrace:
		return ModeTrace, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// readFlat decodes a stream of JSON objects.
func readFlat(ctx context.Context, in io.Reader) ([]models.RawFields, error) {
	dec := json.NewDecoder(in)
	dec.UseNumber()

	var raws []models.RawFields

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var raw models.RawFields
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return raws, nil
			}

			return nil, fmt.Errorf("record %d: %w", n, err)
		}

		if raw == nil {
			return nil, fmt.Errorf("record %d: null record", n)
		}

		raws = append(raws, raw)
	}
}

// assembly collects finalized records in finalization order.
type assembly struct {
	mu      sync.Mutex
	records []threader.Assembled
}

func (a *assembly) finalize(rec threader.Assembled) {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
}

func (a *assembly) all() []threader.Assembled {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]threader.Assembled(nil), a.records...)
}
