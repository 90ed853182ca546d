package threader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"grantflow/internal/models"
)

// Replay errors.
var (
	ErrUnknownOp       = errors.New("unknown instruction op")
	ErrUnknownBranch   = errors.New("unknown or retired branch")
	ErrDuplicateRecord = errors.New("record already begun")
	ErrStreamEnded     = errors.New("instruction stream ended before branch completed")
	ErrRemoteAbandon   = errors.New("branch abandoned by extractor")
)

// Instruction ops.
const (
	OpBegin   = "begin"
	OpAdvance = "advance"
	OpAbandon = "abandon"
)

// Instruction is one line of a recorded extraction trace:
//
//	{"op":"begin","record":"r1","fields":{...}}
//	{"op":"advance","record":"r1","branch":"0","fields":{...},"hops":[{"url":"..."}]}
//	{"op":"abandon","record":"r1","branch":"0.1","error":"timeout"}
type Instruction struct {
	Fields models.RawFields `json:"fields,omitempty"`
	Op     string           `json:"op"`
	Record string           `json:"record"`
	Branch string           `json:"branch,omitempty"`
	Error  string           `json:"error,omitempty"`
	Hops   []Hop            `json:"hops,omitempty"`
}

// Replayer feeds a recorded trace through a Threader.
type Replayer struct {
	threader *Threader
	open     map[string]map[string]*Branch
}

// NewReplayer creates a replayer over t.
func NewReplayer(t *Threader) *Replayer {
	return &Replayer{
		threader: t,
		open:     make(map[string]map[string]*Branch),
	}
}

// Replay applies every instruction in r. Numbers in fields decode as
// json.Number. Branches still open when the stream ends, fails or ctx is
// cancelled are abandoned, so every begun record is finalized on return.
func (r *Replayer) Replay(ctx context.Context, in io.Reader) (err error) {
	defer func() {
		cause := ErrStreamEnded
		if err != nil {
			cause = err
		}

		r.abandonAll(cause)
	}()

	dec := json.NewDecoder(in)
	dec.UseNumber()

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ins Instruction
		if err := dec.Decode(&ins); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("instruction %d: %w", n, err)
		}

		if err := r.Apply(ins); err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
	}
}

// Apply executes one instruction.
func (r *Replayer) Apply(ins Instruction) error {
	switch ins.Op {
	case OpBegin:
		if _, exists := r.open[ins.Record]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, ins.Record)
		}

		root := r.threader.BeginWithKey(ins.Record, ins.Fields)
		r.open[ins.Record] = map[string]*Branch{root.ID(): root}

		return nil
	case OpAdvance:
		b, err := r.take(ins)
		if err != nil {
			return err
		}

		children, err := b.Advance(ins.Fields, ins.Hops...)
		if err != nil {
			return err
		}

		for _, c := range children {
			r.open[ins.Record][c.ID()] = c
		}

		r.prune(ins.Record)

		return nil
	case OpAbandon:
		b, err := r.take(ins)
		if err != nil {
			return err
		}

		cause := ErrRemoteAbandon
		if ins.Error != "" {
			cause = fmt.Errorf("%w: %s", ErrRemoteAbandon, ins.Error)
		}

		if err := b.Abandon(cause); err != nil {
			return err
		}

		r.prune(ins.Record)

		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownOp, ins.Op)
}

// take removes the addressed branch from the open set.
func (r *Replayer) take(ins Instruction) (*Branch, error) {
	branches := r.open[ins.Record]

	b, ok := branches[ins.Branch]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownBranch, ins.Record, ins.Branch)
	}

	delete(branches, ins.Branch)

	return b, nil
}

func (r *Replayer) prune(record string) {
	if len(r.open[record]) == 0 {
		delete(r.open, record)
	}
}

// Open returns the number of records not yet finalized.
func (r *Replayer) Open() int {
	return len(r.open)
}

func (r *Replayer) abandonAll(cause error) {
	records := make([]string, 0, len(r.open))
	for k := range r.open {
		records = append(records, k)
	}

	sort.Strings(records)

	for _, rec := range records {
		ids := make([]string, 0, len(r.open[rec]))
		for id := range r.open[rec] {
			ids = append(ids, id)
		}

		sort.Strings(ids)

		for _, id := range ids {
			_ = r.open[rec][id].Abandon(cause)
		}

		delete(r.open, rec)
	}
}
