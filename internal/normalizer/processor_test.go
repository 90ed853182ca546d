package normalizer

import (
	"context"
	"fmt"
	"testing"

	"grantflow/internal/models"
)

func TestNewProcessor(t *testing.T) {
	p := NewProcessor(New(), 0)
	if p == nil {
		t.Fatal("NewProcessor returned nil")
	}

	if p.workers != 1 {
		t.Errorf("workers = %d, want 1", p.workers)
	}
}

func TestProcessor_NormalizeBatch_PreservesOrder(t *testing.T) {
	p := NewProcessor(newTestNormalizer(), 8)

	raws := make([]models.RawFields, 50)
	for i := range raws {
		raws[i] = models.RawFields{
			"source":   "dfg.de",
			"grant_id": fmt.Sprintf("%d", i),
		}
	}

	results, err := p.NormalizeBatch(context.Background(), raws)
	if err != nil {
		t.Fatalf("NormalizeBatch returned unexpected error: %v", err)
	}

	if len(results) != len(raws) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(raws))
	}

	for i, rec := range Records(results) {
		want := fmt.Sprintf("dfg.de::%d", i)
		if rec.GrantID != want {
			t.Errorf("results[%d].GrantID = %s, want %s", i, rec.GrantID, want)
		}
	}
}

func TestProcessor_NormalizeBatch_Cancelled(t *testing.T) {
	p := NewProcessor(New(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.NormalizeBatch(ctx, []models.RawFields{{"source": "x"}})
	if err == nil {
		t.Error("NormalizeBatch expected error for cancelled context")
	}
}

func TestProcessor_Process(t *testing.T) {
	p := NewProcessor(New(), 1)

	res := p.Process(models.RawFields{"source": "x", "award_amount": "abc"})
	if res.Record == nil {
		t.Fatal("Process returned nil record")
	}

	if len(res.FieldErrors) != 1 {
		t.Errorf("FieldErrors = %v, want one", res.FieldErrors)
	}
}
