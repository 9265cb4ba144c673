package designer

import (
	"testing"

	"studycore/pkg/domain"
)

func trialWithValue(id int64, value float64) domain.Trial {
	return domain.Trial{
		ID:    id,
		State: domain.TrialCompleted,
		FinalMeasurement: &domain.Measurement{
			Metrics: map[string]float64{"loss": value},
		},
	}
}

func TestAccumulatorFiresAtCapacity(t *testing.T) {
	acc, err := NewAccumulator(3)
	if err != nil {
		t.Fatalf("new accumulator: %v", err)
	}
	for i := int64(1); i <= 2; i++ {
		if batch, fired := acc.Push(trialWithValue(i, 0)); fired || batch != nil {
			t.Fatalf("fired early at %d trials", i)
		}
	}
	batch, fired := acc.Push(trialWithValue(3, 0))
	if !fired {
		t.Fatal("expected batch at capacity")
	}
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	if acc.Len() != 0 {
		t.Fatalf("buffer not cleared after batch, len=%d", acc.Len())
	}
}

func TestAccumulatorNeverExceedsCapacity(t *testing.T) {
	acc, err := NewAccumulator(2)
	if err != nil {
		t.Fatalf("new accumulator: %v", err)
	}
	var fired int
	var seen int
	for i := int64(1); i <= 7; i++ {
		batch, ok := acc.Push(trialWithValue(i, 0))
		if acc.Len() >= acc.Capacity() {
			t.Fatalf("buffer at %d with capacity %d", acc.Len(), acc.Capacity())
		}
		if ok {
			fired++
			seen += len(batch)
		}
	}
	if fired != 3 {
		t.Fatalf("expected 3 batches from 7 pushes at capacity 2, got %d", fired)
	}
	if seen+acc.Len() != 7 {
		t.Fatalf("trials lost: %d batched + %d buffered != 7", seen, acc.Len())
	}
}

func TestAccumulatorRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewAccumulator(0); err == nil {
		t.Fatal("expected error for capacity 0")
	}
}
