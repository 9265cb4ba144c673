package studymanager

import (
	"context"
	"testing"
	"time"

	"studycore/internal/infra/persistence/memory"
	"studycore/pkg/domain"
)

func pendingSuggestOp(t *testing.T, store domain.DataStore) domain.SuggestOperation {
	t.Helper()
	ctx := context.Background()
	study, err := store.CreateStudy(ctx, newStudy())
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	op, err := store.CreateSuggestOperation(ctx, domain.SuggestOperation{
		Owner:     "alice",
		ClientID:  "worker-0",
		StudyName: study.Name,
		Count:     1,
	})
	if err != nil {
		t.Fatalf("create operation: %v", err)
	}
	return op
}

func TestRecyclerTerminatesStaleOperations(t *testing.T) {
	store := memory.NewStore()
	op := pendingSuggestOp(t, store)

	r := NewRecycler(store, 100*time.Millisecond)
	r.nowFn = func() time.Time { return time.Now().Add(time.Second) }
	r.Sweep(context.Background())

	got, err := store.GetSuggestOperation(context.Background(), op.Name)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if !got.Done {
		t.Fatal("stale operation not recycled")
	}
	if got.Error == nil || got.Error.Code != domain.ErrorCodeRecycled {
		t.Fatalf("expected recycled error code, got %+v", got.Error)
	}
}

func TestRecyclerLeavesFreshOperationsAlone(t *testing.T) {
	store := memory.NewStore()
	op := pendingSuggestOp(t, store)

	r := NewRecycler(store, time.Hour)
	r.Sweep(context.Background())

	got, err := store.GetSuggestOperation(context.Background(), op.Name)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if got.Done {
		t.Fatal("fresh operation was recycled")
	}
}

func TestRecyclerLosesRaceGracefully(t *testing.T) {
	store := memory.NewStore()
	op := pendingSuggestOp(t, store)
	ctx := context.Background()

	// The genuine result lands first.
	suggestions := []domain.Suggestion{{Parameters: []domain.ParameterValue{domain.DoubleParameter("lr", 0.5)}}}
	if _, err := store.CompleteSuggestOperation(ctx, op.Name, suggestions, nil); err != nil {
		t.Fatalf("complete operation: %v", err)
	}

	r := NewRecycler(store, 100*time.Millisecond)
	r.nowFn = func() time.Time { return time.Now().Add(time.Second) }
	r.Sweep(ctx)

	got, err := store.GetSuggestOperation(ctx, op.Name)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if got.Error != nil {
		t.Fatalf("recycler overwrote the genuine result: %+v", got.Error)
	}
	if len(got.Suggestions) != 1 {
		t.Fatalf("genuine suggestions lost: %+v", got.Suggestions)
	}
}

func TestRecyclerHandlesEarlyStoppingOperations(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	study, err := store.CreateStudy(ctx, newStudy())
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	trial, err := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})
	if err != nil {
		t.Fatalf("create trial: %v", err)
	}
	op, err := store.CreateEarlyStoppingOperation(ctx, domain.EarlyStoppingOperation{
		Owner:     "alice",
		StudyID:   "mnist",
		TrialName: trial.Name,
	})
	if err != nil {
		t.Fatalf("create operation: %v", err)
	}

	r := NewRecycler(store, 100*time.Millisecond)
	r.nowFn = func() time.Time { return time.Now().Add(time.Second) }
	r.Sweep(ctx)

	got, err := store.GetEarlyStoppingOperation(ctx, op.Name)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if !got.Done || got.Error == nil || got.Error.Code != domain.ErrorCodeRecycled {
		t.Fatalf("expected recycled early-stopping operation, got %+v", got)
	}
}
