package memory

import (
	"context"
	"reflect"
	"testing"
	"time"

	"studycore/pkg/domain"
)

func exampleStudy(owner, id string) domain.Study {
	return domain.Study{
		Owner:   owner,
		StudyID: id,
		Spec: domain.StudySpec{
			Algorithm: "population",
			Metric:    domain.MetricSpec{Name: "loss", Goal: domain.GoalMinimize},
			Parameters: []domain.ParameterSpec{
				{Name: "x", Type: domain.ParameterDouble, MinValue: -1, MaxValue: 1},
				{Name: "y", Type: domain.ParameterDouble, MinValue: -1, MaxValue: 1},
			},
		},
	}
}

func TestStudyAPI(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	created, err := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	if created.Name != "owners/alice/studies/s1" {
		t.Fatalf("unexpected study name %q", created.Name)
	}
	if created.State != domain.StudyActive {
		t.Fatalf("new study state = %s", created.State)
	}

	loaded, err := store.LoadStudy(ctx, created.Name)
	if err != nil {
		t.Fatalf("load study: %v", err)
	}
	if !reflect.DeepEqual(created, loaded) {
		t.Fatalf("round-trip mismatch:\ncreated %+v\nloaded  %+v", created, loaded)
	}

	if _, err := store.CreateStudy(ctx, exampleStudy("alice", "s1")); !domain.IsAlreadyExists(err) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := store.LoadStudy(ctx, "owners/alice/studies/nope"); !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.CreateStudy(ctx, exampleStudy("alice", "s0")); err != nil {
		t.Fatalf("create second study: %v", err)
	}
	studies, err := store.ListStudies(ctx, "alice")
	if err != nil {
		t.Fatalf("list studies: %v", err)
	}
	if len(studies) != 2 || studies[0].StudyID != "s0" || studies[1].StudyID != "s1" {
		t.Fatalf("unexpected study listing %+v", studies)
	}
}

func TestDeleteStudyIsLogical(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	created, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))

	if err := store.DeleteStudy(ctx, created.Name); err != nil {
		t.Fatalf("delete study: %v", err)
	}
	loaded, err := store.LoadStudy(ctx, created.Name)
	if err != nil {
		t.Fatalf("deleted study must remain readable: %v", err)
	}
	if loaded.State != domain.StudyInactive {
		t.Fatalf("expected INACTIVE, got %s", loaded.State)
	}
	if err := store.DeleteStudy(ctx, "owners/alice/studies/nope"); !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTrialAPI(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))

	first, err := store.CreateTrial(ctx, domain.Trial{
		StudyName:  study.Name,
		Parameters: []domain.ParameterValue{domain.DoubleParameter("x", 0.5)},
	})
	if err != nil {
		t.Fatalf("create trial: %v", err)
	}
	if first.ID != 1 || first.Name != "owners/alice/studies/s1/trials/1" {
		t.Fatalf("unexpected first trial identity %d %q", first.ID, first.Name)
	}
	if first.State != domain.TrialActive {
		t.Fatalf("new trial state = %s", first.State)
	}
	second, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})
	if second.ID != 2 {
		t.Fatalf("sequence not monotonic: %d", second.ID)
	}

	got, err := store.GetTrial(ctx, first.Name)
	if err != nil {
		t.Fatalf("get trial: %v", err)
	}
	if !reflect.DeepEqual(first, got) {
		t.Fatalf("round-trip mismatch:\ncreated %+v\ngot     %+v", first, got)
	}

	trials, err := store.ListTrials(ctx, study.Name)
	if err != nil {
		t.Fatalf("list trials: %v", err)
	}
	if len(trials) != 2 || trials[0].ID != 1 || trials[1].ID != 2 {
		t.Fatalf("unexpected trial listing %+v", trials)
	}

	if _, err := store.CreateTrial(ctx, domain.Trial{StudyName: "owners/alice/studies/nope"}); !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for unknown study, got %v", err)
	}
	if _, err := store.ListTrials(ctx, "owners/alice/studies/nope"); !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for unknown study, got %v", err)
	}
}

func TestUpdateTrialRejectsCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})

	completed, err := store.UpdateTrial(ctx, trial.Name, func(tr *domain.Trial) error {
		tr.FinalMeasurement = &domain.Measurement{Metrics: map[string]float64{"loss": 1.0}}
		tr.State = domain.TrialCompleted
		return nil
	})
	if err != nil {
		t.Fatalf("complete trial: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatal("completion timestamp not assigned")
	}

	_, err = store.UpdateTrial(ctx, trial.Name, func(tr *domain.Trial) error {
		tr.State = domain.TrialActive
		return nil
	})
	if !domain.IsInvalidState(err) {
		t.Fatalf("expected ErrInvalidState for completed trial, got %v", err)
	}
}

func TestUpdateTrialPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})

	updated, err := store.UpdateTrial(ctx, trial.Name, func(tr *domain.Trial) error {
		tr.ID = 99
		tr.Name = "owners/bob/studies/x/trials/7"
		tr.Measurements = append(tr.Measurements, domain.Measurement{Metrics: map[string]float64{"loss": 2}})
		return nil
	})
	if err != nil {
		t.Fatalf("update trial: %v", err)
	}
	if updated.ID != trial.ID || updated.Name != trial.Name {
		t.Fatalf("identity fields mutated: %+v", updated)
	}
	if len(updated.Measurements) != 1 {
		t.Fatalf("measurement not appended")
	}
}

func TestSuggestOperationAPI(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))

	var ops []domain.SuggestOperation
	for i := 0; i < 4; i++ {
		op, err := store.CreateSuggestOperation(ctx, domain.SuggestOperation{
			Owner:     "alice",
			ClientID:  "client_0",
			StudyName: study.Name,
			Count:     2,
		})
		if err != nil {
			t.Fatalf("create suggest operation: %v", err)
		}
		ops = append(ops, op)
	}
	for i, op := range ops {
		if op.Number != int64(i+1) {
			t.Fatalf("operation %d numbered %d", i, op.Number)
		}
		if op.State != domain.OperationPending || op.Done {
			t.Fatalf("new operation not pending: %+v", op)
		}
		got, err := store.GetSuggestOperation(ctx, op.Name)
		if err != nil {
			t.Fatalf("get suggest operation: %v", err)
		}
		if !reflect.DeepEqual(op, got) {
			t.Fatalf("round-trip mismatch:\ncreated %+v\ngot     %+v", op, got)
		}
	}

	// Separate client keeps its own numbering.
	other, _ := store.CreateSuggestOperation(ctx, domain.SuggestOperation{
		Owner: "alice", ClientID: "client_1", StudyName: study.Name,
	})
	if other.Number != 1 {
		t.Fatalf("per-client numbering broken: %d", other.Number)
	}

	listed, err := store.ListSuggestOperations(ctx)
	if err != nil {
		t.Fatalf("list suggest operations: %v", err)
	}
	if len(listed) != 5 {
		t.Fatalf("expected 5 operations, got %d", len(listed))
	}
}

func TestSuggestOperationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	op, _ := store.CreateSuggestOperation(ctx, domain.SuggestOperation{
		Owner: "alice", ClientID: "c", StudyName: study.Name,
	})

	running, err := store.StartSuggestOperation(ctx, op.Name)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if running.State != domain.OperationRunning {
		t.Fatalf("state after start = %s", running.State)
	}

	suggestions := []domain.Suggestion{{Parameters: []domain.ParameterValue{domain.DoubleParameter("x", 0.1)}}}
	done, err := store.CompleteSuggestOperation(ctx, op.Name, suggestions, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Done || done.State != domain.OperationDone || len(done.Suggestions) != 1 {
		t.Fatalf("unexpected terminal operation %+v", done)
	}

	// Terminality: later completions and starts must fail and leave the
	// first result untouched.
	if _, err := store.CompleteSuggestOperation(ctx, op.Name, nil, &domain.OperationError{Code: domain.ErrorCodeRecycled, Message: "recycled"}); !domain.IsInvalidState(err) {
		t.Fatalf("expected ErrInvalidState on double completion, got %v", err)
	}
	if _, err := store.StartSuggestOperation(ctx, op.Name); !domain.IsInvalidState(err) {
		t.Fatalf("expected ErrInvalidState on start after done, got %v", err)
	}
	again, _ := store.GetSuggestOperation(ctx, op.Name)
	if !reflect.DeepEqual(done, again) {
		t.Fatalf("terminal result changed:\nfirst %+v\nlater %+v", done, again)
	}
}

func TestEarlyStoppingOperationAPI(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})

	op, err := store.CreateEarlyStoppingOperation(ctx, domain.EarlyStoppingOperation{
		Owner: "alice", StudyID: "s1", TrialName: trial.Name,
	})
	if err != nil {
		t.Fatalf("create early stopping operation: %v", err)
	}
	if op.Name != "owners/alice/studies/s1/earlyStoppingOperations/1" {
		t.Fatalf("unexpected operation name %q", op.Name)
	}

	if _, err := store.StartEarlyStoppingOperation(ctx, op.Name); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := store.CompleteEarlyStoppingOperation(ctx, op.Name, &domain.EarlyStopDecision{ShouldStop: true}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Done || !done.ShouldStop {
		t.Fatalf("unexpected terminal operation %+v", done)
	}
	if _, err := store.CompleteEarlyStoppingOperation(ctx, op.Name, nil, nil); !domain.IsInvalidState(err) {
		t.Fatalf("expected ErrInvalidState on double completion, got %v", err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})

	studyKVs := []domain.KeyValue{{Namespace: "b", Key: "a", Value: "C"}}
	trialKVs := []domain.TrialMetadata{
		{TrialID: trial.ID, Entries: []domain.KeyValue{{Namespace: "e", Key: "d", Value: "F"}}},
	}
	if err := store.UpdateMetadata(ctx, study.Name, studyKVs, trialKVs); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	loaded, _ := store.LoadStudy(ctx, study.Name)
	if !reflect.DeepEqual(loaded.Metadata, studyKVs) {
		t.Fatalf("study metadata = %+v", loaded.Metadata)
	}
	gotTrial, _ := store.GetTrial(ctx, trial.Name)
	if !reflect.DeepEqual(gotTrial.Metadata, trialKVs[0].Entries) {
		t.Fatalf("trial metadata = %+v", gotTrial.Metadata)
	}

	// Idempotence: applying the same payload twice changes nothing.
	if err := store.UpdateMetadata(ctx, study.Name, studyKVs, trialKVs); err != nil {
		t.Fatalf("second update metadata: %v", err)
	}
	twice, _ := store.LoadStudy(ctx, study.Name)
	if !reflect.DeepEqual(twice.Metadata, loaded.Metadata) {
		t.Fatalf("metadata merge not idempotent: %+v vs %+v", twice.Metadata, loaded.Metadata)
	}
}

func TestUpdateMetadataBestEffortAcrossTrials(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})

	err := store.UpdateMetadata(ctx, study.Name, nil, []domain.TrialMetadata{
		{TrialID: trial.ID, Entries: []domain.KeyValue{{Key: "k", Value: "v"}}},
		{TrialID: 99, Entries: []domain.KeyValue{{Key: "k", Value: "v"}}},
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for unknown trial, got %v", err)
	}
	// Entries for the valid trial were still merged.
	gotTrial, _ := store.GetTrial(ctx, trial.Name)
	if len(gotTrial.Metadata) != 1 || gotTrial.Metadata[0].Value != "v" {
		t.Fatalf("valid trial's entries were rolled back: %+v", gotTrial.Metadata)
	}
}

func TestUpdateMetadataOnCompletedTrial(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	trial, _ := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})
	if _, err := store.UpdateTrial(ctx, trial.Name, func(tr *domain.Trial) error {
		tr.State = domain.TrialCompleted
		return nil
	}); err != nil {
		t.Fatalf("complete trial: %v", err)
	}

	// Metadata stays mutable after completion.
	err := store.UpdateMetadata(ctx, study.Name, nil, []domain.TrialMetadata{
		{TrialID: trial.ID, Entries: []domain.KeyValue{{Key: "k", Value: "v"}}},
	})
	if err != nil {
		t.Fatalf("metadata update on completed trial: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	if _, err := store.CreateTrial(ctx, domain.Trial{StudyName: study.Name}); err != nil {
		t.Fatalf("create trial: %v", err)
	}
	if _, err := store.CreateSuggestOperation(ctx, domain.SuggestOperation{Owner: "alice", ClientID: "c", StudyName: study.Name}); err != nil {
		t.Fatalf("create operation: %v", err)
	}

	snap := store.ExportState()
	restored := NewStore()
	restored.ImportState(snap)

	// Sequences survive: the next trial continues numbering.
	trial, err := restored.CreateTrial(ctx, domain.Trial{StudyName: study.Name})
	if err != nil {
		t.Fatalf("create trial after import: %v", err)
	}
	if trial.ID != 2 {
		t.Fatalf("sequence lost across snapshot: %d", trial.ID)
	}
	if !reflect.DeepEqual(snap.Studies, restored.ExportState().Studies) {
		t.Fatal("studies changed across import")
	}
}

func TestCommitHookObservesEveryMutation(t *testing.T) {
	ctx := context.Background()
	var commits int
	store := NewStore(WithCommitHook(func(domain.Snapshot) error {
		commits++
		return nil
	}))
	study, _ := store.CreateStudy(ctx, exampleStudy("alice", "s1"))
	_, _ = store.CreateTrial(ctx, domain.Trial{StudyName: study.Name})
	_, _ = store.LoadStudy(ctx, study.Name) // reads do not commit
	if commits != 2 {
		t.Fatalf("expected 2 commits, got %d", commits)
	}
}

func TestClockOverride(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return fixed }))
	study, _ := store.CreateStudy(context.Background(), exampleStudy("alice", "s1"))
	if !study.CreatedAt.Equal(fixed) {
		t.Fatalf("clock override ignored: %v", study.CreatedAt)
	}
}
