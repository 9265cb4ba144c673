package domain

import (
	"testing"
	"time"
)

func TestMergeKeyValuesReplacesWithinNamespace(t *testing.T) {
	base := []KeyValue{
		{Namespace: "a", Key: "k", Value: "1"},
		{Namespace: "b", Key: "k", Value: "2"},
	}
	merged := MergeKeyValues(base, []KeyValue{
		{Namespace: "a", Key: "k", Value: "3"},
		{Namespace: "c", Key: "k", Value: "4"},
	})
	if len(merged) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(merged))
	}
	if merged[0].Value != "3" {
		t.Fatalf("expected ns=a key=k replaced with 3, got %q", merged[0].Value)
	}
	if merged[1].Value != "2" {
		t.Fatalf("entry in other namespace must be untouched, got %q", merged[1].Value)
	}
}

func TestMergeKeyValuesIdempotent(t *testing.T) {
	base := []KeyValue{{Key: "k", Value: "old"}}
	updates := []KeyValue{{Key: "k", Value: "new"}, {Namespace: "n", Key: "k", Value: "x"}}
	once := MergeKeyValues(base, updates)
	twice := MergeKeyValues(once, updates)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d vs %d entries", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("merge not idempotent at %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestMergeKeyValuesDoesNotMutateBase(t *testing.T) {
	base := []KeyValue{{Key: "k", Value: "old"}}
	_ = MergeKeyValues(base, []KeyValue{{Key: "k", Value: "new"}})
	if base[0].Value != "old" {
		t.Fatalf("base slice mutated: %q", base[0].Value)
	}
}

func TestTrialCloneIsDeep(t *testing.T) {
	at := time.Now().UTC()
	trial := Trial{
		Name:       "owners/a/studies/s/trials/1",
		ID:         1,
		Parameters: []ParameterValue{DoubleParameter("x", 1.5)},
		Measurements: []Measurement{
			{StepCount: 1, Metrics: map[string]float64{"loss": 0.4}},
		},
		FinalMeasurement: &Measurement{Metrics: map[string]float64{"loss": 0.2}},
		Metadata:         []KeyValue{{Key: "k", Value: "v"}},
		CompletedAt:      &at,
	}
	cp := trial.Clone()
	*cp.Parameters[0].DoubleValue = 9.9
	cp.Measurements[0].Metrics["loss"] = 9.9
	cp.FinalMeasurement.Metrics["loss"] = 9.9
	cp.Metadata[0].Value = "mutated"

	if *trial.Parameters[0].DoubleValue != 1.5 {
		t.Fatal("parameter value shared with clone")
	}
	if trial.Measurements[0].Metrics["loss"] != 0.4 {
		t.Fatal("measurement metrics shared with clone")
	}
	if trial.FinalMeasurement.Metrics["loss"] != 0.2 {
		t.Fatal("final measurement shared with clone")
	}
	if trial.Metadata[0].Value != "v" {
		t.Fatal("metadata shared with clone")
	}
}

func TestSuggestOperationCloneIsDeep(t *testing.T) {
	op := SuggestOperation{
		Name:        "owners/a/clients/c/suggestOperations/1",
		Suggestions: []Suggestion{{Parameters: []ParameterValue{DoubleParameter("x", 1)}}},
		Error:       &OperationError{Code: ErrorCodeAlgorithm, Message: "boom"},
	}
	cp := op.Clone()
	*cp.Suggestions[0].Parameters[0].DoubleValue = 2
	cp.Error.Message = "mutated"
	if *op.Suggestions[0].Parameters[0].DoubleValue != 1 {
		t.Fatal("suggestion shared with clone")
	}
	if op.Error.Message != "boom" {
		t.Fatal("error shared with clone")
	}
}

func TestObjective(t *testing.T) {
	trial := Trial{}
	if _, ok := trial.Objective("loss"); ok {
		t.Fatal("objective on trial without final measurement")
	}
	trial.FinalMeasurement = &Measurement{Metrics: map[string]float64{"loss": 3.0}}
	v, ok := trial.Objective("loss")
	if !ok || v != 3.0 {
		t.Fatalf("objective = %v, %v", v, ok)
	}
	if _, ok := trial.Objective("accuracy"); ok {
		t.Fatal("objective for unknown metric")
	}
}

func TestIsConditional(t *testing.T) {
	spec := StudySpec{Parameters: []ParameterSpec{{Name: "x", Type: ParameterDouble}}}
	if spec.IsConditional() {
		t.Fatal("flat space reported conditional")
	}
	spec.Parameters[0].Children = []ParameterSpec{{Name: "y", Type: ParameterDouble}}
	if !spec.IsConditional() {
		t.Fatal("conditional space not detected")
	}
}
