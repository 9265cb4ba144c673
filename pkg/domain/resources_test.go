package domain

import "testing"

func TestStudyNameRoundTrip(t *testing.T) {
	name := StudyName("alice", "mnist-7")
	if name != "owners/alice/studies/mnist-7" {
		t.Fatalf("unexpected study name %q", name)
	}
	res, err := ParseStudyName(name)
	if err != nil {
		t.Fatalf("parse study name: %v", err)
	}
	if res.Owner != "alice" || res.StudyID != "mnist-7" {
		t.Fatalf("unexpected parse result %+v", res)
	}
	if res.Name() != name {
		t.Fatalf("re-format mismatch: %q", res.Name())
	}
}

func TestTrialNameRoundTrip(t *testing.T) {
	name := TrialName("alice", "mnist-7", 12)
	res, err := ParseTrialName(name)
	if err != nil {
		t.Fatalf("parse trial name: %v", err)
	}
	if res.TrialID != 12 {
		t.Fatalf("unexpected trial id %d", res.TrialID)
	}
	if res.StudyName() != StudyName("alice", "mnist-7") {
		t.Fatalf("unexpected study name %q", res.StudyName())
	}
}

func TestSuggestOperationNameRoundTrip(t *testing.T) {
	name := SuggestOperationName("alice", "client_0", 4)
	res, err := ParseSuggestOperationName(name)
	if err != nil {
		t.Fatalf("parse suggest operation name: %v", err)
	}
	if res.Owner != "alice" || res.ClientID != "client_0" || res.Number != 4 {
		t.Fatalf("unexpected parse result %+v", res)
	}
}

func TestEarlyStoppingOperationNameRoundTrip(t *testing.T) {
	name := EarlyStoppingOperationName("alice", "mnist-7", 2)
	res, err := ParseEarlyStoppingOperationName(name)
	if err != nil {
		t.Fatalf("parse early stopping operation name: %v", err)
	}
	if res.StudyID != "mnist-7" || res.Number != 2 {
		t.Fatalf("unexpected parse result %+v", res)
	}
}

func TestParseRejectsMalformedNames(t *testing.T) {
	bad := []string{
		"",
		"owners/alice",
		"owners/alice/studies",
		"owners//studies/x",
		"owners/alice/studies/x/trials/0",
		"owners/alice/studies/x/trials/abc",
		"owners/alice/clients/c/suggestOperations/-1",
		"studies/x/owners/alice",
	}
	for _, name := range bad {
		if _, err := ParseStudyName(name); err == nil && name != "owners/alice/studies/x/trials/0" && name != "owners/alice/studies/x/trials/abc" && name != "owners/alice/clients/c/suggestOperations/-1" {
			t.Errorf("ParseStudyName(%q) accepted malformed name", name)
		}
		if _, err := ParseTrialName(name); err == nil {
			t.Errorf("ParseTrialName(%q) accepted malformed name", name)
		}
		if _, err := ParseSuggestOperationName(name); err == nil {
			t.Errorf("ParseSuggestOperationName(%q) accepted malformed name", name)
		}
	}
}
