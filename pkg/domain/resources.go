package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Resource name scheme. All persisted entities are addressed by hierarchical
// names so that callers hold only ids and re-fetch state from the datastore:
//
//	owners/{owner}/studies/{study}
//	owners/{owner}/studies/{study}/trials/{n}
//	owners/{owner}/clients/{client}/suggestOperations/{n}
//	owners/{owner}/studies/{study}/earlyStoppingOperations/{n}

// StudyName formats the resource name of a study.
func StudyName(owner, studyID string) string {
	return fmt.Sprintf("owners/%s/studies/%s", owner, studyID)
}

// TrialName formats the resource name of a trial within a study.
func TrialName(owner, studyID string, trialID int64) string {
	return fmt.Sprintf("owners/%s/studies/%s/trials/%d", owner, studyID, trialID)
}

// SuggestOperationName formats the resource name of a suggest operation.
// Suggest operations are numbered per (owner, client) pair.
func SuggestOperationName(owner, clientID string, number int64) string {
	return fmt.Sprintf("owners/%s/clients/%s/suggestOperations/%d", owner, clientID, number)
}

// EarlyStoppingOperationName formats the resource name of an early-stopping
// operation. These are numbered per study.
func EarlyStoppingOperationName(owner, studyID string, number int64) string {
	return fmt.Sprintf("owners/%s/studies/%s/earlyStoppingOperations/%d", owner, studyID, number)
}

// StudyResource is the parsed form of a study name.
type StudyResource struct {
	Owner   string
	StudyID string
}

// Name re-formats the resource name.
func (r StudyResource) Name() string { return StudyName(r.Owner, r.StudyID) }

// TrialResource is the parsed form of a trial name.
type TrialResource struct {
	Owner   string
	StudyID string
	TrialID int64
}

// Name re-formats the resource name.
func (r TrialResource) Name() string { return TrialName(r.Owner, r.StudyID, r.TrialID) }

// StudyName returns the name of the owning study.
func (r TrialResource) StudyName() string { return StudyName(r.Owner, r.StudyID) }

// ParseStudyName parses "owners/{owner}/studies/{study}".
func ParseStudyName(name string) (StudyResource, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != "owners" || parts[2] != "studies" || parts[1] == "" || parts[3] == "" {
		return StudyResource{}, fmt.Errorf("malformed study name %q", name)
	}
	return StudyResource{Owner: parts[1], StudyID: parts[3]}, nil
}

// ParseTrialName parses "owners/{owner}/studies/{study}/trials/{n}".
func ParseTrialName(name string) (TrialResource, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "owners" || parts[2] != "studies" || parts[4] != "trials" {
		return TrialResource{}, fmt.Errorf("malformed trial name %q", name)
	}
	id, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil || id <= 0 {
		return TrialResource{}, fmt.Errorf("malformed trial name %q: bad sequence number", name)
	}
	return TrialResource{Owner: parts[1], StudyID: parts[3], TrialID: id}, nil
}

// SuggestOperationResource is the parsed form of a suggest operation name.
type SuggestOperationResource struct {
	Owner    string
	ClientID string
	Number   int64
}

// Name re-formats the resource name.
func (r SuggestOperationResource) Name() string {
	return SuggestOperationName(r.Owner, r.ClientID, r.Number)
}

// ParseSuggestOperationName parses
// "owners/{owner}/clients/{client}/suggestOperations/{n}".
func ParseSuggestOperationName(name string) (SuggestOperationResource, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "owners" || parts[2] != "clients" || parts[4] != "suggestOperations" {
		return SuggestOperationResource{}, fmt.Errorf("malformed suggest operation name %q", name)
	}
	n, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil || n <= 0 {
		return SuggestOperationResource{}, fmt.Errorf("malformed suggest operation name %q: bad number", name)
	}
	return SuggestOperationResource{Owner: parts[1], ClientID: parts[3], Number: n}, nil
}

// EarlyStoppingOperationResource is the parsed form of an early-stopping
// operation name.
type EarlyStoppingOperationResource struct {
	Owner   string
	StudyID string
	Number  int64
}

// Name re-formats the resource name.
func (r EarlyStoppingOperationResource) Name() string {
	return EarlyStoppingOperationName(r.Owner, r.StudyID, r.Number)
}

// ParseEarlyStoppingOperationName parses
// "owners/{owner}/studies/{study}/earlyStoppingOperations/{n}".
func ParseEarlyStoppingOperationName(name string) (EarlyStoppingOperationResource, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "owners" || parts[2] != "studies" || parts[4] != "earlyStoppingOperations" {
		return EarlyStoppingOperationResource{}, fmt.Errorf("malformed early stopping operation name %q", name)
	}
	n, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil || n <= 0 {
		return EarlyStoppingOperationResource{}, fmt.Errorf("malformed early stopping operation name %q: bad number", name)
	}
	return EarlyStoppingOperationResource{Owner: parts[1], StudyID: parts[3], Number: n}, nil
}
