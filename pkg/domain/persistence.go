package domain

import (
	"context"
	"time"
)

// DataStore is the single source of truth for studies, trials and operations.
// Every method is linearizable per entity: a completed write is visible to
// all subsequent reads from any caller. No cross-entity transaction exists
// beyond the atomic unit of each call; UpdateMetadata is explicitly
// best-effort across trials.
type DataStore interface {
	// CreateStudy persists a new study. The study's Name, State and
	// timestamps are assigned by the store. Fails with ErrAlreadyExists
	// when the (owner, study id) pair is taken.
	CreateStudy(ctx context.Context, study Study) (Study, error)
	// LoadStudy returns the named study or ErrNotFound.
	LoadStudy(ctx context.Context, name string) (Study, error)
	// ListStudies returns all studies belonging to an owner.
	ListStudies(ctx context.Context, owner string) ([]Study, error)
	// DeleteStudy logically deletes a study by marking it INACTIVE. The
	// record and its trials remain readable.
	DeleteStudy(ctx context.Context, name string) error

	// CreateTrial persists a new trial under its study, assigning the next
	// sequence number and the trial's name.
	CreateTrial(ctx context.Context, trial Trial) (Trial, error)
	// GetTrial returns the named trial or ErrNotFound.
	GetTrial(ctx context.Context, name string) (Trial, error)
	// ListTrials returns the study's trials in sequence order.
	ListTrials(ctx context.Context, studyName string) ([]Trial, error)
	// UpdateTrial applies mutator to the named trial. Mutations of a
	// COMPLETED trial fail with ErrInvalidState; metadata updates go
	// through UpdateMetadata instead.
	UpdateTrial(ctx context.Context, name string, mutator func(*Trial) error) (Trial, error)

	// CreateSuggestOperation persists a new PENDING operation, assigning
	// the next number for the (owner, client) pair and the name.
	CreateSuggestOperation(ctx context.Context, op SuggestOperation) (SuggestOperation, error)
	// GetSuggestOperation returns the named operation or ErrNotFound.
	GetSuggestOperation(ctx context.Context, name string) (SuggestOperation, error)
	// ListSuggestOperations returns every suggest operation in the store.
	ListSuggestOperations(ctx context.Context) ([]SuggestOperation, error)
	// StartSuggestOperation transitions PENDING -> RUNNING. Fails with
	// ErrInvalidState once the operation is done.
	StartSuggestOperation(ctx context.Context, name string) (SuggestOperation, error)
	// CompleteSuggestOperation transitions the operation to its terminal
	// state with either suggestions or an error. Exactly one completion
	// wins; later attempts fail with ErrInvalidState and the first result
	// is never overwritten.
	CompleteSuggestOperation(ctx context.Context, name string, suggestions []Suggestion, opErr *OperationError) (SuggestOperation, error)

	// CreateEarlyStoppingOperation persists a new PENDING operation,
	// numbering it within its study.
	CreateEarlyStoppingOperation(ctx context.Context, op EarlyStoppingOperation) (EarlyStoppingOperation, error)
	// GetEarlyStoppingOperation returns the named operation or ErrNotFound.
	GetEarlyStoppingOperation(ctx context.Context, name string) (EarlyStoppingOperation, error)
	// ListEarlyStoppingOperations returns every early-stopping operation.
	ListEarlyStoppingOperations(ctx context.Context) ([]EarlyStoppingOperation, error)
	// StartEarlyStoppingOperation transitions PENDING -> RUNNING.
	StartEarlyStoppingOperation(ctx context.Context, name string) (EarlyStoppingOperation, error)
	// CompleteEarlyStoppingOperation resolves the operation with a stop
	// decision or an error, first writer wins.
	CompleteEarlyStoppingOperation(ctx context.Context, name string, decision *EarlyStopDecision, opErr *OperationError) (EarlyStoppingOperation, error)

	// UpdateMetadata merges key/value entries into the study's metadata and
	// into the metadata of the addressed trials. The merge is best-effort
	// and non-atomic across trials: entries for unknown trial ids are
	// reported through an ErrNotFound return without rolling back entries
	// already merged for other trials.
	UpdateMetadata(ctx context.Context, studyName string, studyEntries []KeyValue, trialEntries []TrialMetadata) error
}

// Snapshot is the serialisable representation of the full datastore state,
// used by persistent backends that hydrate an in-memory store and write the
// state back after each successful mutation.
type Snapshot struct {
	Studies          map[string]Study                  `json:"studies"`
	Trials           map[string]Trial                  `json:"trials"`
	SuggestOps       map[string]SuggestOperation       `json:"suggest_operations"`
	EarlyStoppingOps map[string]EarlyStoppingOperation `json:"early_stopping_operations"`
	TrialSeq         map[string]int64                  `json:"trial_seq"`
	SuggestOpSeq     map[string]int64                  `json:"suggest_operation_seq"`
	EarlyStoppingSeq map[string]int64                  `json:"early_stopping_operation_seq"`
	TakenAt          time.Time                         `json:"taken_at"`
}
