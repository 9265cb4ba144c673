// Package memory provides the reference in-memory DataStore. All state lives
// in maps guarded by a single RWMutex; every returned value is a deep copy so
// committed state can only change through store methods. Persistent backends
// embed this store and register a commit hook to snapshot state after each
// successful mutation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studycore/pkg/domain"
)

type state struct {
	studies  map[string]domain.Study
	trials   map[string]domain.Trial
	suggest  map[string]domain.SuggestOperation
	early    map[string]domain.EarlyStoppingOperation
	trialSeq map[string]int64 // study name -> last assigned trial id
	sugSeq   map[string]int64 // owner/client -> last assigned operation number
	earlySeq map[string]int64 // study name -> last assigned operation number
}

func newState() state {
	return state{
		studies:  map[string]domain.Study{},
		trials:   map[string]domain.Trial{},
		suggest:  map[string]domain.SuggestOperation{},
		early:    map[string]domain.EarlyStoppingOperation{},
		trialSeq: map[string]int64{},
		sugSeq:   map[string]int64{},
		earlySeq: map[string]int64{},
	}
}

// CommitHook is invoked with a snapshot of the full state after every
// successful mutation, while the store lock is still held. A non-nil error
// is returned to the caller but the in-memory mutation stands.
type CommitHook func(domain.Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers fn to run after each successful mutation.
func WithCommitHook(fn CommitHook) Option {
	return func(s *Store) { s.onCommit = fn }
}

// WithClock overrides the store clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// Store is the reference in-memory DataStore.
type Store struct {
	mu       sync.RWMutex
	state    state
	nowFn    func() time.Time
	onCommit CommitHook
}

var _ domain.DataStore = (*Store)(nil)

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) commit() error {
	if s.onCommit == nil {
		return nil
	}
	return s.onCommit(s.snapshotLocked())
}

func (s *Store) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Studies:          make(map[string]domain.Study, len(s.state.studies)),
		Trials:           make(map[string]domain.Trial, len(s.state.trials)),
		SuggestOps:       make(map[string]domain.SuggestOperation, len(s.state.suggest)),
		EarlyStoppingOps: make(map[string]domain.EarlyStoppingOperation, len(s.state.early)),
		TrialSeq:         make(map[string]int64, len(s.state.trialSeq)),
		SuggestOpSeq:     make(map[string]int64, len(s.state.sugSeq)),
		EarlyStoppingSeq: make(map[string]int64, len(s.state.earlySeq)),
		TakenAt:          s.nowFn(),
	}
	for k, v := range s.state.studies {
		snap.Studies[k] = v.Clone()
	}
	for k, v := range s.state.trials {
		snap.Trials[k] = v.Clone()
	}
	for k, v := range s.state.suggest {
		snap.SuggestOps[k] = v.Clone()
	}
	for k, v := range s.state.early {
		snap.EarlyStoppingOps[k] = v.Clone()
	}
	for k, v := range s.state.trialSeq {
		snap.TrialSeq[k] = v
	}
	for k, v := range s.state.sugSeq {
		snap.SuggestOpSeq[k] = v
	}
	for k, v := range s.state.earlySeq {
		snap.EarlyStoppingSeq[k] = v
	}
	return snap
}

// ExportState returns a snapshot of the committed state.
func (s *Store) ExportState() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// ImportState replaces the committed state with the snapshot's contents.
// Used by persistent backends to hydrate at startup.
func (s *Store) ImportState(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for k, v := range snap.Studies {
		st.studies[k] = v.Clone()
	}
	for k, v := range snap.Trials {
		st.trials[k] = v.Clone()
	}
	for k, v := range snap.SuggestOps {
		st.suggest[k] = v.Clone()
	}
	for k, v := range snap.EarlyStoppingOps {
		st.early[k] = v.Clone()
	}
	for k, v := range snap.TrialSeq {
		st.trialSeq[k] = v
	}
	for k, v := range snap.SuggestOpSeq {
		st.sugSeq[k] = v
	}
	for k, v := range snap.EarlyStoppingSeq {
		st.earlySeq[k] = v
	}
	s.state = st
}

// CreateStudy persists a new study.
func (s *Store) CreateStudy(_ context.Context, study domain.Study) (domain.Study, error) {
	if study.Owner == "" || study.StudyID == "" {
		return domain.Study{}, fmt.Errorf("study owner and id required")
	}
	name := domain.StudyName(study.Owner, study.StudyID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.studies[name]; exists {
		return domain.Study{}, domain.ErrAlreadyExists{Entity: domain.EntityStudy, Name: name}
	}
	now := s.nowFn()
	study.Name = name
	study.State = domain.StudyActive
	study.CreatedAt = now
	study.UpdatedAt = now
	s.state.studies[name] = study.Clone()
	if err := s.commit(); err != nil {
		return domain.Study{}, err
	}
	return study.Clone(), nil
}

// LoadStudy returns the named study.
func (s *Store) LoadStudy(_ context.Context, name string) (domain.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	study, ok := s.state.studies[name]
	if !ok {
		return domain.Study{}, domain.ErrNotFound{Entity: domain.EntityStudy, Name: name}
	}
	return study.Clone(), nil
}

// ListStudies returns all studies for an owner, ordered by study id.
func (s *Store) ListStudies(_ context.Context, owner string) ([]domain.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Study, 0)
	for _, study := range s.state.studies {
		if study.Owner == owner {
			out = append(out, study.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudyID < out[j].StudyID })
	return out, nil
}

// DeleteStudy marks the study INACTIVE. The record is never physically removed.
func (s *Store) DeleteStudy(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	study, ok := s.state.studies[name]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityStudy, Name: name}
	}
	study.State = domain.StudyInactive
	study.UpdatedAt = s.nowFn()
	s.state.studies[name] = study
	return s.commit()
}

// CreateTrial persists a new trial, assigning the next sequence number
// within its study.
func (s *Store) CreateTrial(_ context.Context, trial domain.Trial) (domain.Trial, error) {
	res, err := domain.ParseStudyName(trial.StudyName)
	if err != nil {
		return domain.Trial{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.studies[trial.StudyName]; !ok {
		return domain.Trial{}, domain.ErrNotFound{Entity: domain.EntityStudy, Name: trial.StudyName}
	}
	seq := s.state.trialSeq[trial.StudyName] + 1
	s.state.trialSeq[trial.StudyName] = seq

	now := s.nowFn()
	trial.ID = seq
	trial.Name = domain.TrialName(res.Owner, res.StudyID, seq)
	if trial.State == "" {
		trial.State = domain.TrialActive
	}
	trial.CreatedAt = now
	s.state.trials[trial.Name] = trial.Clone()
	if err := s.commit(); err != nil {
		return domain.Trial{}, err
	}
	return trial.Clone(), nil
}

// GetTrial returns the named trial.
func (s *Store) GetTrial(_ context.Context, name string) (domain.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trial, ok := s.state.trials[name]
	if !ok {
		return domain.Trial{}, domain.ErrNotFound{Entity: domain.EntityTrial, Name: name}
	}
	return trial.Clone(), nil
}

// ListTrials returns the study's trials in sequence order.
func (s *Store) ListTrials(_ context.Context, studyName string) ([]domain.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.state.studies[studyName]; !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityStudy, Name: studyName}
	}
	out := make([]domain.Trial, 0)
	for _, trial := range s.state.trials {
		if trial.StudyName == studyName {
			out = append(out, trial.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateTrial applies mutator to the named trial. A COMPLETED trial is
// immutable through this path.
func (s *Store) UpdateTrial(_ context.Context, name string, mutator func(*domain.Trial) error) (domain.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.trials[name]
	if !ok {
		return domain.Trial{}, domain.ErrNotFound{Entity: domain.EntityTrial, Name: name}
	}
	if current.State == domain.TrialCompleted {
		return domain.Trial{}, domain.ErrInvalidState{
			Entity: domain.EntityTrial,
			Name:   name,
			Reason: "trial already completed",
		}
	}
	updated := current.Clone()
	if err := mutator(&updated); err != nil {
		return domain.Trial{}, err
	}
	// Identity fields are owned by the store.
	updated.Name = current.Name
	updated.StudyName = current.StudyName
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	if updated.State == domain.TrialCompleted && updated.CompletedAt == nil {
		at := s.nowFn()
		updated.CompletedAt = &at
	}
	s.state.trials[name] = updated.Clone()
	if err := s.commit(); err != nil {
		return domain.Trial{}, err
	}
	return updated.Clone(), nil
}

// CreateSuggestOperation persists a new PENDING operation, numbering it
// within its (owner, client) pair.
func (s *Store) CreateSuggestOperation(_ context.Context, op domain.SuggestOperation) (domain.SuggestOperation, error) {
	if op.Owner == "" || op.ClientID == "" {
		return domain.SuggestOperation{}, fmt.Errorf("suggest operation owner and client id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op.Owner + "/" + op.ClientID
	seq := s.state.sugSeq[key] + 1
	s.state.sugSeq[key] = seq

	now := s.nowFn()
	op.Number = seq
	op.Name = domain.SuggestOperationName(op.Owner, op.ClientID, seq)
	op.State = domain.OperationPending
	op.Done = false
	op.Suggestions = nil
	op.Error = nil
	op.CreatedAt = now
	op.UpdatedAt = now
	s.state.suggest[op.Name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.SuggestOperation{}, err
	}
	return op.Clone(), nil
}

// GetSuggestOperation returns the named operation.
func (s *Store) GetSuggestOperation(_ context.Context, name string) (domain.SuggestOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.state.suggest[name]
	if !ok {
		return domain.SuggestOperation{}, domain.ErrNotFound{Entity: domain.EntitySuggestOperation, Name: name}
	}
	return op.Clone(), nil
}

// ListSuggestOperations returns all suggest operations, oldest first.
func (s *Store) ListSuggestOperations(_ context.Context) ([]domain.SuggestOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SuggestOperation, 0, len(s.state.suggest))
	for _, op := range s.state.suggest {
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// StartSuggestOperation transitions PENDING -> RUNNING.
func (s *Store) StartSuggestOperation(_ context.Context, name string) (domain.SuggestOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.state.suggest[name]
	if !ok {
		return domain.SuggestOperation{}, domain.ErrNotFound{Entity: domain.EntitySuggestOperation, Name: name}
	}
	if op.Done {
		return domain.SuggestOperation{}, domain.ErrInvalidState{
			Entity: domain.EntitySuggestOperation,
			Name:   name,
			Reason: "operation already done",
		}
	}
	op.State = domain.OperationRunning
	op.UpdatedAt = s.nowFn()
	s.state.suggest[name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.SuggestOperation{}, err
	}
	return op.Clone(), nil
}

// CompleteSuggestOperation resolves the operation. The first completion wins;
// any later attempt fails with ErrInvalidState and leaves the result intact.
func (s *Store) CompleteSuggestOperation(_ context.Context, name string, suggestions []domain.Suggestion, opErr *domain.OperationError) (domain.SuggestOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.state.suggest[name]
	if !ok {
		return domain.SuggestOperation{}, domain.ErrNotFound{Entity: domain.EntitySuggestOperation, Name: name}
	}
	if op.Done {
		return domain.SuggestOperation{}, domain.ErrInvalidState{
			Entity: domain.EntitySuggestOperation,
			Name:   name,
			Reason: "operation already done",
		}
	}
	op.State = domain.OperationDone
	op.Done = true
	op.Suggestions = suggestions
	op.Error = opErr
	op.UpdatedAt = s.nowFn()
	s.state.suggest[name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.SuggestOperation{}, err
	}
	return op.Clone(), nil
}

// CreateEarlyStoppingOperation persists a new PENDING operation, numbering it
// within its study.
func (s *Store) CreateEarlyStoppingOperation(_ context.Context, op domain.EarlyStoppingOperation) (domain.EarlyStoppingOperation, error) {
	if op.Owner == "" || op.StudyID == "" {
		return domain.EarlyStoppingOperation{}, fmt.Errorf("early stopping operation owner and study id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	studyName := domain.StudyName(op.Owner, op.StudyID)
	seq := s.state.earlySeq[studyName] + 1
	s.state.earlySeq[studyName] = seq

	now := s.nowFn()
	op.Number = seq
	op.Name = domain.EarlyStoppingOperationName(op.Owner, op.StudyID, seq)
	op.State = domain.OperationPending
	op.Done = false
	op.ShouldStop = false
	op.Error = nil
	op.CreatedAt = now
	op.UpdatedAt = now
	s.state.early[op.Name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.EarlyStoppingOperation{}, err
	}
	return op.Clone(), nil
}

// GetEarlyStoppingOperation returns the named operation.
func (s *Store) GetEarlyStoppingOperation(_ context.Context, name string) (domain.EarlyStoppingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.state.early[name]
	if !ok {
		return domain.EarlyStoppingOperation{}, domain.ErrNotFound{Entity: domain.EntityEarlyStoppingOperation, Name: name}
	}
	return op.Clone(), nil
}

// ListEarlyStoppingOperations returns all early-stopping operations, oldest first.
func (s *Store) ListEarlyStoppingOperations(_ context.Context) ([]domain.EarlyStoppingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EarlyStoppingOperation, 0, len(s.state.early))
	for _, op := range s.state.early {
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// StartEarlyStoppingOperation transitions PENDING -> RUNNING.
func (s *Store) StartEarlyStoppingOperation(_ context.Context, name string) (domain.EarlyStoppingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.state.early[name]
	if !ok {
		return domain.EarlyStoppingOperation{}, domain.ErrNotFound{Entity: domain.EntityEarlyStoppingOperation, Name: name}
	}
	if op.Done {
		return domain.EarlyStoppingOperation{}, domain.ErrInvalidState{
			Entity: domain.EntityEarlyStoppingOperation,
			Name:   name,
			Reason: "operation already done",
		}
	}
	op.State = domain.OperationRunning
	op.UpdatedAt = s.nowFn()
	s.state.early[name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.EarlyStoppingOperation{}, err
	}
	return op.Clone(), nil
}

// CompleteEarlyStoppingOperation resolves the operation, first writer wins.
func (s *Store) CompleteEarlyStoppingOperation(_ context.Context, name string, decision *domain.EarlyStopDecision, opErr *domain.OperationError) (domain.EarlyStoppingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.state.early[name]
	if !ok {
		return domain.EarlyStoppingOperation{}, domain.ErrNotFound{Entity: domain.EntityEarlyStoppingOperation, Name: name}
	}
	if op.Done {
		return domain.EarlyStoppingOperation{}, domain.ErrInvalidState{
			Entity: domain.EntityEarlyStoppingOperation,
			Name:   name,
			Reason: "operation already done",
		}
	}
	op.State = domain.OperationDone
	op.Done = true
	if decision != nil {
		op.ShouldStop = decision.ShouldStop
	}
	op.Error = opErr
	op.UpdatedAt = s.nowFn()
	s.state.early[name] = op.Clone()
	if err := s.commit(); err != nil {
		return domain.EarlyStoppingOperation{}, err
	}
	return op.Clone(), nil
}

// UpdateMetadata merges entries into the study and the addressed trials.
// The merge is best-effort: entries for unknown trial ids are collected into
// an ErrNotFound return while every entry addressed at an existing entity is
// still applied. Completed trials accept metadata updates.
func (s *Store) UpdateMetadata(_ context.Context, studyName string, studyEntries []domain.KeyValue, trialEntries []domain.TrialMetadata) error {
	res, err := domain.ParseStudyName(studyName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	study, ok := s.state.studies[studyName]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityStudy, Name: studyName}
	}
	now := s.nowFn()
	if len(studyEntries) > 0 {
		study.Metadata = domain.MergeKeyValues(study.Metadata, studyEntries)
		study.UpdatedAt = now
		s.state.studies[studyName] = study
	}

	var missing []string
	for _, tm := range trialEntries {
		trialName := domain.TrialName(res.Owner, res.StudyID, tm.TrialID)
		trial, ok := s.state.trials[trialName]
		if !ok {
			missing = append(missing, trialName)
			continue
		}
		trial.Metadata = domain.MergeKeyValues(trial.Metadata, tm.Entries)
		s.state.trials[trialName] = trial
	}
	if err := s.commit(); err != nil {
		return err
	}
	if len(missing) > 0 {
		return domain.ErrNotFound{
			Entity: domain.EntityTrial,
			Name:   fmt.Sprintf("%v", missing),
		}
	}
	return nil
}
