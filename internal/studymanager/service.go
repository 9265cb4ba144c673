// Package studymanager implements the client-facing study service. It owns
// the datastore lifecycle of studies, trials and long-running operations, and
// delegates algorithm work to the executor it handshakes with at startup.
package studymanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"studycore/internal/observability"
	"studycore/internal/rpc"
	"studycore/pkg/domain"
	"studycore/pkg/logger"
)

// ExecutorCaller is the executor surface the study manager depends on. The
// HTTP client established by the handshake satisfies it.
type ExecutorCaller interface {
	Suggest(ctx context.Context, req rpc.SuggestRequest) (rpc.SuggestResponse, error)
	EarlyStop(ctx context.Context, req rpc.EarlyStopRequest) (rpc.EarlyStopResponse, error)
}

// Service coordinates studies, trials and operations. It never caches
// mutable entity state; every call re-fetches from the datastore.
type Service struct {
	store   domain.DataStore
	log     *zap.SugaredLogger
	metrics observability.MetricsRecorder

	execMu   sync.RWMutex
	executor ExecutorCaller

	// dispatchWG tracks in-flight operation goroutines so tests and
	// shutdown can wait for them.
	dispatchWG sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics installs a metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithExecutor wires an executor client at construction time instead of
// waiting for the handshake.
func WithExecutor(exec ExecutorCaller) Option {
	return func(s *Service) { s.executor = exec }
}

// NewService constructs the study manager over the given datastore.
func NewService(store domain.DataStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		log:     logger.For(logger.ComponentStudyManager),
		metrics: observability.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect records the executor reached during the startup handshake.
func (s *Service) Connect(exec ExecutorCaller) {
	s.execMu.Lock()
	s.executor = exec
	s.execMu.Unlock()
	s.log.Infow("executor connected")
}

// Connected reports whether an executor is wired.
func (s *Service) Connected() bool {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	return s.executor != nil
}

func (s *Service) executorClient() ExecutorCaller {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	return s.executor
}

// Wait blocks until all in-flight operation dispatches have finished.
func (s *Service) Wait() { s.dispatchWG.Wait() }

func (s *Service) observe(ctx context.Context, op string, err error, start time.Time) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// CreateStudy validates and persists a new study.
func (s *Service) CreateStudy(ctx context.Context, study domain.Study) (out domain.Study, err error) {
	defer s.observe(ctx, "create_study", err, time.Now())
	if study.Owner == "" || study.StudyID == "" {
		return domain.Study{}, fmt.Errorf("owner and study id are required")
	}
	if study.Spec.Metric.Name == "" {
		return domain.Study{}, fmt.Errorf("objective metric name is required")
	}
	switch study.Spec.Metric.Goal {
	case domain.GoalMinimize, domain.GoalMaximize:
	default:
		return domain.Study{}, fmt.Errorf("goal must be %s or %s", domain.GoalMinimize, domain.GoalMaximize)
	}
	if len(study.Spec.Parameters) == 0 {
		return domain.Study{}, fmt.Errorf("search space must declare at least one parameter")
	}
	out, err = s.store.CreateStudy(ctx, study)
	if err == nil {
		s.log.Infow("study created", "study", out.Name, "algorithm", out.Spec.Algorithm)
	}
	return out, err
}

// GetStudy returns the study with the given owner and id.
func (s *Service) GetStudy(ctx context.Context, owner, studyID string) (domain.Study, error) {
	return s.store.LoadStudy(ctx, domain.StudyName(owner, studyID))
}

// ListStudies returns all studies of an owner.
func (s *Service) ListStudies(ctx context.Context, owner string) ([]domain.Study, error) {
	return s.store.ListStudies(ctx, owner)
}

// DeleteStudy logically deletes a study; its records remain readable.
func (s *Service) DeleteStudy(ctx context.Context, owner, studyID string) error {
	return s.store.DeleteStudy(ctx, domain.StudyName(owner, studyID))
}

// CreateTrial registers a client-provided trial under the study.
func (s *Service) CreateTrial(ctx context.Context, owner, studyID string, trial domain.Trial) (out domain.Trial, err error) {
	defer s.observe(ctx, "create_trial", err, time.Now())
	trial.StudyName = domain.StudyName(owner, studyID)
	if _, err = s.store.LoadStudy(ctx, trial.StudyName); err != nil {
		return domain.Trial{}, err
	}
	return s.store.CreateTrial(ctx, trial)
}

// GetTrial returns one trial.
func (s *Service) GetTrial(ctx context.Context, owner, studyID string, trialID int64) (domain.Trial, error) {
	return s.store.GetTrial(ctx, domain.TrialName(owner, studyID, trialID))
}

// ListTrials returns the study's trials in creation order.
func (s *Service) ListTrials(ctx context.Context, owner, studyID string) ([]domain.Trial, error) {
	return s.store.ListTrials(ctx, domain.StudyName(owner, studyID))
}

// AddMeasurement appends an intermediate measurement to an active trial.
func (s *Service) AddMeasurement(ctx context.Context, owner, studyID string, trialID int64, m domain.Measurement) (domain.Trial, error) {
	name := domain.TrialName(owner, studyID, trialID)
	return s.store.UpdateTrial(ctx, name, func(t *domain.Trial) error {
		t.Measurements = append(t.Measurements, m)
		return nil
	})
}

// CompleteTrial marks a trial COMPLETED with its final measurement. When
// final is nil the last intermediate measurement is promoted; a trial with no
// measurement at all is marked INFEASIBLE instead so the study can progress.
func (s *Service) CompleteTrial(ctx context.Context, owner, studyID string, trialID int64, final *domain.Measurement) (out domain.Trial, err error) {
	defer s.observe(ctx, "complete_trial", err, time.Now())
	name := domain.TrialName(owner, studyID, trialID)
	out, err = s.store.UpdateTrial(ctx, name, func(t *domain.Trial) error {
		switch {
		case final != nil:
			t.FinalMeasurement = final
			t.State = domain.TrialCompleted
		case len(t.Measurements) > 0:
			last := t.Measurements[len(t.Measurements)-1]
			t.FinalMeasurement = &last
			t.State = domain.TrialCompleted
		default:
			t.State = domain.TrialInfeasible
		}
		return nil
	})
	return out, err
}

// UpdateMetadata merges metadata entries into the study and the addressed
// trials, best-effort across trials.
func (s *Service) UpdateMetadata(ctx context.Context, owner, studyID string, studyEntries []domain.KeyValue, trialEntries []domain.TrialMetadata) error {
	return s.store.UpdateMetadata(ctx, domain.StudyName(owner, studyID), studyEntries, trialEntries)
}

// SuggestTrials creates a PENDING suggest operation and dispatches it
// asynchronously. The caller polls GetSuggestOperation for the result.
func (s *Service) SuggestTrials(ctx context.Context, owner, studyID, clientID string, count int) (op domain.SuggestOperation, err error) {
	defer s.observe(ctx, "suggest_trials", err, time.Now())
	if clientID == "" {
		return domain.SuggestOperation{}, fmt.Errorf("client id is required")
	}
	if count <= 0 {
		return domain.SuggestOperation{}, fmt.Errorf("suggestion count must be positive, got %d", count)
	}
	studyName := domain.StudyName(owner, studyID)
	study, err := s.store.LoadStudy(ctx, studyName)
	if err != nil {
		return domain.SuggestOperation{}, err
	}
	if study.State != domain.StudyActive {
		return domain.SuggestOperation{}, domain.ErrInvalidState{Entity: domain.EntityStudy, Name: studyName, Reason: fmt.Sprintf("state %s", study.State)}
	}

	op, err = s.store.CreateSuggestOperation(ctx, domain.SuggestOperation{
		Owner:     owner,
		ClientID:  clientID,
		StudyName: studyName,
		Count:     count,
	})
	if err != nil {
		return domain.SuggestOperation{}, err
	}

	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		s.dispatchSuggest(context.WithoutCancel(ctx), op, study)
	}()
	return op, nil
}

// dispatchSuggest runs one suggest operation to its terminal state. Every
// path ends in CompleteSuggestOperation: the operation is never left dangling
// short of process death, which the recycler covers.
func (s *Service) dispatchSuggest(ctx context.Context, op domain.SuggestOperation, study domain.Study) {
	if _, err := s.store.StartSuggestOperation(ctx, op.Name); err != nil {
		// Already completed, most likely recycled.
		s.log.Debugw("suggest operation not started", "operation", op.Name, "error", err)
		return
	}

	fail := func(code domain.ErrorCode, err error) {
		s.completeSuggest(ctx, op.Name, nil, &domain.OperationError{Code: code, Message: err.Error()})
	}

	exec := s.executorClient()
	if exec == nil {
		fail(domain.ErrorCodeTransport, fmt.Errorf("no executor connected"))
		return
	}
	trials, err := s.store.ListTrials(ctx, study.Name)
	if err != nil {
		fail(domain.ErrorCodeTransport, err)
		return
	}
	if trials == nil {
		trials = []domain.Trial{}
	}

	resp, err := exec.Suggest(ctx, rpc.SuggestRequest{
		Study:           study,
		CompletedTrials: trials,
		Count:           op.Count,
	})
	if err != nil {
		fail(domain.ErrorCodeTransport, err)
		return
	}
	if resp.Error != nil {
		s.completeSuggest(ctx, op.Name, nil, resp.Error)
		return
	}

	// Materialize the proposals as ACTIVE trials so clients can evaluate
	// them straight from the poll result.
	for _, suggestion := range resp.Suggestions {
		if _, err := s.store.CreateTrial(ctx, domain.Trial{
			StudyName:  study.Name,
			Parameters: suggestion.Parameters,
		}); err != nil {
			fail(domain.ErrorCodeTransport, fmt.Errorf("persist suggested trial: %w", err))
			return
		}
	}
	s.completeSuggest(ctx, op.Name, resp.Suggestions, nil)
}

func (s *Service) completeSuggest(ctx context.Context, name string, suggestions []domain.Suggestion, opErr *domain.OperationError) {
	if _, err := s.store.CompleteSuggestOperation(ctx, name, suggestions, opErr); err != nil {
		if domain.IsInvalidState(err) {
			// Lost the race against the recycler; the terminal result
			// stands and ours is discarded.
			s.log.Debugw("suggest completion lost race", "operation", name)
			return
		}
		s.log.Errorw("complete suggest operation", "operation", name, "error", err)
	}
}

// GetSuggestOperation returns the operation for polling.
func (s *Service) GetSuggestOperation(ctx context.Context, name string) (domain.SuggestOperation, error) {
	return s.store.GetSuggestOperation(ctx, name)
}

// CheckTrialEarlyStoppingState creates a PENDING early-stopping operation for
// the trial and dispatches it asynchronously.
func (s *Service) CheckTrialEarlyStoppingState(ctx context.Context, owner, studyID string, trialID int64) (op domain.EarlyStoppingOperation, err error) {
	defer s.observe(ctx, "check_early_stopping", err, time.Now())
	studyName := domain.StudyName(owner, studyID)
	study, err := s.store.LoadStudy(ctx, studyName)
	if err != nil {
		return domain.EarlyStoppingOperation{}, err
	}
	trialName := domain.TrialName(owner, studyID, trialID)
	trial, err := s.store.GetTrial(ctx, trialName)
	if err != nil {
		return domain.EarlyStoppingOperation{}, err
	}

	op, err = s.store.CreateEarlyStoppingOperation(ctx, domain.EarlyStoppingOperation{
		Owner:     owner,
		StudyID:   studyID,
		TrialName: trialName,
	})
	if err != nil {
		return domain.EarlyStoppingOperation{}, err
	}

	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		s.dispatchEarlyStop(context.WithoutCancel(ctx), op, study, trial)
	}()
	return op, nil
}

func (s *Service) dispatchEarlyStop(ctx context.Context, op domain.EarlyStoppingOperation, study domain.Study, trial domain.Trial) {
	if _, err := s.store.StartEarlyStoppingOperation(ctx, op.Name); err != nil {
		s.log.Debugw("early-stopping operation not started", "operation", op.Name, "error", err)
		return
	}

	fail := func(code domain.ErrorCode, err error) {
		s.completeEarlyStop(ctx, op.Name, nil, &domain.OperationError{Code: code, Message: err.Error()})
	}

	exec := s.executorClient()
	if exec == nil {
		fail(domain.ErrorCodeTransport, fmt.Errorf("no executor connected"))
		return
	}
	resp, err := exec.EarlyStop(ctx, rpc.EarlyStopRequest{Study: study, Trial: trial})
	if err != nil {
		fail(domain.ErrorCodeTransport, err)
		return
	}
	if resp.Error != nil {
		s.completeEarlyStop(ctx, op.Name, nil, resp.Error)
		return
	}
	if resp.Decision.ShouldStop {
		// Move the trial to STOPPING so the evaluating client halts it.
		if _, err := s.store.UpdateTrial(ctx, trial.Name, func(t *domain.Trial) error {
			if t.State == domain.TrialActive {
				t.State = domain.TrialStopping
			}
			return nil
		}); err != nil && !domain.IsInvalidState(err) {
			s.log.Warnw("mark trial stopping", "trial", trial.Name, "error", err)
		}
	}
	s.completeEarlyStop(ctx, op.Name, &resp.Decision, nil)
}

func (s *Service) completeEarlyStop(ctx context.Context, name string, decision *domain.EarlyStopDecision, opErr *domain.OperationError) {
	if _, err := s.store.CompleteEarlyStoppingOperation(ctx, name, decision, opErr); err != nil {
		if domain.IsInvalidState(err) {
			s.log.Debugw("early-stopping completion lost race", "operation", name)
			return
		}
		s.log.Errorw("complete early-stopping operation", "operation", name, "error", err)
	}
}

// GetEarlyStoppingOperation returns the operation for polling.
func (s *Service) GetEarlyStoppingOperation(ctx context.Context, name string) (domain.EarlyStoppingOperation, error) {
	return s.store.GetEarlyStoppingOperation(ctx, name)
}
