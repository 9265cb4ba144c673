// Package executor implements the algorithm execution service. It owns the
// live designer instances, one per study, and serializes all algorithm work
// through a bounded worker pool.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"studycore/internal/designer"
	"studycore/internal/observability"
	"studycore/internal/rpc"
	"studycore/pkg/domain"
	"studycore/pkg/logger"
)

// TrialFetcher retrieves a study's trials from the study manager. The client
// established by the startup handshake satisfies it.
type TrialFetcher interface {
	ListTrials(ctx context.Context, owner, studyID string) ([]domain.Trial, error)
}

// lane holds one study's designer and the serialization that protects it.
// Designers are not safe for concurrent use; the lane mutex guarantees at
// most one caller per instance.
type lane struct {
	mu        sync.Mutex
	designer  designer.Designer
	delivered map[int64]bool
}

// Service owns the designer registry and executes suggestion and
// early-stopping work.
type Service struct {
	log     *zap.SugaredLogger
	metrics observability.MetricsRecorder

	// workers bounds algorithm calls across all studies. Default is one:
	// algorithm execution is the scarcity, not I/O.
	workers chan struct{}

	mu    sync.Mutex
	lanes map[string]*lane

	managerMu sync.RWMutex
	manager   TrialFetcher
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the global bound on concurrent algorithm calls.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// NewService constructs the executor with a single global worker by default.
func NewService(opts ...Option) *Service {
	s := &Service{
		log:     logger.For(logger.ComponentExecutor),
		metrics: observability.NopMetricsRecorder{},
		workers: make(chan struct{}, 1),
		lanes:   map[string]*lane{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect records the study manager reached during the startup handshake.
// Until it is called, suggest requests must carry their trials inline.
func (s *Service) Connect(fetcher TrialFetcher) {
	s.managerMu.Lock()
	s.manager = fetcher
	s.managerMu.Unlock()
	s.log.Infow("study manager connected")
}

// Connected reports whether the handshake has completed.
func (s *Service) Connected() bool {
	s.managerMu.RLock()
	defer s.managerMu.RUnlock()
	return s.manager != nil
}

func (s *Service) fetcher() TrialFetcher {
	s.managerMu.RLock()
	defer s.managerMu.RUnlock()
	return s.manager
}

// laneFor returns the study's lane, constructing the designer on first use.
// Construction failures are not cached: a later request retries.
func (s *Service) laneFor(study domain.Study) (*lane, error) {
	key := study.Name
	if key == "" {
		key = domain.StudyName(study.Owner, study.StudyID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[key]; ok {
		return l, nil
	}
	d, err := designer.New(study)
	if err != nil {
		return nil, fmt.Errorf("construct designer for %s: %w", key, err)
	}
	l := &lane{designer: d, delivered: map[int64]bool{}}
	s.lanes[key] = l
	s.log.Infow("designer created", "study", key, "algorithm", study.Spec.Algorithm)
	return l, nil
}

// Suggest advances the study's designer with newly completed trials and asks
// it for up to req.Count proposals. Algorithm failures, including panics, are
// returned inside the response so one broken study never takes down another.
func (s *Service) Suggest(ctx context.Context, req rpc.SuggestRequest) rpc.SuggestResponse {
	start := time.Now()
	resp := s.suggest(ctx, req)
	s.metrics.Observe(ctx, "suggest", resp.Error == nil, time.Since(start))
	return resp
}

func (s *Service) suggest(ctx context.Context, req rpc.SuggestRequest) rpc.SuggestResponse {
	trials := req.CompletedTrials
	if trials == nil {
		fetched, err := s.fetchTrials(ctx, req.Study)
		if err != nil {
			return algorithmFailure(fmt.Errorf("fetch trials: %w", err))
		}
		trials = fetched
	}

	l, err := s.laneFor(req.Study)
	if err != nil {
		return algorithmFailure(err)
	}

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return algorithmFailure(ctx.Err())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make([]domain.Trial, 0, len(trials))
	for _, t := range trials {
		if t.State != domain.TrialCompleted || l.delivered[t.ID] {
			continue
		}
		fresh = append(fresh, t)
	}

	var suggestions []domain.Suggestion
	err = s.runGuarded(func() error {
		if err := l.designer.Update(fresh); err != nil {
			return err
		}
		var serr error
		suggestions, serr = l.designer.Suggest(req.Count)
		return serr
	})
	if err != nil {
		s.log.Warnw("designer call failed", "study", req.Study.Name, "error", err)
		return algorithmFailure(err)
	}
	for _, t := range fresh {
		l.delivered[t.ID] = true
	}
	return rpc.SuggestResponse{Suggestions: suggestions}
}

// EarlyStop asks the study's designer whether the trial should halt. A
// designer without the stopping capability yields the default decision:
// keep running.
func (s *Service) EarlyStop(ctx context.Context, req rpc.EarlyStopRequest) rpc.EarlyStopResponse {
	start := time.Now()
	resp := s.earlyStop(ctx, req)
	s.metrics.Observe(ctx, "early_stop", resp.Error == nil, time.Since(start))
	return resp
}

func (s *Service) earlyStop(ctx context.Context, req rpc.EarlyStopRequest) rpc.EarlyStopResponse {
	l, err := s.laneFor(req.Study)
	if err != nil {
		return rpc.EarlyStopResponse{Error: operationError(err)}
	}

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return rpc.EarlyStopResponse{Error: operationError(ctx.Err())}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stopper, ok := l.designer.(designer.EarlyStopper)
	if !ok {
		return rpc.EarlyStopResponse{Decision: domain.EarlyStopDecision{ShouldStop: false}}
	}

	var decision domain.EarlyStopDecision
	err = s.runGuarded(func() error {
		var derr error
		decision, derr = stopper.ShouldStop(req.Trial)
		return derr
	})
	if err != nil {
		s.log.Warnw("early-stop call failed", "study", req.Study.Name, "error", err)
		return rpc.EarlyStopResponse{Error: operationError(err)}
	}
	return rpc.EarlyStopResponse{Decision: decision}
}

func (s *Service) fetchTrials(ctx context.Context, study domain.Study) ([]domain.Trial, error) {
	fetcher := s.fetcher()
	if fetcher == nil {
		return nil, fmt.Errorf("no study manager connected and no trials supplied")
	}
	return fetcher.ListTrials(ctx, study.Owner, study.StudyID)
}

// runGuarded converts a designer panic into an error so a misbehaving
// algorithm cannot crash the process.
func (s *Service) runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("designer panic: %v", r)
		}
	}()
	return fn()
}

// DesignerCount reports how many live designer instances the registry holds.
func (s *Service) DesignerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

func algorithmFailure(err error) rpc.SuggestResponse {
	return rpc.SuggestResponse{Error: operationError(err)}
}

func operationError(err error) *domain.OperationError {
	return &domain.OperationError{Code: domain.ErrorCodeAlgorithm, Message: err.Error()}
}
