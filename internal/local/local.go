// Package local wires a complete in-process deployment: study manager and
// executor on loopback listeners, datastore, export worker, recycler and the
// startup handshake. Used by the integration tests and the single-binary
// entrypoint.
package local

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"studycore/internal/adapters/exports"
	"studycore/internal/blob"
	"studycore/internal/executor"
	"studycore/internal/observability"
	"studycore/internal/rpc"
	"studycore/internal/studymanager"
	"studycore/pkg/domain"
	"studycore/pkg/logger"
)

// Options configures the in-process deployment.
type Options struct {
	// Store is the datastore; required.
	Store domain.DataStore
	// Blobs backs study exports; defaults to an in-memory store.
	Blobs blob.Store
	// RecyclePeriod bounds operation staleness; defaults to 100ms.
	RecyclePeriod time.Duration
	// StudyManagerWorkers bounds concurrent request handling; default 30.
	StudyManagerWorkers int
	// ExecutorWorkers bounds concurrent algorithm calls; default 1.
	ExecutorWorkers int
	// StudyManagerAddr and ExecutorAddr are listen addresses; default to
	// 127.0.0.1:0 (ephemeral ports).
	StudyManagerAddr string
	ExecutorAddr     string
	// Metrics recorders are optional.
	StudyManagerMetrics observability.MetricsRecorder
	ExecutorMetrics     observability.MetricsRecorder
}

// Services is a running in-process deployment. Construction is side-effect
// free; Start opens the listeners, launches the background loops and performs
// the handshake.
type Services struct {
	opts Options

	StudyManager *studymanager.Service
	Executor     *executor.Service
	Exports      *exports.Worker
	Recycler     *studymanager.Recycler

	StudyManagerURL string
	ExecutorURL     string

	smServer   *http.Server
	execServer *http.Server
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// New builds the services without starting anything.
func New(opts Options) (*Services, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("datastore required")
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewMemoryStore()
	}
	if opts.RecyclePeriod <= 0 {
		opts.RecyclePeriod = 100 * time.Millisecond
	}
	if opts.ExecutorWorkers <= 0 {
		opts.ExecutorWorkers = 1
	}
	if opts.StudyManagerAddr == "" {
		opts.StudyManagerAddr = "127.0.0.1:0"
	}
	if opts.ExecutorAddr == "" {
		opts.ExecutorAddr = "127.0.0.1:0"
	}

	s := &Services{opts: opts}
	var smOpts []studymanager.Option
	if opts.StudyManagerMetrics != nil {
		smOpts = append(smOpts, studymanager.WithMetrics(opts.StudyManagerMetrics))
	}
	s.StudyManager = studymanager.NewService(opts.Store, smOpts...)

	execOpts := []executor.Option{executor.WithWorkers(opts.ExecutorWorkers)}
	if opts.ExecutorMetrics != nil {
		execOpts = append(execOpts, executor.WithMetrics(opts.ExecutorMetrics))
	}
	s.Executor = executor.NewService(execOpts...)

	s.Exports = exports.NewWorker(opts.Store, opts.Blobs)
	s.Recycler = studymanager.NewRecycler(opts.Store, opts.RecyclePeriod)
	return s, nil
}

// Start opens the listeners, starts both HTTP servers, the export worker and
// the recycler, then performs the endpoint handshake in both directions.
func (s *Services) Start(ctx context.Context) error {
	log := logger.For(logger.ComponentMain)

	smListener, err := net.Listen("tcp", s.opts.StudyManagerAddr)
	if err != nil {
		return fmt.Errorf("listen study manager: %w", err)
	}
	execListener, err := net.Listen("tcp", s.opts.ExecutorAddr)
	if err != nil {
		_ = smListener.Close()
		return fmt.Errorf("listen executor: %w", err)
	}
	s.StudyManagerURL = "http://" + smListener.Addr().String()
	s.ExecutorURL = "http://" + execListener.Addr().String()

	smRouter := studymanager.Router(s.StudyManager, studymanager.RouterConfig{
		Workers: s.opts.StudyManagerWorkers,
		Metrics: s.opts.StudyManagerMetrics,
		Exports: s.Exports,
	})
	execRouter := executor.Router(s.Executor, s.opts.ExecutorMetrics)

	s.smServer = &http.Server{Handler: smRouter, ReadHeaderTimeout: 10 * time.Second}
	s.execServer = &http.Server{Handler: execRouter, ReadHeaderTimeout: 10 * time.Second}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group

	group.Go(func() error {
		if err := s.smServer.Serve(smListener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := s.execServer.Serve(execListener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		s.Recycler.Run(groupCtx)
		return nil
	})
	s.Exports.Start()

	// Handshake: each side learns the other's endpoint over the wire, the
	// same way separate processes would.
	if err := rpc.NewExecutorClient(s.ExecutorURL).Connect(ctx, s.StudyManagerURL); err != nil {
		_ = s.Close(ctx)
		return fmt.Errorf("connect executor: %w", err)
	}
	if err := rpc.NewStudyManagerClient(s.StudyManagerURL).Connect(ctx, s.ExecutorURL); err != nil {
		_ = s.Close(ctx)
		return fmt.Errorf("connect study manager: %w", err)
	}

	log.Infow("services started",
		"study_manager", s.StudyManagerURL,
		"executor", s.ExecutorURL,
		"recycle_period", s.opts.RecyclePeriod)
	return nil
}

// Close shuts everything down and waits for the background loops.
func (s *Services) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	var firstErr error
	for _, srv := range []*http.Server{s.smServer, s.execServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.StudyManager.Wait()
	if err := s.Exports.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
