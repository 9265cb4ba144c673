// Command studycored runs the study manager and the algorithm executor as one
// process: two HTTP services on separate ports sharing a datastore, with the
// endpoint handshake performed at startup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"studycore/internal/blob"
	"studycore/internal/config"
	"studycore/internal/infra/persistence"
	"studycore/internal/local"
	"studycore/internal/observability"
	"studycore/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	printDefaults := pflag.Bool("print-defaults", false, "print the default configuration and exit")
	pflag.Parse()

	if *printDefaults {
		fmt.Printf("%+v\n", config.Default())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "studycored: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	os.Setenv("STUDYCORE_LOG_LEVEL", cfg.LogLevel)
	os.Setenv("STUDYCORE_LOG_FORMAT", cfg.LogFormat)
	logger.Initialize()
	defer func() { _ = logger.Sync() }()
	log := logger.For(logger.ComponentMain)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := persistence.OpenDriver(ctx, persistence.Driver(cfg.StorageDriver))
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() { _ = closeStore() }()

	blobs, err := blob.OpenDriver(ctx, blob.Driver(cfg.BlobDriver))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	svcs, err := local.New(local.Options{
		Store:               store,
		Blobs:               blobs,
		RecyclePeriod:       cfg.RecyclePeriod,
		StudyManagerWorkers: cfg.StudyManagerWorkers,
		ExecutorWorkers:     cfg.ExecutorWorkers,
		StudyManagerAddr:    cfg.StudyManagerAddr(),
		ExecutorAddr:        cfg.ExecutorAddr(),
		StudyManagerMetrics: observability.NewPrometheusMetricsRecorder("study-manager"),
		ExecutorMetrics:     observability.NewPrometheusMetricsRecorder("executor"),
	})
	if err != nil {
		return err
	}
	if err := svcs.Start(ctx); err != nil {
		return err
	}
	log.Infow("studycored running",
		"study_manager", svcs.StudyManagerURL,
		"executor", svcs.ExecutorURL,
		"storage", cfg.StorageDriver)

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return svcs.Close(shutdownCtx)
}
