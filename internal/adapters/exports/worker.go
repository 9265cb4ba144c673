// Package exports renders study archives asynchronously into the blob store.
// A background worker drains a bounded queue; clients enqueue a job and poll
// its record until it reaches a terminal status.
package exports

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"studycore/internal/blob"
	"studycore/pkg/domain"
	"studycore/pkg/logger"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format selects an archive rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Artifact captures one stored archive file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	StudyID     string     `json:"study_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}

// Input represents an enqueue request.
type Input struct {
	Owner   string
	StudyID string
	Formats []Format
}

// archive is the JSON payload of a study export.
type archive struct {
	Study  domain.Study   `json:"study"`
	Trials []domain.Trial `json:"trials"`
}

type task struct {
	id    string
	input Input
}

// Worker renders study archives asynchronously.
type Worker struct {
	store domain.DataStore
	blobs blob.Store
	log   *zap.SugaredLogger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker over the datastore and blob store.
func NewWorker(store domain.DataStore, blobs blob.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  store,
		blobs:  blobs,
		log:    logger.For(logger.ComponentExports),
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules a study export and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if input.Owner == "" || input.StudyID == "" {
		return Record{}, fmt.Errorf("owner and study id required")
	}
	// Reject unknown studies synchronously; the study may still disappear
	// logically before the job runs, which the job tolerates.
	if _, err := w.store.LoadStudy(ctx, domain.StudyName(input.Owner, input.StudyID)); err != nil {
		return Record{}, err
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := map[Format]struct{}{}
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if f != FormatJSON && f != FormatCSV {
			return Record{}, fmt.Errorf("unsupported export format %s", f)
		}
		uniq = append(uniq, f)
		seen[f] = struct{}{}
	}

	id := newID()
	now := time.Now().UTC()
	record := Record{
		ID:        id,
		Owner:     input.Owner,
		StudyID:   input.StudyID,
		Formats:   uniq,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.mu.Lock()
	w.jobs[id] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		w.fail(id, "export queue full")
		return Record{}, fmt.Errorf("export queue full")
	}
	return snapshot, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning)

	studyName := domain.StudyName(t.input.Owner, t.input.StudyID)
	study, err := w.store.LoadStudy(w.ctx, studyName)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("load study: %v", err))
		return
	}
	trials, err := w.store.ListTrials(w.ctx, studyName)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("list trials: %v", err))
		return
	}

	record, ok := w.Get(t.id)
	if !ok {
		return
	}
	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := render(format, study, trials)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		key := fmt.Sprintf("exports/%s/%s/%s.%s", t.input.Owner, t.input.StudyID, t.id, format)
		info, err := w.blobs.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType})
		if err != nil {
			w.fail(t.id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		artifacts = append(artifacts, Artifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			CreatedAt:   info.LastModified,
		})
	}
	w.complete(t.id, artifacts)
	w.log.Infow("study exported", "study", studyName, "artifacts", len(artifacts))
}

func render(format Format, study domain.Study, trials []domain.Trial) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(archive{Study: study, Trials: trials})
		if err != nil {
			return nil, "", fmt.Errorf("marshal archive: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		payload, err := renderCSV(study, trials)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %s", format)
	}
}

// renderCSV writes one row per trial: identity, state, the objective value
// and one column per declared top-level parameter.
func renderCSV(study domain.Study, trials []domain.Trial) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := []string{"trial_id", "state", study.Spec.Metric.Name}
	for _, p := range study.Spec.Parameters {
		header = append(header, p.Name)
	}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, trial := range trials {
		row := make([]string, 0, len(header))
		row = append(row, strconv.FormatInt(trial.ID, 10), string(trial.State))
		if v, ok := trial.Objective(study.Spec.Metric.Name); ok {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		} else {
			row = append(row, "")
		}
		byName := map[string]domain.ParameterValue{}
		for _, pv := range trial.Parameters {
			byName[pv.Name] = pv
		}
		for _, p := range study.Spec.Parameters {
			row = append(row, formatValue(byName[p.Name]))
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatValue(pv domain.ParameterValue) string {
	switch {
	case pv.DoubleValue != nil:
		return strconv.FormatFloat(*pv.DoubleValue, 'g', -1, 64)
	case pv.IntValue != nil:
		return strconv.FormatInt(*pv.IntValue, 10)
	case pv.StringValue != nil:
		return *pv.StringValue
	default:
		return ""
	}
}

func (w *Worker) setStatus(id string, status Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = time.Now().UTC()
	}
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}
