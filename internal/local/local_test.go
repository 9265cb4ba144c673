package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"studycore/internal/adapters/exports"
	"studycore/internal/infra/persistence/memory"
	"studycore/pkg/domain"
)

func startServices(t *testing.T) *Services {
	t.Helper()
	svcs, err := New(Options{
		Store:         memory.NewStore(),
		RecyclePeriod: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	if err := svcs.Start(context.Background()); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svcs.Close(ctx)
	})
	return svcs
}

func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestPopulationStudyEndToEnd(t *testing.T) {
	svcs := startServices(t)
	base := svcs.StudyManagerURL + "/api/v1"

	// Two continuous parameters, minimizing, generation of four.
	study := domain.Study{
		Owner:   "alice",
		StudyID: "tuning",
		Spec: domain.StudySpec{
			Algorithm: "POPULATION_EVOLUTION",
			Metric:    domain.MetricSpec{Name: "loss", Goal: domain.GoalMinimize},
			Parameters: []domain.ParameterSpec{
				{Name: "x", Type: domain.ParameterDouble, MinValue: -5, MaxValue: 5},
				{Name: "y", Type: domain.ParameterDouble, MinValue: 0, MaxValue: 1},
			},
		},
		Metadata: []domain.KeyValue{{Key: "population_size", Value: "4"}},
	}
	var created domain.Study
	if code := doJSON(t, http.MethodPost, base+"/studies", study, &created); code != http.StatusCreated {
		t.Fatalf("create study: status %d", code)
	}

	// Four completed trials with losses 5, 3, 7 and 1.
	losses := []float64{5.0, 3.0, 7.0, 1.0}
	for i, loss := range losses {
		var trial domain.Trial
		body := domain.Trial{Parameters: []domain.ParameterValue{
			domain.DoubleParameter("x", float64(i)-2),
			domain.DoubleParameter("y", 0.5),
		}}
		if code := doJSON(t, http.MethodPost, base+"/studies/alice/tuning/trials", body, &trial); code != http.StatusCreated {
			t.Fatalf("create trial %d: status %d", i, code)
		}
		completeURL := fmt.Sprintf("%s/studies/alice/tuning/trials/%d/complete", base, trial.ID)
		payload := map[string]any{"final_measurement": domain.Measurement{Metrics: map[string]float64{"loss": loss}}}
		var completed domain.Trial
		if code := doJSON(t, http.MethodPost, completeURL, payload, &completed); code != http.StatusOK {
			t.Fatalf("complete trial %d: status %d", i, code)
		}
		if completed.State != domain.TrialCompleted {
			t.Fatalf("trial %d not completed: %s", i, completed.State)
		}
	}

	// Ask for two proposals and poll the operation to its terminal state.
	var op domain.SuggestOperation
	if code := doJSON(t, http.MethodPost, base+"/studies/alice/tuning/suggest",
		map[string]any{"client_id": "worker-0", "count": 2}, &op); code != http.StatusOK {
		t.Fatalf("suggest: status %d", code)
	}
	if op.Done {
		t.Fatal("operation done before dispatch")
	}

	opURL := base + "/suggestOperations/" + op.Name
	deadline := time.Now().Add(5 * time.Second)
	for !op.Done {
		if time.Now().After(deadline) {
			t.Fatal("suggest operation never completed")
		}
		time.Sleep(10 * time.Millisecond)
		if code := doJSON(t, http.MethodGet, opURL, nil, &op); code != http.StatusOK {
			t.Fatalf("poll operation: status %d", code)
		}
	}
	if op.Error != nil {
		t.Fatalf("operation failed: %+v", op.Error)
	}
	if len(op.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(op.Suggestions))
	}
	for _, s := range op.Suggestions {
		for _, p := range s.Parameters {
			v, ok := p.Float()
			if !ok {
				t.Fatalf("parameter %q has no value", p.Name)
			}
			switch p.Name {
			case "x":
				if v < -5 || v > 5 {
					t.Fatalf("x=%v outside bounds", v)
				}
			case "y":
				if v < 0 || v > 1 {
					t.Fatalf("y=%v outside bounds", v)
				}
			default:
				t.Fatalf("unexpected parameter %q", p.Name)
			}
		}
	}

	// The proposals became active trials behind the original four.
	var list struct {
		Trials []domain.Trial `json:"trials"`
	}
	if code := doJSON(t, http.MethodGet, base+"/studies/alice/tuning/trials", nil, &list); code != http.StatusOK {
		t.Fatalf("list trials: status %d", code)
	}
	if len(list.Trials) != 6 {
		t.Fatalf("expected 6 trials (4 completed + 2 suggested), got %d", len(list.Trials))
	}
}

func TestHandshakeIsLoadBearing(t *testing.T) {
	svcs := startServices(t)

	var health struct {
		Connected bool `json:"connected"`
	}
	if code := doJSON(t, http.MethodGet, svcs.StudyManagerURL+"/healthz", nil, &health); code != http.StatusOK || !health.Connected {
		t.Fatalf("study manager not connected after start: %+v (%d)", health, code)
	}
	if code := doJSON(t, http.MethodGet, svcs.ExecutorURL+"/healthz", nil, &health); code != http.StatusOK || !health.Connected {
		t.Fatalf("executor not connected after start: %+v (%d)", health, code)
	}
}

func TestExportEndToEnd(t *testing.T) {
	svcs := startServices(t)
	base := svcs.StudyManagerURL + "/api/v1"

	study := domain.Study{
		Owner:   "alice",
		StudyID: "exported",
		Spec: domain.StudySpec{
			Algorithm: "RANDOM_SEARCH",
			Metric:    domain.MetricSpec{Name: "loss", Goal: domain.GoalMinimize},
			Parameters: []domain.ParameterSpec{
				{Name: "lr", Type: domain.ParameterDouble, MinValue: 0, MaxValue: 1},
			},
		},
	}
	if code := doJSON(t, http.MethodPost, base+"/studies", study, nil); code != http.StatusCreated {
		t.Fatalf("create study: status %d", code)
	}

	var record exports.Record
	if code := doJSON(t, http.MethodPost, base+"/studies/alice/exported/exports",
		map[string]any{}, &record); code != http.StatusAccepted {
		t.Fatalf("enqueue export: status %d", code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for record.Status != exports.StatusSucceeded && record.Status != exports.StatusFailed {
		if time.Now().After(deadline) {
			t.Fatal("export never completed")
		}
		time.Sleep(10 * time.Millisecond)
		if code := doJSON(t, http.MethodGet, base+"/exports/"+record.ID, nil, &record); code != http.StatusOK {
			t.Fatalf("poll export: status %d", code)
		}
	}
	if record.Status != exports.StatusSucceeded {
		t.Fatalf("export failed: %s", record.Error)
	}
	if len(record.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(record.Artifacts))
	}
}
