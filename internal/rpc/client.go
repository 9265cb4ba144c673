package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"studycore/pkg/domain"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 4
)

// httpClient is the shared plumbing for both service clients: JSON encoding
// plus bounded exponential backoff on transport failures and 5xx responses.
type httpClient struct {
	baseURL       string
	client        *http.Client
	maxRetries    uint64
	retryInterval time.Duration
}

func newHTTPClient(baseURL string) httpClient {
	return httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
}

// retryable marks errors worth another attempt. 4xx responses are permanent.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (c httpClient) postJSON(ctx context.Context, path string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.do(httpReq, resp)
	}
	return c.retry(ctx, operation)
}

func (c httpClient) getJSON(ctx context.Context, path string, resp any) error {
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.do(httpReq, resp)
	}
	return c.retry(ctx, operation)
}

func (c httpClient) do(req *http.Request, resp any) error {
	httpResp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if httpResp.StatusCode >= 500 {
		return &statusError{status: httpResp.StatusCode, body: errorMessage(body)}
	}
	if httpResp.StatusCode >= 400 {
		return backoff.Permanent(&statusError{status: httpResp.StatusCode, body: errorMessage(body)})
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c httpClient) retry(ctx context.Context, operation func() error) error {
	eb := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		eb.InitialInterval = c.retryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

func errorMessage(body []byte) string {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(body))
}

// ExecutorClient reaches the algorithm executor service.
type ExecutorClient struct {
	httpClient
}

// NewExecutorClient builds a client for an executor at baseURL.
func NewExecutorClient(baseURL string) *ExecutorClient {
	return &ExecutorClient{httpClient: newHTTPClient(baseURL)}
}

// Suggest runs the study's designer and returns its proposals.
func (c *ExecutorClient) Suggest(ctx context.Context, req SuggestRequest) (SuggestResponse, error) {
	var resp SuggestResponse
	if err := c.postJSON(ctx, "/api/v1/suggest", req, &resp); err != nil {
		return SuggestResponse{}, err
	}
	return resp, nil
}

// EarlyStop asks the study's designer whether a trial should halt.
func (c *ExecutorClient) EarlyStop(ctx context.Context, req EarlyStopRequest) (EarlyStopResponse, error) {
	var resp EarlyStopResponse
	if err := c.postJSON(ctx, "/api/v1/earlystop", req, &resp); err != nil {
		return EarlyStopResponse{}, err
	}
	return resp, nil
}

// Connect tells the executor where the study manager lives.
func (c *ExecutorClient) Connect(ctx context.Context, endpoint string) error {
	return c.postJSON(ctx, "/api/v1/connect", ConnectRequest{Endpoint: endpoint}, nil)
}

// StudyManagerClient reaches the study manager service. The executor uses it
// to fetch trials when a suggest request omits them.
type StudyManagerClient struct {
	httpClient
}

// NewStudyManagerClient builds a client for a study manager at baseURL.
func NewStudyManagerClient(baseURL string) *StudyManagerClient {
	return &StudyManagerClient{httpClient: newHTTPClient(baseURL)}
}

// GetStudy fetches a study by owner and study id.
func (c *StudyManagerClient) GetStudy(ctx context.Context, owner, studyID string) (domain.Study, error) {
	var study domain.Study
	path := fmt.Sprintf("/api/v1/studies/%s/%s", owner, studyID)
	if err := c.getJSON(ctx, path, &study); err != nil {
		return domain.Study{}, err
	}
	return study, nil
}

// ListTrials fetches all trials of a study.
func (c *StudyManagerClient) ListTrials(ctx context.Context, owner, studyID string) ([]domain.Trial, error) {
	var resp TrialListResponse
	path := fmt.Sprintf("/api/v1/studies/%s/%s/trials", owner, studyID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Trials, nil
}

// Connect tells the study manager where the executor lives.
func (c *StudyManagerClient) Connect(ctx context.Context, endpoint string) error {
	return c.postJSON(ctx, "/api/v1/connect", ConnectRequest{Endpoint: endpoint}, nil)
}
