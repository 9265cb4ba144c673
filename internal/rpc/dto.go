// Package rpc defines the JSON wire contract between the study manager and
// the algorithm executor, plus HTTP clients for both directions.
package rpc

import "studycore/pkg/domain"

// SuggestRequest asks the executor to produce new trial proposals for a
// study. CompletedTrials may be omitted; the executor then fetches the
// study's trials from the study manager it connected to.
type SuggestRequest struct {
	Study           domain.Study   `json:"study"`
	CompletedTrials []domain.Trial `json:"completed_trials,omitempty"`
	Count           int            `json:"count"`
}

// SuggestResponse carries the designer's proposals, or the algorithm error
// that prevented them. Transport failures never appear here; they surface as
// HTTP-level errors.
type SuggestResponse struct {
	Suggestions []domain.Suggestion    `json:"suggestions,omitempty"`
	Error       *domain.OperationError `json:"error,omitempty"`
}

// EarlyStopRequest asks the executor whether a running trial should halt.
type EarlyStopRequest struct {
	Study domain.Study `json:"study"`
	Trial domain.Trial `json:"trial"`
}

// EarlyStopResponse carries the stopping decision or the algorithm error.
type EarlyStopResponse struct {
	Decision domain.EarlyStopDecision `json:"decision"`
	Error    *domain.OperationError   `json:"error,omitempty"`
}

// ConnectRequest exchanges service endpoints during the startup handshake.
// Each side tells the other where to reach it.
type ConnectRequest struct {
	Endpoint string `json:"endpoint"`
}

// ErrorBody is the JSON error envelope returned by both services.
type ErrorBody struct {
	Error string `json:"error"`
}

// TrialListResponse wraps the study manager's trial listing.
type TrialListResponse struct {
	Trials []domain.Trial `json:"trials"`
}
