// Package domain defines the entities persisted by the study service: studies,
// trials, long-running operations and their metadata. It has no dependencies
// beyond the standard library so that persistence and service layers depend on
// it one-way.
package domain

import "time"

// Goal declares the optimization direction of a study's objective metric.
type Goal string

const (
	GoalMaximize Goal = "MAXIMIZE"
	GoalMinimize Goal = "MINIMIZE"
)

// ParameterType enumerates the supported search-space parameter kinds.
type ParameterType string

const (
	ParameterDouble      ParameterType = "DOUBLE"
	ParameterInteger     ParameterType = "INTEGER"
	ParameterCategorical ParameterType = "CATEGORICAL"
	ParameterDiscrete    ParameterType = "DISCRETE"
)

// ParameterSpec describes a single dimension of a study's search space.
// A non-empty Children list makes the parameter conditional: the child specs
// only apply for certain values of the parent. Designers that cannot search
// conditional spaces reject such specs at construction time.
type ParameterSpec struct {
	Name       string          `json:"name"`
	Type       ParameterType   `json:"type"`
	MinValue   float64         `json:"min_value,omitempty"`
	MaxValue   float64         `json:"max_value,omitempty"`
	Categories []string        `json:"categories,omitempty"`
	Feasible   []float64       `json:"feasible,omitempty"`
	Children   []ParameterSpec `json:"children,omitempty"`
}

// IsConditional reports whether the spec carries child parameter specs.
func (p ParameterSpec) IsConditional() bool { return len(p.Children) > 0 }

// MetricSpec names the objective metric and its direction.
type MetricSpec struct {
	Name string `json:"name"`
	Goal Goal   `json:"goal"`
}

// StudySpec is the immutable specification a study is created with.
type StudySpec struct {
	Algorithm  string          `json:"algorithm"`
	Metric     MetricSpec      `json:"metric"`
	Parameters []ParameterSpec `json:"parameters"`
}

// IsConditional reports whether any parameter in the search space is conditional.
func (s StudySpec) IsConditional() bool {
	for _, p := range s.Parameters {
		if p.IsConditional() {
			return true
		}
	}
	return false
}

// StudyState is the lifecycle state of a study. Studies are never physically
// deleted; DeleteStudy moves them to StudyInactive.
type StudyState string

const (
	StudyActive    StudyState = "ACTIVE"
	StudyInactive  StudyState = "INACTIVE"
	StudyCompleted StudyState = "COMPLETED"
)

// KeyValue is one namespaced metadata entry. Keys are only unique within a
// namespace; merging replaces the value for an existing (ns, key) pair.
type KeyValue struct {
	Namespace string `json:"ns,omitempty"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// MergeKeyValues merges updates into base by (namespace, key), returning the
// merged list. Applying the same updates twice yields the same result.
func MergeKeyValues(base, updates []KeyValue) []KeyValue {
	out := append([]KeyValue(nil), base...)
	for _, kv := range updates {
		replaced := false
		for i := range out {
			if out[i].Namespace == kv.Namespace && out[i].Key == kv.Key {
				out[i].Value = kv.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, kv)
		}
	}
	return out
}

// Study is a named optimization problem owning a set of trials.
type Study struct {
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	StudyID   string     `json:"study_id"`
	Spec      StudySpec  `json:"spec"`
	State     StudyState `json:"state"`
	Metadata  []KeyValue `json:"metadata,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ParameterValue is one assignment within a trial or suggestion. Exactly one
// of the value fields is set, matching the parameter's declared type.
type ParameterValue struct {
	Name        string   `json:"name"`
	DoubleValue *float64 `json:"double_value,omitempty"`
	IntValue    *int64   `json:"int_value,omitempty"`
	StringValue *string  `json:"string_value,omitempty"`
}

// DoubleParameter builds a DOUBLE assignment.
func DoubleParameter(name string, value float64) ParameterValue {
	return ParameterValue{Name: name, DoubleValue: &value}
}

// IntParameter builds an INTEGER assignment.
func IntParameter(name string, value int64) ParameterValue {
	return ParameterValue{Name: name, IntValue: &value}
}

// StringParameter builds a CATEGORICAL assignment.
func StringParameter(name string, value string) ParameterValue {
	return ParameterValue{Name: name, StringValue: &value}
}

// Float returns the assignment as a float64 where that is meaningful
// (DOUBLE, INTEGER and DISCRETE assignments).
func (v ParameterValue) Float() (float64, bool) {
	switch {
	case v.DoubleValue != nil:
		return *v.DoubleValue, true
	case v.IntValue != nil:
		return float64(*v.IntValue), true
	default:
		return 0, false
	}
}

// Measurement is one reported evaluation of a trial's parameters.
type Measurement struct {
	StepCount   int64              `json:"step_count,omitempty"`
	ElapsedSecs float64            `json:"elapsed_secs,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	TrialActive     TrialState = "ACTIVE"
	TrialCompleted  TrialState = "COMPLETED"
	TrialStopping   TrialState = "STOPPING"
	TrialInfeasible TrialState = "INFEASIBLE"
)

// Trial is one parameter assignment and its measurements within a study. The
// ID is a sequence number unique within the owning study. Once COMPLETED a
// trial is immutable except for metadata.
type Trial struct {
	Name             string           `json:"name"`
	StudyName        string           `json:"study_name"`
	ID               int64            `json:"id"`
	Parameters       []ParameterValue `json:"parameters"`
	Measurements     []Measurement    `json:"measurements,omitempty"`
	FinalMeasurement *Measurement     `json:"final_measurement,omitempty"`
	State            TrialState       `json:"state"`
	Metadata         []KeyValue       `json:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// Objective returns the trial's final value for the named metric.
func (t Trial) Objective(metric string) (float64, bool) {
	if t.FinalMeasurement == nil {
		return 0, false
	}
	v, ok := t.FinalMeasurement.Metrics[metric]
	return v, ok
}

// Suggestion is a new parameter assignment proposed by a designer.
type Suggestion struct {
	Parameters []ParameterValue `json:"parameters"`
}

// OperationState tracks a long-running operation through its lifecycle.
// Terminal states are absorbing: once Done is observed true the result or
// error is final and never overwritten.
type OperationState string

const (
	OperationPending OperationState = "PENDING"
	OperationRunning OperationState = "RUNNING"
	OperationDone    OperationState = "DONE"
)

// ErrorCode classifies a terminal operation failure.
type ErrorCode string

const (
	// ErrorCodeAlgorithm marks a failure raised by the designer itself.
	ErrorCodeAlgorithm ErrorCode = "algorithm"
	// ErrorCodeTransport marks an exhausted-retries infrastructure failure.
	ErrorCodeTransport ErrorCode = "transport"
	// ErrorCodeRecycled marks an operation force-completed by the recycler
	// after exceeding the recycle period. Distinguishable from a genuine
	// algorithm failure so pollers can treat it as ignorable.
	ErrorCodeRecycled ErrorCode = "recycled"
)

// OperationError is the terminal error payload of a failed operation.
type OperationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SuggestOperation is the long-running unit of suggestion work. Identity is
// (owner, client, number); the operation records which study it serves.
type SuggestOperation struct {
	Name        string          `json:"name"`
	Owner       string          `json:"owner"`
	ClientID    string          `json:"client_id"`
	Number      int64           `json:"number"`
	StudyName   string          `json:"study_name"`
	Count       int             `json:"count"`
	State       OperationState  `json:"state"`
	Done        bool            `json:"done"`
	Suggestions []Suggestion    `json:"suggestions,omitempty"`
	Error       *OperationError `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EarlyStoppingOperation is the long-running unit of early-stopping work for
// a single trial.
type EarlyStoppingOperation struct {
	Name       string          `json:"name"`
	Owner      string          `json:"owner"`
	StudyID    string          `json:"study_id"`
	Number     int64           `json:"number"`
	TrialName  string          `json:"trial_name"`
	State      OperationState  `json:"state"`
	Done       bool            `json:"done"`
	ShouldStop bool            `json:"should_stop"`
	Error      *OperationError `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TrialMetadata addresses metadata updates at a specific trial of a study.
type TrialMetadata struct {
	TrialID int64      `json:"trial_id"`
	Entries []KeyValue `json:"entries"`
}

// EarlyStopDecision is the executor's answer to an early-stopping request.
type EarlyStopDecision struct {
	ShouldStop bool   `json:"should_stop"`
	Reason     string `json:"reason,omitempty"`
}
