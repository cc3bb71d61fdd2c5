package models

import "time"

// TaskType identifies a category of generation request. The set is closed:
// every task type resolves to exactly one prompt template and output schema,
// and adding a new one is a single-point change here plus a template file.
type TaskType string

const (
	TaskCalendarGeneration   TaskType = "calendar_generation"
	TaskKpiGeneration        TaskType = "kpi_generation"
	TaskMediaMixOptimization TaskType = "media_mix_optimization"
	TaskTextContent          TaskType = "text_content"
	TaskVisualContent        TaskType = "visual_content"
	TaskVideoScript          TaskType = "video_script"
	TaskPerformanceAnalysis  TaskType = "performance_analysis"
	TaskCustomerReply        TaskType = "customer_reply"
)

// AllTaskTypes returns the closed set of task types in declaration order.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskCalendarGeneration,
		TaskKpiGeneration,
		TaskMediaMixOptimization,
		TaskTextContent,
		TaskVisualContent,
		TaskVideoScript,
		TaskPerformanceAnalysis,
		TaskCustomerReply,
	}
}

// Valid reports whether t is a member of the closed task type set.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func (t TaskType) String() string { return string(t) }

// ParseTaskType converts a wire string into a TaskType.
func ParseTaskType(s string) (TaskType, *Error) {
	t := TaskType(s)
	if !t.Valid() {
		return "", Errorf(KindUnknownTaskType, "unknown task type %q", s)
	}
	return t, nil
}

// Model tiers. Each task type is configured to run on one tier; the tier maps
// to a concrete provider and model in configuration.
const (
	TierLight = "light"
	TierHeavy = "heavy"
)

// Usage record outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeFallback = "fallback"
)

// TaskRequest is the inbound shape of one logical generation request.
type TaskRequest struct {
	TaskType   TaskType       `json:"task_type"`
	TenantID   string         `json:"tenant_id"`
	Inputs     map[string]any `json:"inputs"`
	SessionKey string         `json:"session_key,omitempty"`
}

// Usage summarizes what a completed request consumed.
type Usage struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Model   string  `json:"model"`
}

// ErrorInfo is the wire form of a structured engine error.
type ErrorInfo struct {
	Code      ErrorKind `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// TaskResponse is the outbound shape of one logical generation request.
// Status is "success" or "error"; Data is schema-conformant when present.
type TaskResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Usage  *Usage         `json:"usage,omitempty"`
	Error  *ErrorInfo     `json:"error,omitempty"`
}

// Exchange is one prior prompt/response pair kept in session memory.
type Exchange struct {
	TaskType TaskType  `json:"task_type"`
	Summary  string    `json:"summary"`
	At       time.Time `json:"at"`
}

// UsageRecord is the append-only accounting entry for one logical request.
// Exactly one record is committed per request, aggregating every attempt's
// tokens, whether the request succeeded, failed, or fell back.
type UsageRecord struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	TaskType     TaskType  `json:"task_type" db:"task_type"`
	Provider     string    `json:"provider" db:"provider"`
	Model        string    `json:"model" db:"model"`
	InputTokens  int       `json:"input_tokens" db:"prompt_tokens"`
	OutputTokens int       `json:"output_tokens" db:"completion_tokens"`
	TotalTokens  int       `json:"total_tokens" db:"total_tokens"`
	CostUSD      float64   `json:"cost_usd" db:"cost_usd"`
	Outcome      string    `json:"outcome" db:"outcome"`
	Attempts     int       `json:"attempts" db:"attempts"`
	PromptHash   string    `json:"prompt_hash" db:"prompt_hash"`
	Timestamp    time.Time `json:"timestamp" db:"created_at"`
}
