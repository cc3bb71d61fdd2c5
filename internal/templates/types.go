package templates

import (
	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/schema"
)

// Template is the full prompt definition for one task type: the system role,
// the context contract, the task instructions, and the output schema. Loaded
// from YAML at process start and never mutated afterwards.
type Template struct {
	TaskType        models.TaskType `yaml:"task_type"`
	Version         string          `yaml:"version"`
	Role            string          `yaml:"role"`
	RequiredContext []string        `yaml:"required_context"`
	Instructions    string          `yaml:"instructions"`
	ModelTier       string          `yaml:"model_tier"`
	MaxOutputTokens int             `yaml:"max_output_tokens"`
	OutputSchema    schema.Schema   `yaml:"output_schema"`

	// Fallback is an optional deterministic, schema-valid JSON value returned
	// when every generation attempt has been exhausted. Validated at load.
	Fallback string `yaml:"fallback,omitempty"`
}

// DefaultMaxOutputTokens applies when a template omits max_output_tokens.
const DefaultMaxOutputTokens = 1024

// Entry captures a loaded template alongside bookkeeping data.
type Entry struct {
	Template    *Template
	SourcePath  string
	ContentHash string
}

// Summary exposes lightweight information about a registered template.
type Summary struct {
	TaskType    models.TaskType
	Version     string
	ContentHash string
	SourcePath  string
}
