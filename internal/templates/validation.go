package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/schema"
)

// Issue is a single template validation problem.
type Issue struct {
	Code    string
	Message string
}

// ValidationError aggregates all issues found in one template.
type ValidationError struct {
	TaskType models.TaskType
	Issues   []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Message)
	}
	return fmt.Sprintf("template %q invalid: %s", e.TaskType, strings.Join(parts, "; "))
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Placeholders returns the context field names referenced by the
// instruction body, in order of first appearance.
func Placeholders(instructions string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(instructions, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ValidateTemplate checks a decoded template before it enters the registry.
// Everything checked here is a startup failure, never a runtime surprise.
func ValidateTemplate(tpl *Template) error {
	var issues []Issue
	add := func(code, format string, args ...any) {
		issues = append(issues, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !tpl.TaskType.Valid() {
		add("task_type", "unknown task type %q", tpl.TaskType)
	}
	if strings.TrimSpace(tpl.Role) == "" {
		add("role", "role description is empty")
	}
	if strings.TrimSpace(tpl.Instructions) == "" {
		add("instructions", "instruction body is empty")
	}
	if tpl.ModelTier != models.TierLight && tpl.ModelTier != models.TierHeavy {
		add("model_tier", "model_tier must be %q or %q, got %q", models.TierLight, models.TierHeavy, tpl.ModelTier)
	}
	if tpl.MaxOutputTokens <= 0 {
		add("max_output_tokens", "max_output_tokens must be positive")
	}

	seen := map[string]bool{}
	for _, field := range tpl.RequiredContext {
		if strings.TrimSpace(field) == "" {
			add("required_context", "required context contains an empty field name")
			continue
		}
		if seen[field] {
			add("required_context", "duplicate required context field %q", field)
		}
		seen[field] = true
	}

	// Every placeholder in the instruction body must be a required context
	// field, otherwise assembly would leave literal braces in the prompt.
	for _, name := range Placeholders(tpl.Instructions) {
		if !seen[name] {
			add("placeholder", "instruction placeholder {{%s}} is not a required context field", name)
		}
	}

	if err := tpl.OutputSchema.Validate(); err != nil {
		add("output_schema", "output schema invalid: %v", err)
	} else if tpl.Fallback != "" {
		// A fallback that does not conform to its own schema would break the
		// engine's schema-conformance guarantee on the degradation path.
		res := schema.ValidateOutput(tpl.Fallback, &tpl.OutputSchema)
		if !res.Valid {
			add("fallback", "fallback value does not conform to output schema: %v", res.Errors)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{TaskType: tpl.TaskType, Issues: issues}
	}
	return nil
}
