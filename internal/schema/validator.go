package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/contentive/orchestrator/internal/metrics"
)

// FieldError pinpoints one schema violation.
type FieldError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("field `%s`: %s", e.Path, e.Reason)
}

// Result is the outcome of validating one raw model output.
// Valid=true implies Value conforms exactly to the schema: every required
// field present, every value of the declared type, enums and bounds honored.
type Result struct {
	Valid  bool
	Value  map[string]any
	Errors []FieldError
}

// ValidateOutput parses raw model text as JSON and checks it against the
// schema. Markdown code fences are stripped first; models wrap JSON in them
// no matter how firmly the prompt forbids it.
func ValidateOutput(raw string, s *Schema) Result {
	cleaned := StripFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		metrics.ValidationFailures.WithLabelValues("empty").Inc()
		return invalid(FieldError{Reason: "response was empty; return the JSON object"})
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		metrics.ValidationFailures.WithLabelValues("parse").Inc()
		return invalid(FieldError{Reason: fmt.Sprintf("response is not valid JSON: %v", err)})
	}

	obj, ok := top.(map[string]any)
	if !ok {
		metrics.ValidationFailures.WithLabelValues("not_object").Inc()
		return invalid(FieldError{Reason: "top-level value must be a JSON object"})
	}

	var errs []FieldError
	checkFields("", obj, s.Fields, &errs)
	if len(errs) > 0 {
		metrics.ValidationFailures.WithLabelValues("schema").Inc()
		return Result{Valid: false, Errors: errs}
	}
	return Result{Valid: true, Value: obj}
}

func invalid(errs ...FieldError) Result {
	return Result{Valid: false, Errors: errs}
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(raw string) string {
	t := strings.TrimSpace(raw)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		first := strings.TrimSpace(t[:idx])
		if first == "" || first == "json" || first == "JSON" {
			t = t[idx+1:]
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func checkFields(base string, obj map[string]any, fields []Field, errs *[]FieldError) {
	for i := range fields {
		f := &fields[i]
		path := joinPath(base, f.Name)
		v, present := obj[f.Name]
		if !present || v == nil {
			if f.Required {
				*errs = append(*errs, FieldError{Path: path, Reason: "required field is missing"})
			}
			continue
		}
		checkValue(path, v, f, errs)
	}
}

func checkValue(path string, v any, f *Field, errs *[]FieldError) {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Reason: "must be a string"})
			return
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			*errs = append(*errs, FieldError{
				Path:   path,
				Reason: fmt.Sprintf("must be one of: %s", strings.Join(f.Enum, " | ")),
			})
		}
	case TypeInt:
		n, ok := asFloat(v)
		if !ok || n != math.Trunc(n) {
			*errs = append(*errs, FieldError{Path: path, Reason: boundedReason("must be an integer", f)})
			return
		}
		checkBounds(path, n, f, errs)
	case TypeNumber:
		n, ok := asFloat(v)
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Reason: boundedReason("must be a number", f)})
			return
		}
		checkBounds(path, n, f, errs)
	case TypeBool:
		if _, ok := v.(bool); !ok {
			*errs = append(*errs, FieldError{Path: path, Reason: "must be a boolean"})
		}
	case TypeList:
		items, ok := v.([]any)
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Reason: fmt.Sprintf("must be a list of %s", typeLabel(f.Items))})
			return
		}
		for i, item := range items {
			checkValue(fmt.Sprintf("%s[%d]", path, i), item, f.Items, errs)
		}
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Reason: "must be an object"})
			return
		}
		checkFields(path, obj, f.Fields, errs)
	}
}

func checkBounds(path string, n float64, f *Field, errs *[]FieldError) {
	if (f.Min != nil && n < *f.Min) || (f.Max != nil && n > *f.Max) {
		*errs = append(*errs, FieldError{Path: path, Reason: boundedReason("must be a value", f)})
	}
}

func boundedReason(base string, f *Field) string {
	if f.Min != nil && f.Max != nil {
		return fmt.Sprintf("%s between %s and %s", base, trimFloat(*f.Min), trimFloat(*f.Max))
	}
	if f.Min != nil {
		return fmt.Sprintf("%s of at least %s", base, trimFloat(*f.Min))
	}
	if f.Max != nil {
		return fmt.Sprintf("%s of at most %s", base, trimFloat(*f.Max))
	}
	return base
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
