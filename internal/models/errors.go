package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed taxonomy of engine errors. Every failure leaving
// the engine is one of these; nothing escapes as an unstructured error.
type ErrorKind string

const (
	KindUnknownTaskType        ErrorKind = "UnknownTaskType"
	KindIncompleteContext      ErrorKind = "IncompleteContext"
	KindContentPolicyViolation ErrorKind = "ContentPolicyViolation"
	KindBudgetExceeded         ErrorKind = "BudgetExceeded"
	KindTimeout                ErrorKind = "Timeout"
	KindProviderError          ErrorKind = "ProviderError"
	KindSchemaValidationFailed ErrorKind = "SchemaValidationFailed"
	KindAiGenerationFailed     ErrorKind = "AiGenerationFailed"
)

// retryableKinds are handled inside the retry controller; they only reach the
// caller folded into a terminal AiGenerationFailed.
var retryableKinds = map[ErrorKind]bool{
	KindTimeout:                true,
	KindProviderError:          true,
	KindSchemaValidationFailed: true,
}

// Retryable reports whether the kind is eligible for the repair/retry path.
func (k ErrorKind) Retryable() bool { return retryableKinds[k] }

// Error is the structured error value returned by every engine component.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool

	// Fields carries the missing field names for IncompleteContext and the
	// offending field paths for validation failures.
	Fields []string
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Info converts the error to its wire representation.
func (e *Error) Info() *ErrorInfo {
	return &ErrorInfo{Code: e.Kind, Message: e.Message, Retryable: e.Retryable}
}

// Errorf builds a structured error of the given kind. Retryability is derived
// from the kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind.Retryable(),
	}
}

// WithFields attaches field names to the error and returns it.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// KindOf extracts the ErrorKind from an error chain, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
