// Package prompt turns a validated task request and its template into the
// exact text sent to the model. Assembly is deterministic: identical inputs
// always produce byte-identical prompts, so prompt hashes are stable and
// cacheable.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/templates"
)

// SessionReader supplies prior exchanges and the accumulated context
// snapshot for a session key. The session manager implements it; a nil
// reader means stateless assembly.
type SessionReader interface {
	History(ctx context.Context, sessionKey string, limit int) []models.Exchange
	Snapshot(ctx context.Context, sessionKey string) map[string]string
}

// DefaultHistoryLimit bounds how many prior exchanges are folded into the
// continuity section of a prompt.
const DefaultHistoryLimit = 3

// Bundle is the fully gathered input for assembly: every required context
// field stringified, plus any session history.
type Bundle struct {
	TenantID string
	TaskType models.TaskType
	Fields   map[string]string
	History  []models.Exchange
}

// Builder gathers and checks context before assembly.
type Builder struct {
	sessions     SessionReader
	historyLimit int
}

// NewBuilder constructs a Builder. sessions may be nil.
func NewBuilder(sessions SessionReader) *Builder {
	return &Builder{sessions: sessions, historyLimit: DefaultHistoryLimit}
}

// Gather checks the request's inputs against the template's context contract
// and produces an assembly bundle. A field absent from the inputs may still
// be satisfied by the session's context snapshot; fields missing from both
// abort the request before any model call or budget reservation.
func (b *Builder) Gather(ctx context.Context, req *models.TaskRequest, tpl *templates.Template) (*Bundle, *models.Error) {
	var snapshot map[string]string
	if b.sessions != nil && req.SessionKey != "" {
		snapshot = b.sessions.Snapshot(ctx, req.SessionKey)
	}

	fields := make(map[string]string, len(tpl.RequiredContext))
	var missing []string
	for _, name := range tpl.RequiredContext {
		if raw, ok := req.Inputs[name]; ok {
			if s, ok := stringify(raw); ok && strings.TrimSpace(s) != "" {
				fields[name] = s
				continue
			}
		}
		if s, ok := snapshot[name]; ok && strings.TrimSpace(s) != "" {
			fields[name] = s
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, models.Errorf(models.KindIncompleteContext,
			"missing required context fields: %s", strings.Join(missing, ", ")).WithFields(missing...)
	}

	bundle := &Bundle{
		TenantID: req.TenantID,
		TaskType: req.TaskType,
		Fields:   fields,
	}
	if b.sessions != nil && req.SessionKey != "" {
		bundle.History = b.sessions.History(ctx, req.SessionKey, b.historyLimit)
	}
	return bundle, nil
}

// stringify renders a request input value as prompt text. Structured values
// are flattened; nils and unsupported types are rejected as missing.
func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := stringify(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			s, ok := stringify(val[k])
			if !ok {
				return "", false
			}
			parts = append(parts, fmt.Sprintf("%s: %s", k, s))
		}
		return strings.Join(parts, "; "), true
	default:
		return "", false
	}
}
