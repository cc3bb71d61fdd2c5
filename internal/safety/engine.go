// Package safety screens request inputs and model outputs against content
// policy. The rules live in an embedded rego policy evaluated through OPA;
// deployments can extend the term lists through configuration without
// touching the policy itself.
package safety

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
)

//go:embed policy.rego
var defaultPolicy string

// Stages passed to the policy. Output screening additionally enforces the
// guarantee patterns; input screening only checks the denylist.
const (
	StageInput  = "input"
	StageOutput = "output"
)

// Config carries the deployment-tunable rule inputs.
type Config struct {
	Denylist          []string `mapstructure:"denylist"`
	GuaranteePatterns []string `mapstructure:"guarantee_patterns"`
}

// Outcome is one screening decision.
type Outcome struct {
	Allowed bool
	Reasons []string
}

// Reason flattens the outcome's reasons for error messages.
func (o *Outcome) Reason() string {
	return strings.Join(o.Reasons, "; ")
}

// Filter evaluates the embedded policy against request and response text.
type Filter struct {
	prepared          rego.PreparedEvalQuery
	denylist          []string
	guaranteePatterns []string
	logger            *zap.Logger
}

// NewFilter compiles the embedded policy. Compilation failure is a startup
// error; the filter never degrades to allowing unscreened traffic.
func NewFilter(cfg Config, logger *zap.Logger) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	prepared, err := rego.New(
		rego.Query("data.contentive.safety.result"),
		rego.Module("policy.rego", defaultPolicy),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("compile safety policy: %w", err)
	}

	denylist := make([]string, 0, len(cfg.Denylist))
	for _, term := range cfg.Denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			denylist = append(denylist, term)
		}
	}
	sort.Strings(denylist)

	logger.Info("safety filter ready",
		zap.Int("denylist_terms", len(denylist)),
		zap.Int("guarantee_patterns", len(cfg.GuaranteePatterns)),
	)

	return &Filter{
		prepared:          prepared,
		denylist:          denylist,
		guaranteePatterns: cfg.GuaranteePatterns,
		logger:            logger,
	}, nil
}

// ScreenInput evaluates request text before any budget reservation or model
// call. A blocked input consumes nothing.
func (f *Filter) ScreenInput(ctx context.Context, text string) (*Outcome, *models.Error) {
	return f.screen(ctx, StageInput, text)
}

// ScreenOutput evaluates the free-text values of a validated response object.
func (f *Filter) ScreenOutput(ctx context.Context, value map[string]any) (*Outcome, *models.Error) {
	return f.screen(ctx, StageOutput, strings.Join(collectText(value), "\n"))
}

func (f *Filter) screen(ctx context.Context, stage, text string) (*Outcome, *models.Error) {
	input := map[string]any{
		"stage":              stage,
		"text":               strings.ToLower(text),
		"denylist":           f.denylist,
		"guarantee_patterns": f.guaranteePatterns,
	}

	results, err := f.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		// Fail closed: an unevaluable policy blocks rather than waves through.
		f.logger.Error("safety policy evaluation failed", zap.String("stage", stage), zap.Error(err))
		metrics.SafetyBlocks.WithLabelValues(stage).Inc()
		return &Outcome{Allowed: false, Reasons: []string{"policy evaluation failed"}},
			models.Errorf(models.KindContentPolicyViolation, "content screening unavailable")
	}

	outcome := parseOutcome(results)
	if !outcome.Allowed {
		metrics.SafetyBlocks.WithLabelValues(stage).Inc()
		f.logger.Warn("content blocked by safety policy",
			zap.String("stage", stage),
			zap.Strings("reasons", outcome.Reasons),
		)
		return outcome, models.Errorf(models.KindContentPolicyViolation,
			"content policy violation: %s", outcome.Reason())
	}
	return outcome, nil
}

func parseOutcome(results rego.ResultSet) *Outcome {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Outcome{Allowed: false, Reasons: []string{"policy produced no result"}}
	}
	obj, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &Outcome{Allowed: false, Reasons: []string{"policy produced a malformed result"}}
	}

	outcome := &Outcome{}
	outcome.Allowed, _ = obj["allow"].(bool)
	if raw, ok := obj["reasons"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				outcome.Reasons = append(outcome.Reasons, s)
			}
		}
	}
	return outcome
}

// collectText gathers every string value in the response object, depth first
// with sorted keys so screening sees a stable document.
func collectText(value map[string]any) []string {
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		out = append(out, collectValue(value[k])...)
	}
	return out
}

func collectValue(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, collectValue(item)...)
		}
		return out
	case map[string]any:
		return collectText(val)
	default:
		return nil
	}
}
