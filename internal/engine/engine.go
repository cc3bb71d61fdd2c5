// Package engine runs one logical generation request end to end: template
// resolution, context gathering, input screening, budget admission, the
// invoke/validate/repair loop, output screening, and usage settlement.
package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/budget"
	"github.com/contentive/orchestrator/internal/llm"
	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/pricing"
	"github.com/contentive/orchestrator/internal/prompt"
	"github.com/contentive/orchestrator/internal/safety"
	"github.com/contentive/orchestrator/internal/schema"
	"github.com/contentive/orchestrator/internal/templates"
)

// State names the phase a request is in. Transitions are strictly forward
// except Repairing, which loops back into Invoking.
type State int

const (
	StateBuilding State = iota
	StateInvoking
	StateValidating
	StateRepairing
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateInvoking:
		return "invoking"
	case StateValidating:
		return "validating"
	case StateRepairing:
		return "repairing"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Config tunes the retry controller.
type Config struct {
	// MaxAttempts bounds model invocations per logical request.
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// DefaultConfig allows one repair cycle plus a final attempt.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond}
}

// Sessions is the slice of the session manager the engine needs.
type Sessions interface {
	Record(ctx context.Context, sessionKey, tenantID string, ex models.Exchange, fields map[string]string) error
}

// Engine orchestrates requests.
type Engine struct {
	cfg      Config
	registry *templates.Registry
	builder  *prompt.Builder
	filter   *safety.Filter
	budget   *budget.Manager
	client   *llm.Client
	prices   *pricing.Table
	sessions Sessions
	logger   *zap.Logger
}

// New wires the engine. sessions may be nil for stateless deployments.
func New(cfg Config, registry *templates.Registry, builder *prompt.Builder, filter *safety.Filter,
	budgetMgr *budget.Manager, client *llm.Client, prices *pricing.Table, sessions Sessions, logger *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		builder:  builder,
		filter:   filter,
		budget:   budgetMgr,
		client:   client,
		prices:   prices,
		sessions: sessions,
		logger:   logger,
	}
}

// Execute runs one logical request. Every return path produces a structured
// response; requests that passed budget admission additionally settle exactly
// one usage record, whatever their outcome.
func (e *Engine) Execute(ctx context.Context, req *models.TaskRequest) *models.TaskResponse {
	start := time.Now()
	ctx, span := otel.Tracer("contentive/engine").Start(ctx, "engine.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_type", string(req.TaskType)),
		attribute.String("tenant_id", req.TenantID),
	)

	resp, outcome := e.execute(ctx, req)

	metrics.RequestsTotal.WithLabelValues(string(req.TaskType), outcome).Inc()
	metrics.RequestDuration.WithLabelValues(string(req.TaskType)).Observe(time.Since(start).Seconds())
	return resp
}

// execute returns the response plus the request outcome used for metrics:
// the settled record's outcome once admission succeeded, failed before that.
func (e *Engine) execute(ctx context.Context, req *models.TaskRequest) (*models.TaskResponse, string) {
	log := e.logger.With(
		zap.String("task_type", string(req.TaskType)),
		zap.String("tenant_id", req.TenantID),
	)

	// Building: resolve template, gather context, assemble the prompt.
	tpl, mErr := e.registry.Resolve(req.TaskType)
	if mErr != nil {
		return errorResponse(mErr), models.OutcomeFailed
	}
	bundle, mErr := e.builder.Gather(ctx, req, tpl)
	if mErr != nil {
		log.Info("request rejected during context gathering",
			zap.String("kind", string(mErr.Kind)),
			zap.Strings("fields", mErr.Fields),
		)
		return errorResponse(mErr), models.OutcomeFailed
	}
	assembled := prompt.Assemble(bundle, tpl)
	log = log.With(zap.String("prompt_hash", assembled.Hash))

	// Input screening happens before admission: a blocked request must not
	// consume budget or reach a provider.
	if e.filter != nil {
		if _, mErr := e.filter.ScreenInput(ctx, assembled.UserText()); mErr != nil {
			return errorResponse(mErr), models.OutcomeFailed
		}
	}

	provider, model, _ := e.client.ProviderFor(tpl.ModelTier)

	estimate := budget.EstimateTokens(len(assembled.Text()), tpl.MaxOutputTokens, e.cfg.MaxAttempts)
	reservation, mErr := e.budget.Reserve(req.TenantID, estimate, e.prices.EstimateCost(model, estimate))
	if mErr != nil {
		return errorResponse(mErr), models.OutcomeFailed
	}

	run := e.attemptLoop(ctx, log, tpl, assembled)

	if run.model != "" {
		model = run.model
	}
	if provider == "" {
		provider = models.DetectProvider(model)
	}
	record := &models.UsageRecord{
		TenantID:     req.TenantID,
		TaskType:     req.TaskType,
		Provider:     provider,
		Model:        model,
		InputTokens:  run.inputTokens,
		OutputTokens: run.outputTokens,
		TotalTokens:  run.inputTokens + run.outputTokens,
		CostUSD:      e.prices.CostForSplit(model, run.inputTokens, run.outputTokens),
		Attempts:     run.attempts,
		PromptHash:   assembled.Hash,
	}
	metrics.RequestAttempts.Observe(float64(run.attempts))

	if run.value != nil {
		record.Outcome = models.OutcomeSuccess
		e.commit(ctx, reservation, record, log)
		e.recordExchange(ctx, req, bundle, run.value)
		return &models.TaskResponse{
			Status: "success",
			Data:   run.value,
			Usage:  &models.Usage{Tokens: record.TotalTokens, CostUSD: record.CostUSD, Model: model},
		}, models.OutcomeSuccess
	}

	// Exhausted on retryable failures: serve the deterministic fallback when
	// the template provides one. Terminal failures, policy blocks and caller
	// cancellation included, never degrade to the fallback. Either way the
	// usage is settled.
	if run.err.Retryable {
		if fallback := e.fallbackValue(tpl); fallback != nil {
			record.Outcome = models.OutcomeFallback
			e.commit(ctx, reservation, record, log)
			log.Warn("generation exhausted, serving fallback",
				zap.Int("attempts", run.attempts),
				zap.String("last_error", run.err.Message),
			)
			return &models.TaskResponse{
				Status: "success",
				Data:   fallback,
				Usage:  &models.Usage{Tokens: record.TotalTokens, CostUSD: record.CostUSD, Model: model},
			}, models.OutcomeFallback
		}
	}

	record.Outcome = models.OutcomeFailed
	e.commit(ctx, reservation, record, log)
	log.Warn("generation failed",
		zap.Int("attempts", run.attempts),
		zap.String("kind", string(run.err.Kind)),
		zap.String("message", run.err.Message),
	)

	final := run.err
	if final.Retryable {
		// Retryable kinds never escape the controller raw.
		final = models.Errorf(models.KindAiGenerationFailed,
			"generation failed after %d attempts: %s", run.attempts, run.err.Message)
	}
	resp := errorResponse(final)
	resp.Usage = &models.Usage{Tokens: record.TotalTokens, CostUSD: record.CostUSD, Model: model}
	return resp, models.OutcomeFailed
}

// runResult aggregates the attempt loop's outcome. value is non-nil on
// success; err holds the last failure otherwise.
type runResult struct {
	value        map[string]any
	err          *models.Error
	attempts     int
	inputTokens  int
	outputTokens int
	model        string
}

func (e *Engine) attemptLoop(ctx context.Context, log *zap.Logger, tpl *templates.Template, assembled *prompt.Assembled) *runResult {
	run := &runResult{}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialBackoff
	bo.MaxInterval = 10 * time.Second

	correction := ""
	for run.attempts < e.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			// The caller is gone. Attempts already made are charged; no new
			// attempt starts.
			run.err = cancelError(run.err)
			return run
		}
		run.attempts++

		state := StateInvoking
		user := assembled.UserText()
		if correction != "" {
			state = StateRepairing
			user = user + "\n\n" + correction
			metrics.RepairAttempts.Inc()
		}
		log.Debug("attempt started",
			zap.Int("attempt", run.attempts),
			zap.String("state", state.String()),
		)

		resp, mErr := e.client.Invoke(ctx, &llm.Invocation{
			Tier:      tpl.ModelTier,
			System:    assembled.System,
			User:      user,
			MaxTokens: tpl.MaxOutputTokens,
		})
		if mErr != nil {
			run.err = mErr
			if !mErr.Retryable || run.attempts >= e.cfg.MaxAttempts {
				return run
			}
			e.sleep(ctx, bo.NextBackOff())
			continue
		}

		run.inputTokens += resp.InputTokens
		run.outputTokens += resp.OutputTokens
		run.model = resp.Model

		// Validating.
		result := schema.ValidateOutput(resp.Content, &tpl.OutputSchema)
		if !result.Valid {
			correction = schema.CorrectionInstruction(result.Errors)
			paths := make([]string, 0, len(result.Errors))
			for _, fe := range result.Errors {
				paths = append(paths, fe.Path)
			}
			run.err = models.Errorf(models.KindSchemaValidationFailed,
				"output failed schema validation on attempt %d", run.attempts).WithFields(paths...)
			if run.attempts >= e.cfg.MaxAttempts {
				return run
			}
			e.sleep(ctx, bo.NextBackOff())
			continue
		}

		// Output screening is terminal: a policy-violating response is not
		// repairable by reprompting with its own content.
		if e.filter != nil {
			if _, mErr := e.filter.ScreenOutput(ctx, result.Value); mErr != nil {
				run.err = mErr
				return run
			}
		}

		run.value = result.Value
		run.err = nil
		return run
	}

	if run.err == nil {
		run.err = models.Errorf(models.KindAiGenerationFailed, "no attempts were made")
	}
	return run
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (e *Engine) commit(ctx context.Context, res *budget.Reservation, record *models.UsageRecord, log *zap.Logger) {
	// Settlement must survive caller cancellation.
	if err := e.budget.Commit(context.WithoutCancel(ctx), res, record); err != nil {
		log.Error("usage settlement failed", zap.Error(err))
	}
}

func (e *Engine) recordExchange(ctx context.Context, req *models.TaskRequest, bundle *prompt.Bundle, value map[string]any) {
	if e.sessions == nil || req.SessionKey == "" {
		return
	}
	ex := models.Exchange{
		TaskType: req.TaskType,
		Summary:  summarize(value),
		At:       time.Now(),
	}
	if err := e.sessions.Record(context.WithoutCancel(ctx), req.SessionKey, req.TenantID, ex, bundle.Fields); err != nil {
		e.logger.Warn("session record failed",
			zap.String("session_key", req.SessionKey),
			zap.Error(err),
		)
	}
}

func (e *Engine) fallbackValue(tpl *templates.Template) map[string]any {
	if tpl.Fallback == "" {
		return nil
	}
	// Fallbacks were validated against the schema at registry load.
	result := schema.ValidateOutput(tpl.Fallback, &tpl.OutputSchema)
	if !result.Valid {
		return nil
	}
	return result.Value
}

func cancelError(last *models.Error) *models.Error {
	msg := "request canceled before completion"
	if last != nil {
		msg = msg + "; last attempt: " + last.Message
	}
	e := models.Errorf(models.KindAiGenerationFailed, "%s", msg)
	e.Retryable = false
	return e
}

func errorResponse(mErr *models.Error) *models.TaskResponse {
	return &models.TaskResponse{Status: "error", Error: mErr.Info()}
}

// summarize produces the short exchange summary stored in session memory:
// the first non-empty string value, truncated.
func summarize(value map[string]any) string {
	const maxLen = 140
	s := firstString(value)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

func firstString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		// Prefer conventional headline fields before falling back to any
		// string in the object.
		for _, key := range []string{"summary", "content", "theme", "reply", "title"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s
			}
		}
		for _, item := range val {
			if s := firstString(item); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range val {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}
