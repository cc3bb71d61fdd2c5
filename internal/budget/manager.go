// Package budget enforces per-tenant token and cost quotas with a reserve/commit
// discipline. Admission reserves the worst-case spend of a request; the
// commit replaces the reservation with actual usage and appends exactly one
// accounting record. The ledger invariant is that committed usage never
// exceeds the tenant limit, regardless of how many requests race.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
)

// charsPerToken is the conservative prompt-size heuristic used for
// admission estimates. Underestimating here would let a request through
// that could breach the limit, so the divisor stays low.
const charsPerToken = 3

// DefaultPeriod is the quota accounting window.
const DefaultPeriod = 30 * 24 * time.Hour

// Config tunes the budget manager.
type Config struct {
	// DefaultLimit is the per-period token allowance for tenants without an
	// explicit override. Zero disables admission entirely.
	DefaultLimit int `mapstructure:"default_limit"`
	// TenantLimits overrides the default for specific tenants.
	TenantLimits map[string]int `mapstructure:"tenant_limits"`
	// DefaultCostLimit is the per-period USD allowance. Zero means tokens are
	// the only enforced dimension.
	DefaultCostLimit float64 `mapstructure:"default_cost_limit"`
	// TenantCostLimits overrides the cost default for specific tenants.
	TenantCostLimits map[string]float64 `mapstructure:"tenant_cost_limits"`
	// Period is the accounting window after which usage resets.
	Period time.Duration `mapstructure:"period"`
}

// Reservation is an admitted request's hold on tenant budget. It must be
// committed exactly once.
type Reservation struct {
	ID       string
	TenantID string
	Tokens   int
	Cost     float64

	mu        sync.Mutex
	committed bool
}

// tenantState tracks one tenant's window. Each tenant has its own lock so
// heavy tenants do not serialize everyone else.
type tenantState struct {
	mu           sync.Mutex
	used         int
	reserved     int
	costUsed     float64
	costReserved float64
	periodStart  time.Time
}

// Manager is the per-tenant budget ledger.
type Manager struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewManager constructs a Manager. store may be nil, in which case records
// are counted but not persisted.
func NewManager(cfg Config, store Store, logger *zap.Logger) *Manager {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		now:     time.Now,
		tenants: make(map[string]*tenantState),
	}
}

// EstimateTokens is the admission-time worst case for a request: every
// allowed attempt pays the full prompt plus the output ceiling.
func EstimateTokens(promptChars, maxOutputTokens, attempts int) int {
	promptTokens := (promptChars + charsPerToken - 1) / charsPerToken
	return attempts * (promptTokens + maxOutputTokens)
}

// Reserve admits a request by holding the estimated tokens and cost against
// the tenant's remaining budget. Rejection is terminal for the request;
// nothing has been consumed and nothing is recorded.
func (m *Manager) Reserve(tenantID string, estimate int, costEstimate float64) (*Reservation, *models.Error) {
	if estimate <= 0 {
		return nil, models.Errorf(models.KindBudgetExceeded, "non-positive budget estimate %d", estimate)
	}
	limit := m.limitFor(tenantID)
	costLimit := m.costLimitFor(tenantID)

	state := m.state(tenantID)
	state.mu.Lock()
	defer state.mu.Unlock()
	m.rollover(state)

	if state.used+state.reserved+estimate > limit {
		metrics.BudgetRejections.Inc()
		m.logger.Info("budget admission rejected",
			zap.String("tenant_id", tenantID),
			zap.Int("estimate", estimate),
			zap.Int("used", state.used),
			zap.Int("reserved", state.reserved),
			zap.Int("limit", limit),
		)
		return nil, models.Errorf(models.KindBudgetExceeded,
			"tenant %s budget exhausted: %d tokens used, %d reserved, %d requested, limit %d",
			tenantID, state.used, state.reserved, estimate, limit)
	}
	if costLimit > 0 && state.costUsed+state.costReserved+costEstimate > costLimit {
		metrics.BudgetRejections.Inc()
		m.logger.Info("budget admission rejected on cost",
			zap.String("tenant_id", tenantID),
			zap.Float64("cost_estimate", costEstimate),
			zap.Float64("cost_used", state.costUsed),
			zap.Float64("cost_limit", costLimit),
		)
		return nil, models.Errorf(models.KindBudgetExceeded,
			"tenant %s cost budget exhausted: $%.4f used, $%.4f reserved, $%.4f requested, limit $%.4f",
			tenantID, state.costUsed, state.costReserved, costEstimate, costLimit)
	}

	state.reserved += estimate
	state.costReserved += costEstimate
	return &Reservation{ID: uuid.NewString(), TenantID: tenantID, Tokens: estimate, Cost: costEstimate}, nil
}

// Commit settles a reservation with the request's actual usage and appends
// the accounting record. A second commit of the same reservation is a no-op
// returning an error, never a double charge.
func (m *Manager) Commit(ctx context.Context, res *Reservation, record *models.UsageRecord) error {
	res.mu.Lock()
	if res.committed {
		res.mu.Unlock()
		return fmt.Errorf("reservation %s already committed", res.ID)
	}
	res.committed = true
	res.mu.Unlock()

	state := m.state(res.TenantID)
	state.mu.Lock()
	m.rollover(state)
	state.reserved -= res.Tokens
	if state.reserved < 0 {
		state.reserved = 0
	}
	state.costReserved -= res.Cost
	if state.costReserved < 0 {
		state.costReserved = 0
	}
	state.used += record.TotalTokens
	state.costUsed += record.CostUSD
	state.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = m.now()
	}
	metrics.UsageRecords.WithLabelValues(record.Outcome).Inc()

	if m.store == nil {
		return nil
	}
	if err := m.store.Append(ctx, record); err != nil {
		// The in-memory ledger already charged the tenant; a persistence
		// failure loses the audit row, not the enforcement.
		m.logger.Error("usage record append failed",
			zap.String("tenant_id", record.TenantID),
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Remaining reports the tenant's uncommitted allowance.
func (m *Manager) Remaining(tenantID string) int {
	limit := m.limitFor(tenantID)
	state := m.state(tenantID)
	state.mu.Lock()
	defer state.mu.Unlock()
	m.rollover(state)

	remaining := limit - state.used - state.reserved
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Manager) limitFor(tenantID string) int {
	if limit, ok := m.cfg.TenantLimits[tenantID]; ok {
		return limit
	}
	return m.cfg.DefaultLimit
}

func (m *Manager) costLimitFor(tenantID string) float64 {
	if limit, ok := m.cfg.TenantCostLimits[tenantID]; ok {
		return limit
	}
	return m.cfg.DefaultCostLimit
}

func (m *Manager) state(tenantID string) *tenantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.tenants[tenantID]
	if !ok {
		state = &tenantState{periodStart: m.now()}
		m.tenants[tenantID] = state
	}
	return state
}

// rollover resets the window when the period has elapsed. Caller holds the
// tenant lock. Reservations in flight survive the reset.
func (m *Manager) rollover(state *tenantState) {
	now := m.now()
	for now.Sub(state.periodStart) >= m.cfg.Period {
		state.periodStart = state.periodStart.Add(m.cfg.Period)
		state.used = 0
		state.costUsed = 0
	}
}
