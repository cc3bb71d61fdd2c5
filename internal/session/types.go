package session

import (
	"time"

	"github.com/contentive/orchestrator/internal/models"
)

// Entry is one session's continuity state: the recent exchanges folded into
// follow-up prompts for the same session key, plus a snapshot of the context
// fields gathered for them. The snapshot lets a follow-up request omit fields
// it already supplied earlier in the session.
type Entry struct {
	SessionKey string            `json:"session_key"`
	TenantID   string            `json:"tenant_id"`
	Exchanges  []models.Exchange `json:"exchanges"`
	Context    map[string]string `json:"context,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
