package budget

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentive/orchestrator/internal/models"
)

func TestPostgresStoreAppend(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPostgresStore(sqlx.NewDb(mockDB, "postgres"))

	record := &models.UsageRecord{
		ID:           "rec-1",
		TenantID:     "tenant-1",
		TaskType:     models.TaskCustomerReply,
		Provider:     "anthropic",
		Model:        "claude-haiku",
		InputTokens:  140,
		OutputTokens: 60,
		TotalTokens:  200,
		CostUSD:      0.0004,
		Outcome:      models.OutcomeSuccess,
		Attempts:     1,
		PromptHash:   "abc123",
		Timestamp:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO ai_usage").
		WithArgs(
			record.ID, record.TenantID, string(record.TaskType), record.Provider, record.Model,
			record.InputTokens, record.OutputTokens, record.TotalTokens,
			record.CostUSD, record.Outcome, record.Attempts, record.PromptHash, record.Timestamp,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPostgresStore(sqlx.NewDb(mockDB, "postgres"))
	mock.ExpectExec("INSERT INTO ai_usage").WillReturnError(assert.AnError)

	err = store.Append(context.Background(), &models.UsageRecord{ID: "rec-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert usage record")
}
