package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/contentive/orchestrator/internal/models"
)

func testFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter(Config{
		Denylist:          []string{"Miracle Cure", "get rich quick"},
		GuaranteePatterns: []string{`guaranteed?\s+(results|weight loss|returns)`},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

func TestScreenInputAllows(t *testing.T) {
	f := testFilter(t)
	outcome, err := f.ScreenInput(context.Background(), "Write a post about our new sourdough loaf.")
	require.Nil(t, err)
	assert.True(t, outcome.Allowed)
	assert.Empty(t, outcome.Reasons)
}

func TestScreenInputBlocksDenylistedTerm(t *testing.T) {
	f := testFilter(t)
	outcome, err := f.ScreenInput(context.Background(), "Promote our MIRACLE CURE supplement line.")
	require.NotNil(t, err)
	assert.Equal(t, models.KindContentPolicyViolation, err.Kind)
	assert.False(t, err.Retryable)
	assert.False(t, outcome.Allowed)
	require.Len(t, outcome.Reasons, 1)
	assert.Contains(t, outcome.Reasons[0], "miracle cure")
}

func TestScreenOutputBlocksGuarantee(t *testing.T) {
	f := testFilter(t)
	outcome, err := f.ScreenOutput(context.Background(), map[string]any{
		"content":  "Try our 30-day program with guaranteed results!",
		"hashtags": []any{"#fitness"},
	})
	require.NotNil(t, err)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Reason(), "prohibited guarantee")
}

func TestGuaranteePatternsIgnoredOnInput(t *testing.T) {
	f := testFilter(t)
	outcome, err := f.ScreenInput(context.Background(), "Our old ad promised guaranteed results; write a softer version.")
	require.Nil(t, err)
	assert.True(t, outcome.Allowed)
}

func TestScreenOutputWalksNestedValues(t *testing.T) {
	f := testFilter(t)
	_, err := f.ScreenOutput(context.Background(), map[string]any{
		"entries": []any{
			map[string]any{"caption": "A normal caption"},
			map[string]any{"caption": "Join our get rich quick webinar"},
		},
	})
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "get rich quick")
}
