package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskType(t *testing.T) {
	for _, known := range AllTaskTypes() {
		parsed, err := ParseTaskType(string(known))
		require.Nil(t, err, "expected %q to parse", known)
		assert.Equal(t, known, parsed)
	}

	_, err := ParseTaskType("campaign_crud")
	require.NotNil(t, err)
	assert.Equal(t, KindUnknownTaskType, err.Kind)
	assert.False(t, err.Retryable)
}

func TestErrorRetryability(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindUnknownTaskType, false},
		{KindIncompleteContext, false},
		{KindContentPolicyViolation, false},
		{KindBudgetExceeded, false},
		{KindTimeout, true},
		{KindProviderError, true},
		{KindSchemaValidationFailed, true},
		{KindAiGenerationFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := Errorf(tt.kind, "boom")
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorFieldsInMessage(t *testing.T) {
	err := Errorf(KindIncompleteContext, "missing required context fields").
		WithFields("platform", "topic")
	assert.Contains(t, err.Error(), "platform")
	assert.Contains(t, err.Error(), "topic")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindIncompleteContext, kind)
}

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, "openai", DetectProvider("gpt-4o-mini"))
	assert.Equal(t, "anthropic", DetectProvider("claude-sonnet-4-5"))
	assert.Equal(t, "unknown", DetectProvider(""))
}
