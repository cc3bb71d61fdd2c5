package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/contentive/orchestrator/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManagerWithClient(client, DefaultTTL, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func exchange(taskType models.TaskType, summary string) models.Exchange {
	return models.Exchange{TaskType: taskType, Summary: summary, At: time.Now()}
}

func TestRecordAndHistory(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskCalendarGeneration, "March calendar"), nil))
	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, "Launch post"), nil))

	history := m.History(ctx, "sess-1", 5)
	require.Len(t, history, 2)
	assert.Equal(t, "March calendar", history[0].Summary)
	assert.Equal(t, "Launch post", history[1].Summary)
}

func TestSnapshotAccumulatesContextFields(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, "Launch post"),
		map[string]string{"business_name": "Bluebird Bakery", "topic": "sourdough launch"}))
	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, "Follow-up"),
		map[string]string{"topic": "opening hours"}))

	snapshot := m.Snapshot(ctx, "sess-1")
	assert.Equal(t, map[string]string{
		"business_name": "Bluebird Bakery",
		"topic":         "opening hours",
	}, snapshot)

	// The snapshot is a copy, not the stored map, and survives a cold cache.
	snapshot["topic"] = "mutated"
	assert.Equal(t, "opening hours", m.Snapshot(ctx, "sess-1")["topic"])

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m2 := NewManagerWithClient(client, DefaultTTL, zaptest.NewLogger(t))
	defer m2.Close()
	assert.Equal(t, "opening hours", m2.Snapshot(ctx, "sess-1")["topic"])

	assert.Nil(t, m.Snapshot(ctx, "sess-unknown"))
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, summary := range []string{"one", "two", "three", "four"} {
		require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, summary), nil))
	}

	history := m.History(ctx, "sess-1", 2)
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Summary)
	assert.Equal(t, "four", history[1].Summary)
}

func TestHistoryUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Nil(t, m.History(context.Background(), "nope", 3))
}

func TestHistorySurvivesLocalCacheMiss(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskKpiGeneration, "Q2 targets"), nil))

	// Fresh manager over the same Redis has a cold cache.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m2 := NewManagerWithClient(client, DefaultTTL, zaptest.NewLogger(t))
	defer m2.Close()

	history := m2.History(ctx, "sess-1", 3)
	require.Len(t, history, 1)
	assert.Equal(t, "Q2 targets", history[0].Summary)
}

func TestHistoryDegradesWhenRedisDown(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, "hello"), nil))
	mr.Close()

	// Cached read still works; an uncached session degrades to no history.
	assert.Len(t, m.History(ctx, "sess-1", 3), 1)
	assert.Nil(t, m.History(ctx, "sess-2", 3))
	assert.Error(t, m.Record(ctx, "sess-2", "tenant-1", exchange(models.TaskTextContent, "lost"), nil))
}

func TestSessionExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManagerWithClient(client, time.Minute, zaptest.NewLogger(t))
	defer m.Close()

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Record(context.Background(), "sess-1", "tenant-1", exchange(models.TaskTextContent, "hi"), nil))

	now = now.Add(2 * time.Minute)
	mr.FastForward(2 * time.Minute)
	assert.Nil(t, m.History(context.Background(), "sess-1", 3))
}

func TestHistoryCapsStoredExchanges(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < maxExchanges+5; i++ {
		require.NoError(t, m.Record(ctx, "sess-1", "tenant-1", exchange(models.TaskTextContent, "post"), nil))
	}
	assert.Len(t, m.History(ctx, "sess-1", 0), maxExchanges)
}
