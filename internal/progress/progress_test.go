package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/cache"
	"github.com/Sumatoshi-tech/tablefang/internal/progress"
)

func newTracker(t *testing.T) (*progress.Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return progress.NewTracker(cache.New(rdb), time.Minute), mr
}

func TestTracker_StartStageComplete(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "op-1"))
	require.NoError(t, tracker.Stage(ctx, "op-1", "load", 40))
	require.NoError(t, tracker.Stage(ctx, "op-1", "load", 100))
	require.NoError(t, tracker.Stage(ctx, "op-1", "embed", 25))

	record, err := tracker.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StateStarted, record.State)
	assert.Equal(t, 100.0, record.Stages["load"])
	assert.Equal(t, 25.0, record.Stages["embed"])

	require.NoError(t, tracker.Complete(ctx, "op-1"))

	record, err = tracker.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StateCompleted, record.State)
	assert.Empty(t, record.Error)
}

func TestTracker_Fail_KeepsMessage(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "op-2"))
	require.NoError(t, tracker.Fail(ctx, "op-2", "parse error on page 3"))

	record, err := tracker.Get(ctx, "op-2")
	require.NoError(t, err)
	assert.Equal(t, progress.StateFailed, record.State)
	assert.Equal(t, "parse error on page 3", record.Error)
}

func TestTracker_Stage_ClampsPercent(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "op-3"))
	require.NoError(t, tracker.Stage(ctx, "op-3", "load", 180))
	require.NoError(t, tracker.Stage(ctx, "op-3", "parse", -5))

	record, err := tracker.Get(ctx, "op-3")
	require.NoError(t, err)
	assert.Equal(t, 100.0, record.Stages["load"])
	assert.Equal(t, 0.0, record.Stages["parse"])
}

func TestTracker_Get_UnknownToken(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)

	_, err := tracker.Get(context.Background(), "never-started")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestTracker_RecordExpires(t *testing.T) {
	t.Parallel()

	tracker, mr := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "op-4"))

	mr.FastForward(2 * time.Minute)

	_, err := tracker.Get(ctx, "op-4")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestTracker_Restart_OverwritesPreviousRun(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "op-5"))
	require.NoError(t, tracker.Stage(ctx, "op-5", "load", 80))
	require.NoError(t, tracker.Fail(ctx, "op-5", "boom"))

	require.NoError(t, tracker.Start(ctx, "op-5"))

	record, err := tracker.Get(ctx, "op-5")
	require.NoError(t, err)
	assert.Equal(t, progress.StateStarted, record.State)
	assert.Empty(t, record.Error)
	assert.Empty(t, record.Stages)
}
