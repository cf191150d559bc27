package activity

import (
	"context"
	"testing"
	"time"

	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsForPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(FlushOptions{ParallelScopes: 1, MaxBatchSize: 500})
	v := newVoiceIngest(f.store, f.clock)
	stats := NewStats(f.store, f.repo)
	stats.now = f.clock.Now

	today := repository.Date(f.clock.Now())
	for age, seconds := range map[int]int64{1: 100, 6: 200, 7: 400} {
		day := today.AddDate(0, 0, -age)
		require.NoError(t, f.repo.WithActivityTx(ctx, func(tx repository.ActivityTx) error {
			return tx.UpsertDaily(ctx, "g1", day, []models.ActivityDelta{{Subject: "alice", VoiceSeconds: seconds}})
		}))
	}

	// 60s pending, then a session open for 45s
	_, err := v.RecordVoiceJoin(ctx, "alice", "g1", true)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = v.RecordVoiceLeave(ctx, "alice", "g1", true)
	require.NoError(t, err)
	_, err = v.RecordVoiceJoin(ctx, "alice", "g1", true)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)

	week, err := stats.GetStatsForPeriod(ctx, "alice", "g1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(300), week.Durable)
	assert.Equal(t, int64(60), week.Pending)
	assert.Equal(t, int64(45), week.Live)
	assert.Equal(t, int64(405), week.VoiceSeconds)

	day, err := stats.GetTodayStats(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, day.Days)
	assert.Equal(t, int64(105), day.VoiceSeconds)

	// Flushing moves pending seconds into today's record without changing the total.
	_, err = f.voice.RunCycle(ctx)
	require.NoError(t, err)
	after, err := stats.GetTodayStats(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), after.Durable)
	assert.Zero(t, after.Pending)
	assert.Equal(t, int64(105), after.VoiceSeconds)
}

func TestStatsValidation(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(FlushOptions{})
	stats := NewStats(f.store, f.repo)

	_, err := stats.GetStatsForPeriod(ctx, "alice", "g1", 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = stats.GetStatsForPeriod(ctx, "", "g1", 7)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = stats.Leaderboard(ctx, "", models.LeaderboardVoice, 10, 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStatsActivityDefaults(t *testing.T) {
	f := newFlushFixture(FlushOptions{})
	stats := NewStats(f.store, f.repo)

	agg, err := stats.GetActivity(context.Background(), "nobody", "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Level)
	assert.Equal(t, int64(100), agg.XPForNext)
	assert.Zero(t, agg.XP)
}

func TestStatsSurviveFailedFlush(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(FlushOptions{ParallelScopes: 1, MaxBatchSize: 500})
	stats := NewStats(f.store, f.repo)
	stats.now = f.clock.Now

	_, err := f.store.HIncrBy(ctx, "voice:completed:g1", "alice", 300)
	require.NoError(t, err)

	f.repo.FailActivityCommits(func(string) error { return models.ErrDurableUnavailable })
	result, err := f.voice.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)

	before, err := stats.GetTodayStats(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), before.VoiceSeconds)
	assert.Equal(t, int64(300), before.Pending)

	f.repo.FailActivityCommits(nil)
	_, err = f.voice.RunCycle(ctx)
	require.NoError(t, err)

	after, err := stats.GetTodayStats(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), after.VoiceSeconds, "retried flush does not double count")
	assert.Equal(t, int64(300), after.Durable)
	assert.Zero(t, after.Pending)
}
