package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMessageIngest(store *ephemeral.MemoryStore, clock *fakeClock) *MessageIngest {
	store.SetClock(clock.Now)
	m := NewMessageIngest(store, DefaultIngestOptions(), utils.NopLogger())
	m.now = clock.Now
	return m
}

func newVoiceIngest(store *ephemeral.MemoryStore, clock *fakeClock) *VoiceIngest {
	store.SetClock(clock.Now)
	v := NewVoiceIngest(store, utils.NopLogger())
	v.now = clock.Now
	return v
}

func pending(t *testing.T, store ephemeral.Store, key, field string) int64 {
	t.Helper()
	v, _, err := store.HGet(context.Background(), key, field)
	require.NoError(t, err)
	return v
}

func TestRecordMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstMessageEarnsXP", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		m := newMessageIngest(store, clock)

		outcome, err := m.RecordMessage(ctx, "alice", "g1", 250, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRecorded, outcome)
		assert.Equal(t, int64(1), pending(t, store, "msg:batch:g1", "alice:count"))
		assert.Equal(t, int64(4), pending(t, store, "msg:batch:g1", "alice:xp"))
	})

	t.Run("LengthBonusIsCapped", func(t *testing.T) {
		opts := DefaultIngestOptions()
		assert.Equal(t, int64(2), opts.MessageXPFor(3))
		assert.Equal(t, int64(3), opts.MessageXPFor(199))
		assert.Equal(t, int64(5), opts.MessageXPFor(5000))
	})

	t.Run("CooldownCountsWithoutXP", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		m := newMessageIngest(store, clock)

		_, err := m.RecordMessage(ctx, "alice", "g1", 10, false)
		require.NoError(t, err)
		clock.Advance(time.Second)
		outcome, err := m.RecordMessage(ctx, "alice", "g1", 10, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCooldown, outcome)

		clock.Advance(3 * time.Second)
		outcome, err = m.RecordMessage(ctx, "alice", "g1", 10, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRecorded, outcome)

		assert.Equal(t, int64(3), pending(t, store, "msg:batch:g1", "alice:count"))
		assert.Equal(t, int64(4), pending(t, store, "msg:batch:g1", "alice:xp"))
	})

	t.Run("SpamIsDropped", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		m := newMessageIngest(store, clock)

		for i := 0; i < 5; i++ {
			outcome, err := m.RecordMessage(ctx, "alice", "g1", 10, false)
			require.NoError(t, err)
			assert.NotEqual(t, OutcomeSpam, outcome)
			clock.Advance(500 * time.Millisecond)
		}

		outcome, err := m.RecordMessage(ctx, "alice", "g1", 10, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSpam, outcome)
		assert.Equal(t, int64(5), pending(t, store, "msg:batch:g1", "alice:count"))

		clock.Advance(5 * time.Second)
		outcome, err = m.RecordMessage(ctx, "alice", "g1", 10, false)
		require.NoError(t, err)
		assert.NotEqual(t, OutcomeSpam, outcome)
	})

	t.Run("IgnoresShortMessagesAndBots", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		m := newMessageIngest(store, clock)

		outcome, err := m.RecordMessage(ctx, "alice", "g1", 2, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		outcome, err = m.RecordMessage(ctx, "bot", "g1", 100, true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		keys, err := store.KeysWithPrefix(ctx, "msg:batch:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestRecordVoice(t *testing.T) {
	ctx := context.Background()

	t.Run("SessionMovesSecondsToPending", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		outcome, err := v.RecordVoiceJoin(ctx, "alice", "g1", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeStarted, outcome)

		clock.Advance(90*time.Second + 700*time.Millisecond)
		outcome, err = v.RecordVoiceLeave(ctx, "alice", "g1", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeEnded, outcome)
		assert.Equal(t, int64(90), pending(t, store, "voice:completed:g1", "alice"))

		_, ok, err := store.Get(ctx, "voice:active:alice:g1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DuplicateJoinKeepsFirstStart", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		_, err := v.RecordVoiceJoin(ctx, "alice", "g1", true)
		require.NoError(t, err)
		clock.Advance(30 * time.Second)
		outcome, err := v.RecordVoiceJoin(ctx, "alice", "g1", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		clock.Advance(30 * time.Second)
		_, err = v.RecordVoiceLeave(ctx, "alice", "g1", true)
		require.NoError(t, err)
		assert.Equal(t, int64(60), pending(t, store, "voice:completed:g1", "alice"))
	})

	t.Run("LeaveWithoutSessionIsNoop", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		outcome, err := v.RecordVoiceLeave(ctx, "alice", "g1", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		keys, err := store.KeysWithPrefix(ctx, "voice:completed:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("SubSecondSessionAddsNothing", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		_, err := v.RecordVoiceJoin(ctx, "alice", "g1", true)
		require.NoError(t, err)
		clock.Advance(400 * time.Millisecond)
		_, err = v.RecordVoiceLeave(ctx, "alice", "g1", true)
		require.NoError(t, err)

		_, ok, err := store.HGet(ctx, "voice:completed:g1", "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("IneligibleIsIgnored", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		outcome, err := v.RecordVoiceJoin(ctx, "alice", "g1", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		_, ok, err := store.Get(ctx, "voice:active:alice:g1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRecordVoiceState(t *testing.T) {
	ctx := context.Background()
	state := func(channel string, deaf bool) models.VoiceState {
		return models.VoiceState{Subject: "alice", Scope: "g1", ChannelID: channel, SelfDeafened: deaf}
	}

	store, clock := ephemeral.NewMemoryStore(), newClock()
	v := newVoiceIngest(store, clock)

	outcome, err := v.RecordVoiceState(ctx, state("", false), state("c1", false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, outcome)

	started, ok, err := store.Get(ctx, "voice:active:alice:g1")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(10 * time.Second)
	outcome, err = v.RecordVoiceState(ctx, state("c1", false), state("c2", false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome, "moving channels keeps the session")
	assert.Equal(t, int64(0), pending(t, store, "voice:completed:g1", "alice"))

	after, ok, err := store.Get(ctx, "voice:active:alice:g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, started, after)

	clock.Advance(20 * time.Second)
	outcome, err = v.RecordVoiceState(ctx, state("c2", false), state("c2", true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnded, outcome)
	assert.Equal(t, int64(30), pending(t, store, "voice:completed:g1", "alice"))

	clock.Advance(time.Minute)
	outcome, err = v.RecordVoiceState(ctx, state("c2", true), state("", false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome, "leaving while deafened has no session")
	assert.Equal(t, int64(30), pending(t, store, "voice:completed:g1", "alice"))

	t.Run("MovesDoNotLoseFractionalSeconds", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		_, err := v.RecordVoiceState(ctx, state("", false), state("c1", false))
		require.NoError(t, err)
		clock.Advance(1500 * time.Millisecond)
		_, err = v.RecordVoiceState(ctx, state("c1", false), state("c2", false))
		require.NoError(t, err)
		clock.Advance(1500 * time.Millisecond)
		_, err = v.RecordVoiceState(ctx, state("c2", false), state("", false))
		require.NoError(t, err)

		assert.Equal(t, int64(3), pending(t, store, "voice:completed:g1", "alice"))
	})

	t.Run("MoveOutOfDeafenStartsSession", func(t *testing.T) {
		store, clock := ephemeral.NewMemoryStore(), newClock()
		v := newVoiceIngest(store, clock)

		outcome, err := v.RecordVoiceState(ctx, state("", false), state("c1", true))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		outcome, err = v.RecordVoiceState(ctx, state("c1", true), state("c2", false))
		require.NoError(t, err)
		assert.Equal(t, OutcomeStarted, outcome)
	})

	bot := state("c1", false)
	bot.Bot = true
	outcome, err = v.RecordVoiceState(ctx, state("", false), bot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

type failingStore struct {
	ephemeral.Store
}

var errStoreDown = errors.New("connection refused")

func (failingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errStoreDown
}

func (failingStore) LRange(ctx context.Context, key string) ([]string, error) {
	return nil, errStoreDown
}

func TestIngestFailsOpen(t *testing.T) {
	ctx := context.Background()
	store := failingStore{Store: ephemeral.NewMemoryStore()}

	outcome, err := NewVoiceIngest(store, utils.NopLogger()).RecordVoiceJoin(ctx, "alice", "g1", true)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, OutcomeFailed, outcome)

	outcome, err = NewMessageIngest(store, DefaultIngestOptions(), utils.NopLogger()).RecordMessage(ctx, "alice", "g1", 10, false)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, OutcomeFailed, outcome)
}
