package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rongwang/guild-ledger/internal/api/testutils"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIngestAndFlush(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/messages",
		models.MessageEventRequest{Scope: "g1", ContentLength: 120}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp models.IngestResponse
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "recorded", resp.Outcome)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/messages",
		models.MessageEventRequest{Scope: "g1", ContentLength: 120}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "cooldown", resp.Outcome)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/messages",
		models.MessageEventRequest{Scope: "g1", ContentLength: 1}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "ignored", resp.Outcome)

	require.NoError(t, testCtx.Scheduler.FlushAll(context.Background()))

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/subjects/alice/activity?scope=g1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var activity models.ActivityResponse
	testutils.Decode(t, w, &activity)
	assert.Equal(t, int64(2), activity.Activity.TotalMessages)
	assert.Equal(t, int64(3), activity.Activity.XP)
	assert.Equal(t, 1, activity.Activity.Level)
}

func TestVoiceIngestAndStats(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/voice/join",
		models.VoiceEventRequest{Scope: "g1", Eligible: true}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp models.IngestResponse
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "started", resp.Outcome)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/voice/join",
		models.VoiceEventRequest{Scope: "g1", Eligible: true}, headers)
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "ignored", resp.Outcome, "join is idempotent")

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/bot/voice/join",
		models.VoiceEventRequest{Scope: "g1", Eligible: true, Bot: true}, headers)
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "ignored", resp.Outcome)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/subjects/alice/stats?scope=g1&days=7", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.StatsResponse
	testutils.Decode(t, w, &stats)
	assert.Equal(t, 7, stats.Stats.Days)
	assert.Equal(t, stats.Stats.Durable+stats.Stats.Pending+stats.Stats.Live, stats.Stats.VoiceSeconds)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/subjects/alice/stats?scope=g1&days=0", nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/voice/state",
		models.VoiceStateRequest{
			Old: models.VoiceState{Subject: "alice", Scope: "g1", ChannelID: "c1"},
			New: models.VoiceState{Subject: "alice", Scope: "g1"},
		}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	testutils.Decode(t, w, &resp)
	assert.Equal(t, "ended", resp.Outcome)

	_, ok, err := testCtx.Store.Get(context.Background(), "voice:active:alice:g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboard(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)

	for subject, coins := range map[string]int64{"alice": 300, "bob": 100, "carol": 200} {
		credit(t, testCtx, subject, coins, "salary")
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/"+subject+"/messages",
			models.MessageEventRequest{Scope: "g1", ContentLength: 10}, headers)
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	require.NoError(t, testCtx.Scheduler.FlushAll(context.Background()))

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/scopes/g1/leaderboard?by=balance&limit=2", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var board models.LeaderboardResponse
	testutils.Decode(t, w, &board)
	assert.Equal(t, 3, board.Total)
	require.Len(t, board.Rows, 2)
	assert.Equal(t, "alice", board.Rows[0].Subject)
	assert.Equal(t, "carol", board.Rows[1].Subject)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/scopes/g1/leaderboard?by=karma", nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
