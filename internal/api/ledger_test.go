package api_test

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/rongwang/guild-ledger/internal/api/testutils"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credit(t *testing.T, testCtx *testutils.TestContext, subject string, amount int64, reason string) {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/"+subject+"/transactions",
		models.TransactionRequest{Scope: "g1", Amount: amount, Reason: reason},
		testutils.AuthHeaders(testCtx.ServiceJWT))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func balanceOf(t *testing.T, testCtx *testutils.TestContext, subject string) models.BalanceResponse {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/subjects/"+subject+"/balance",
		nil, testutils.AuthHeaders(testCtx.ServiceJWT))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.BalanceResponse
	testutils.Decode(t, w, &resp)
	return resp
}

func TestAddTransaction(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)

	// Test case 1: credit is classified and applied
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transactions",
		models.TransactionRequest{Scope: "g1", Amount: 100, Reason: "daily bonus"}, headers)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.TransactionResponse
	testutils.Decode(t, w, &resp)
	assert.Equal(t, models.TypeIncome, resp.Entry.Type)
	assert.Equal(t, models.CategoryDailyBonus, resp.Entry.Category)
	assert.Equal(t, int64(100), resp.Entry.BalanceAfter)

	// Test case 2: overdraft is rejected and changes nothing
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transactions",
		models.TransactionRequest{Scope: "g1", Amount: -150, Reason: "shop purchase"}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var errResp models.ErrorResponse
	testutils.Decode(t, w, &errResp)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errResp.Code)
	assert.Equal(t, int64(100), balanceOf(t, testCtx, "alice").Coins)

	// Test case 3: missing required fields
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transactions",
		models.TransactionRequest{Scope: "g1", Amount: 5}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: amount above the balance cap
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transactions",
		models.TransactionRequest{Scope: "g1", Amount: 1_000_000_000, Reason: "work"}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBalanceOfUnknownSubject(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	resp := balanceOf(t, testCtx, "nobody")
	assert.Equal(t, "nobody", resp.Subject)
	assert.Zero(t, resp.Coins)
	assert.Zero(t, resp.Diamonds)
}

func TestCreateTransfer(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)
	credit(t, testCtx, "alice", 500, "salary")

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transfers",
		models.TransferRequest{Recipient: "bob", Scope: "g1", Amount: 200, Reason: "rent share"}, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.TransferResponse
	testutils.Decode(t, w, &resp)
	assert.Equal(t, int64(-200), resp.SenderEntry.Amount)
	assert.Equal(t, int64(200), resp.RecipientEntry.Amount)
	assert.Equal(t, models.TypeTransfer, resp.SenderEntry.Type)

	assert.Equal(t, int64(300), balanceOf(t, testCtx, "alice").Coins)
	assert.Equal(t, int64(200), balanceOf(t, testCtx, "bob").Coins)

	// Self transfer and non-positive amounts are invalid
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transfers",
		models.TransferRequest{Recipient: "alice", Scope: "g1", Amount: 10}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transfers",
		models.TransferRequest{Recipient: "bob", Scope: "g1", Amount: -10}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Overdraft leaves both balances untouched
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transfers",
		models.TransferRequest{Recipient: "bob", Scope: "g1", Amount: 301}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, int64(300), balanceOf(t, testCtx, "alice").Coins)
	assert.Equal(t, int64(200), balanceOf(t, testCtx, "bob").Coins)
}

func TestConcurrentDebits(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	credit(t, testCtx, "alice", 100, "salary")

	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/subjects/alice/transactions",
				models.TransactionRequest{Scope: "g1", Amount: -30, Reason: "shop purchase"},
				testutils.AuthHeaders(testCtx.ServiceJWT))
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			succeeded++
			continue
		}
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(10), balanceOf(t, testCtx, "alice").Coins)
}

func TestGetTransactions(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)
	for i := 1; i <= 5; i++ {
		credit(t, testCtx, "alice", int64(i*10), "work shift")
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/transactions?scope=g1&limit=2&offset=1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TransactionsResponse
	testutils.Decode(t, w, &resp)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(40), resp.Entries[0].Amount)
	assert.Equal(t, int64(30), resp.Entries[1].Amount)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/transactions?scope=g1&limit=abc", nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/transactions", nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code, "scope is required")
}

func TestAnalyticsAndCooldown(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.ServiceJWT)
	credit(t, testCtx, "alice", 100, "daily bonus")
	credit(t, testCtx, "alice", 50, "daily bonus")

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/analytics?scope=g1&period=week", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var analytics models.AnalyticsResponse
	testutils.Decode(t, w, &analytics)
	require.Len(t, analytics.Rows, 1)
	assert.Equal(t, int64(150), analytics.Rows[0].Total)
	assert.Equal(t, 2, analytics.Rows[0].Count)
	assert.Equal(t, "75", analytics.Rows[0].Average.String())

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/analytics?scope=g1&period=decade", nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/alice/cooldown?scope=g1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var cooldown models.CooldownResponse
	testutils.Decode(t, w, &cooldown)
	assert.Equal(t, string(models.CategoryDailyBonus), cooldown.Category)
	assert.NotNil(t, cooldown.LastAt)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		"/api/subjects/bob/cooldown?scope=g1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	testutils.Decode(t, w, &cooldown)
	assert.Nil(t, cooldown.LastAt)
}

func TestAdminAdjustments(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	headers := testutils.AuthHeaders(testCtx.AdminJWT)
	path := func(op string) string { return fmt.Sprintf("/api/admin/subjects/alice/balance/%s", op) }

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, path("add"),
		models.BalanceAdjustRequest{Scope: "g1", Coins: 500, Diamonds: 5}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, path("subtract"),
		models.BalanceAdjustRequest{Scope: "g1", Coins: 200}, headers)
	require.Equal(t, http.StatusOK, w.Code)

	resp := balanceOf(t, testCtx, "alice")
	assert.Equal(t, int64(300), resp.Coins)
	assert.Equal(t, int64(5), resp.Diamonds)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, path("set"),
		models.BalanceAdjustRequest{Scope: "g1", Coins: 42, Diamonds: 0}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	resp = balanceOf(t, testCtx, "alice")
	assert.Equal(t, int64(42), resp.Coins)
	assert.Zero(t, resp.Diamonds)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, path("subtract"),
		models.BalanceAdjustRequest{Scope: "g1", Coins: 43}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, path("double"),
		models.BalanceAdjustRequest{Scope: "g1", Coins: 1}, headers)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/economy", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.EconomyStatsResponse
	testutils.Decode(t, w, &stats)
	assert.Equal(t, 1, stats.TotalAccounts)
	assert.Equal(t, int64(42), stats.TotalCoins)
}
