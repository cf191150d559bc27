package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/guild-ledger/internal/activity"
	"github.com/rongwang/guild-ledger/internal/api"
	"github.com/rongwang/guild-ledger/internal/cache"
	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/rongwang/guild-ledger/internal/service"
	"github.com/rongwang/guild-ledger/internal/utils"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.MemoryRepository
	Store      *ephemeral.MemoryStore
	Ledger     *service.Ledger
	Scheduler  *activity.Scheduler
	JWTSecret  []byte
	ServiceJWT string
	AdminJWT   string
}

// SetupTestContext wires the full HTTP surface over in-memory stores
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()
	logger := utils.NopLogger()

	repo := repository.NewMemoryRepository()
	store := ephemeral.NewMemoryStore()
	balances := cache.NewBalanceCache(10*time.Second, time.Second)

	ledger := service.NewLedger(repo, balances, nil, service.LedgerOptions{MaxBalance: 999_999_999}, logger)

	flushOpts := activity.FlushOptions{ParallelScopes: 2, MaxBatchSize: 500}
	scheduler := activity.NewScheduler(
		activity.NewFlushEngine(activity.VoiceSignal{}, store, repo, nil, flushOpts, logger),
		activity.NewFlushEngine(activity.MessageSignal{}, store, repo, nil, flushOpts, logger),
		repo,
		activity.DefaultSchedulerConfig(),
		logger,
	)

	handler := api.NewHandler(api.Services{
		Ledger:   ledger,
		Voice:    activity.NewVoiceIngest(store, logger),
		Messages: activity.NewMessageIngest(store, activity.DefaultIngestOptions(), logger),
		Stats:    activity.NewStats(store, repo),
		Checks: map[string]api.HealthCheck{
			"ephemeral": store.Ping,
		},
	}, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.SetupRoutes(router, []byte(testSecret))

	issuer, err := service.NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	serviceJWT, _, err := issuer.Issue("economy-bot", service.RoleService)
	require.NoError(t, err)
	adminJWT, _, err := issuer.Issue("economy-admin", service.RoleAdmin)
	require.NoError(t, err)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Store:      store,
		Ledger:     ledger,
		Scheduler:  scheduler,
		JWTSecret:  []byte(testSecret),
		ServiceJWT: serviceJWT,
		AdminJWT:   adminJWT,
	}
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// Decode unmarshals a response body into out
func Decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}
