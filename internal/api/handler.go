package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rongwang/guild-ledger/internal/activity"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/service"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Services bundles what the HTTP surface calls into
type Services struct {
	Ledger   *service.Ledger
	Voice    *activity.VoiceIngest
	Messages *activity.MessageIngest
	Stats    *activity.Stats
	Checks   map[string]HealthCheck
}

// Handler serves the ledger and activity operations over HTTP
type Handler struct {
	ledger   *service.Ledger
	voice    *activity.VoiceIngest
	messages *activity.MessageIngest
	stats    *activity.Stats
	checks   map[string]HealthCheck
	logger   *utils.Logger
}

// NewHandler creates a new API handler
func NewHandler(s Services, logger *utils.Logger) *Handler {
	return &Handler{
		ledger:   s.Ledger,
		voice:    s.Voice,
		messages: s.Messages,
		stats:    s.Stats,
		checks:   s.Checks,
		logger:   logger.WithComponent("api"),
	}
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router *gin.Engine, jwtSecret []byte) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", AuthMiddleware(jwtSecret))

	subjects := api.Group("/subjects/:subject")
	subjects.GET("/balance", h.GetBalance)
	subjects.GET("/transactions", h.GetTransactions)
	subjects.POST("/transactions", h.AddTransaction)
	subjects.POST("/transfers", h.CreateTransfer)
	subjects.GET("/analytics", h.GetAnalytics)
	subjects.GET("/cooldown", h.GetCooldown)
	subjects.GET("/activity", h.GetActivity)
	subjects.GET("/stats", h.GetStats)
	subjects.POST("/voice/join", h.VoiceJoin)
	subjects.POST("/voice/leave", h.VoiceLeave)
	subjects.POST("/messages", h.RecordMessage)

	api.POST("/voice/state", h.VoiceState)
	api.GET("/scopes/:scope/leaderboard", h.GetLeaderboard)
	api.GET("/economy", h.GetEconomyStats)

	admin := api.Group("/admin", RequireAdmin())
	admin.POST("/subjects/:subject/balance/:op", h.AdjustBalance)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	c.JSON(code, resp)
}

// Ledger handlers

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("subject"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.BalanceResponse{Status: "success", Balance: balance})
}

func (h *Handler) GetTransactions(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	filter := models.TransactionFilter{
		Type:     models.TransactionType(c.Query("type")),
		Category: models.TransactionCategory(c.Query("category")),
		Limit:    limit,
		Offset:   offset,
	}
	entries, err := h.ledger.GetTransactions(c.Request.Context(), c.Param("subject"), c.Query("scope"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TransactionsResponse{Status: "success", Entries: entries})
}

func (h *Handler) AddTransaction(c *gin.Context) {
	var req models.TransactionRequest
	if !bind(c, &req) {
		return
	}

	entry, err := h.ledger.AddTransaction(c.Request.Context(), c.Param("subject"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.TransactionResponse{Status: "success", Entry: entry})
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	var req models.TransferRequest
	if !bind(c, &req) {
		return
	}

	sent, received, err := h.ledger.CreateTransfer(c.Request.Context(), c.Param("subject"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.TransferResponse{
		Status:         "success",
		SenderEntry:    sent,
		RecipientEntry: received,
	})
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	period := models.AnalyticsPeriod(c.DefaultQuery("period", string(models.PeriodMonth)))
	rows, err := h.ledger.GetAnalytics(c.Request.Context(), c.Param("subject"), c.Query("scope"), period)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AnalyticsResponse{Status: "success", Period: period, Rows: rows})
}

func (h *Handler) GetCooldown(c *gin.Context) {
	category := c.DefaultQuery("category", string(models.CategoryDailyBonus))
	at, ok, err := h.ledger.LastTransactionAt(
		c.Request.Context(), c.Param("subject"), c.Query("scope"), models.TransactionCategory(category))
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := models.CooldownResponse{Status: "success", Category: category}
	if ok {
		s := at.UTC().Format(time.RFC3339)
		resp.LastAt = &s
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetEconomyStats(c *gin.Context) {
	stats, err := h.ledger.GetEconomyStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.EconomyStatsResponse{Status: "success", EconomyStats: stats})
}

func (h *Handler) AdjustBalance(c *gin.Context) {
	var req models.BalanceAdjustRequest
	if !bind(c, &req) {
		return
	}

	ctx, subject := c.Request.Context(), c.Param("subject")
	var (
		entries []models.LedgerEntry
		err     error
	)
	switch c.Param("op") {
	case "add":
		entries, err = h.ledger.AddBalance(ctx, subject, req)
	case "subtract":
		entries, err = h.ledger.SubtractBalance(ctx, subject, req)
	case "set":
		entries, err = h.ledger.SetBalance(ctx, subject, req)
	default:
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Status:  "error",
			Code:    "NOT_FOUND",
			Message: "Unknown balance operation",
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("balance adjusted",
		"caller", c.GetString(callerKey), "subject", subject, "op", c.Param("op"), "entries", len(entries))
	c.JSON(http.StatusOK, models.TransactionsResponse{Status: "success", Entries: entries})
}

// Activity handlers

func (h *Handler) VoiceJoin(c *gin.Context) {
	var req models.VoiceEventRequest
	if !bind(c, &req) {
		return
	}
	outcome, _ := h.voice.RecordVoiceJoin(c.Request.Context(), c.Param("subject"), req.Scope, req.Eligible && !req.Bot)
	accepted(c, outcome)
}

func (h *Handler) VoiceLeave(c *gin.Context) {
	var req models.VoiceEventRequest
	if !bind(c, &req) {
		return
	}
	outcome, _ := h.voice.RecordVoiceLeave(c.Request.Context(), c.Param("subject"), req.Scope, !req.Bot)
	accepted(c, outcome)
}

func (h *Handler) VoiceState(c *gin.Context) {
	var req models.VoiceStateRequest
	if !bind(c, &req) {
		return
	}
	outcome, _ := h.voice.RecordVoiceState(c.Request.Context(), req.Old, req.New)
	accepted(c, outcome)
}

func (h *Handler) RecordMessage(c *gin.Context) {
	var req models.MessageEventRequest
	if !bind(c, &req) {
		return
	}
	outcome, _ := h.messages.RecordMessage(c.Request.Context(), c.Param("subject"), req.Scope, req.ContentLength, req.Bot)
	accepted(c, outcome)
}

func (h *Handler) GetStats(c *gin.Context) {
	days, err := intQuery(c, "days", 1)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.stats.GetStatsForPeriod(c.Request.Context(), c.Param("subject"), c.Query("scope"), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatsResponse{Status: "success", Stats: stats})
}

func (h *Handler) GetActivity(c *gin.Context) {
	agg, err := h.stats.GetActivity(c.Request.Context(), c.Param("subject"), c.Query("scope"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ActivityResponse{Status: "success", Activity: agg})
}

func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	kind := models.LeaderboardKind(c.DefaultQuery("by", string(models.LeaderboardBalance)))
	board, err := h.stats.Leaderboard(c.Request.Context(), c.Param("scope"), kind, limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.LeaderboardResponse{Status: "success", Leaderboard: board})
}

// Helpers

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return false
	}
	return true
}

func accepted(c *gin.Context, outcome activity.Outcome) {
	c.JSON(http.StatusAccepted, models.IngestResponse{Status: "accepted", Outcome: string(outcome)})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrValidation, name)
	}
	return v, nil
}

// fail maps a service error onto a status code
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	message := "Internal server error"

	switch {
	case errors.Is(err, models.ErrValidation):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, models.ErrInsufficientFunds):
		status, code, message = http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error()
	case errors.Is(err, models.ErrAccountNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, models.ErrSerializationConflict):
		status, code, message = http.StatusConflict, "CONFLICT", "Concurrent update, retry the request"
	case errors.Is(err, models.ErrDurableUnavailable):
		status, code, message = http.StatusServiceUnavailable, "UNAVAILABLE", "Storage unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, models.ErrorResponse{Status: "error", Code: code, Message: message})
}
