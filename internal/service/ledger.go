package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/guild-ledger/internal/cache"
	"github.com/rongwang/guild-ledger/internal/categorizer"
	"github.com/rongwang/guild-ledger/internal/events"
	"github.com/rongwang/guild-ledger/internal/metrics"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// MaxHistoryLimit caps a single history page
const MaxHistoryLimit = 1000

// Emitter queues domain events for delivery
type Emitter interface {
	Emit(events ...events.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(...events.Event) {}

// LedgerOptions tunes the ledger
type LedgerOptions struct {
	MaxBalance int64
	Topic      string
}

// Ledger owns every balance mutation. Each call runs in one durable
// transaction holding exclusive locks on the accounts it touches.
type Ledger struct {
	repo    repository.LedgerRepository
	cache   *cache.BalanceCache
	emitter Emitter
	opts    LedgerOptions
	logger  *utils.Logger
	now     func() time.Time
}

// NewLedger creates a ledger. A nil emitter disables events.
func NewLedger(
	repo repository.LedgerRepository,
	balances *cache.BalanceCache,
	emitter Emitter,
	opts LedgerOptions,
	logger *utils.Logger,
) *Ledger {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Ledger{
		repo:    repo,
		cache:   balances,
		emitter: emitter,
		opts:    opts,
		logger:  logger.WithComponent("ledger"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// posting is one balance change staged for commit
type posting struct {
	subject      string
	currency     models.Currency
	amount       int64
	setTo        *int64
	typ          models.TransactionType
	category     models.TransactionCategory
	reason       string
	merchant     *string
	counterparty *string
	metadata     map[string]any
}

// AddTransaction applies a signed amount to a subject's balance and records
// the classified entry. Debits beyond the current balance fail with
// ErrInsufficientFunds and change nothing.
func (l *Ledger) AddTransaction(ctx context.Context, subject string, req models.TransactionRequest) (*models.LedgerEntry, error) {
	if req.Currency == "" {
		req.Currency = models.CurrencyCoins
	}
	if err := l.validate(subject, req.Scope, req.Amount, req.Currency); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must not be zero", models.ErrValidation)
	}

	merchant := ""
	if req.Merchant != nil {
		merchant = *req.Merchant
	}
	typ, category := categorizer.Categorize(req.Reason, merchant, req.Counterparty != nil)

	entries, err := l.commit(ctx, "add_transaction", req.Scope, []posting{{
		subject:      subject,
		currency:     req.Currency,
		amount:       req.Amount,
		typ:          entryType(typ, req.Amount),
		category:     category,
		reason:       req.Reason,
		merchant:     req.Merchant,
		counterparty: req.Counterparty,
		metadata:     req.Metadata,
	}})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// CreateTransfer moves coins from sender to recipient as two linked entries
func (l *Ledger) CreateTransfer(
	ctx context.Context,
	sender string,
	req models.TransferRequest,
) (*models.LedgerEntry, *models.LedgerEntry, error) {
	if err := l.validate(sender, req.Scope, req.Amount, models.CurrencyCoins); err != nil {
		return nil, nil, err
	}
	if req.Amount <= 0 {
		return nil, nil, fmt.Errorf("%w: transfer amount must be positive", models.ErrValidation)
	}
	if req.Recipient == "" || req.Recipient == sender {
		return nil, nil, fmt.Errorf("%w: recipient must differ from sender", models.ErrValidation)
	}

	transferID := uuid.New().String()
	meta := map[string]any{"transferId": transferID}
	recipient, from := req.Recipient, sender

	entries, err := l.commit(ctx, "transfer", req.Scope, []posting{
		{
			subject:      sender,
			currency:     models.CurrencyCoins,
			amount:       -req.Amount,
			typ:          models.TypeTransfer,
			category:     models.CategoryP2P,
			reason:       req.Reason,
			counterparty: &recipient,
			metadata:     meta,
		},
		{
			subject:      recipient,
			currency:     models.CurrencyCoins,
			amount:       req.Amount,
			typ:          models.TypeTransfer,
			category:     models.CategoryP2P,
			reason:       req.Reason,
			counterparty: &from,
			metadata:     meta,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return &entries[0], &entries[1], nil
}

// AddBalance credits both currencies as admin awards
func (l *Ledger) AddBalance(ctx context.Context, subject string, req models.BalanceAdjustRequest) ([]models.LedgerEntry, error) {
	return l.adjust(ctx, "add_balance", subject, req, func(v int64) posting {
		return posting{amount: v, typ: models.TypeIncome, category: models.CategoryAdminAward}
	})
}

// SubtractBalance debits both currencies as admin takes. Either debit
// failing leaves both balances untouched.
func (l *Ledger) SubtractBalance(ctx context.Context, subject string, req models.BalanceAdjustRequest) ([]models.LedgerEntry, error) {
	return l.adjust(ctx, "subtract_balance", subject, req, func(v int64) posting {
		return posting{amount: -v, typ: models.TypeExpense, category: models.CategoryAdminTake}
	})
}

// SetBalance moves both balances to the given values, recording the
// difference as an award or a take
func (l *Ledger) SetBalance(ctx context.Context, subject string, req models.BalanceAdjustRequest) ([]models.LedgerEntry, error) {
	if err := l.validate(subject, req.Scope, 0, models.CurrencyCoins); err != nil {
		return nil, err
	}
	if req.Coins < 0 || req.Diamonds < 0 || req.Coins > l.opts.MaxBalance || req.Diamonds > l.opts.MaxBalance {
		return nil, fmt.Errorf("%w: balances must be between 0 and %d", models.ErrValidation, l.opts.MaxBalance)
	}

	coins, diamonds := req.Coins, req.Diamonds
	reason := adminReason(req.Reason, "set balance")
	return l.commit(ctx, "set_balance", req.Scope, []posting{
		{subject: subject, currency: models.CurrencyCoins, setTo: &coins, reason: reason},
		{subject: subject, currency: models.CurrencyDiamonds, setTo: &diamonds, reason: reason},
	})
}

func (l *Ledger) adjust(
	ctx context.Context,
	op, subject string,
	req models.BalanceAdjustRequest,
	build func(v int64) posting,
) ([]models.LedgerEntry, error) {
	if err := l.validate(subject, req.Scope, 0, models.CurrencyCoins); err != nil {
		return nil, err
	}
	if req.Coins < 0 || req.Diamonds < 0 {
		return nil, fmt.Errorf("%w: amounts must not be negative", models.ErrValidation)
	}
	if req.Coins > l.opts.MaxBalance || req.Diamonds > l.opts.MaxBalance {
		return nil, fmt.Errorf("%w: amount exceeds %d", models.ErrValidation, l.opts.MaxBalance)
	}

	var postings []posting
	for _, c := range []struct {
		currency models.Currency
		value    int64
	}{{models.CurrencyCoins, req.Coins}, {models.CurrencyDiamonds, req.Diamonds}} {
		if c.value == 0 {
			continue
		}
		p := build(c.value)
		p.subject, p.currency = subject, c.currency
		p.reason = adminReason(req.Reason, op)
		postings = append(postings, p)
	}
	if len(postings) == 0 {
		return nil, fmt.Errorf("%w: nothing to adjust", models.ErrValidation)
	}
	return l.commit(ctx, op, req.Scope, postings)
}

// commit applies postings atomically and returns the written entries
func (l *Ledger) commit(ctx context.Context, op, scope string, postings []posting) ([]models.LedgerEntry, error) {
	start := time.Now()
	defer func() {
		metrics.LedgerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	subjects := make([]string, 0, len(postings))
	for _, p := range postings {
		subjects = append(subjects, p.subject)
	}

	var (
		entries  []models.LedgerEntry
		balances map[string]*models.Account
	)
	err := l.repo.WithTx(ctx, func(tx repository.LedgerTx) error {
		entries = entries[:0]

		for _, s := range subjects {
			if err := tx.EnsureAccount(ctx, s); err != nil {
				return err
			}
		}
		locked, err := tx.LockAccounts(ctx, subjects...)
		if err != nil {
			return err
		}
		balances = locked

		now := l.now()
		for _, p := range postings {
			account := locked[p.subject]
			current := account.BalanceOf(p.currency)

			delta, typ, category := p.amount, p.typ, p.category
			if p.setTo != nil {
				delta = *p.setTo - current
				if delta == 0 {
					continue
				}
				typ, category = models.TypeIncome, models.CategoryAdminAward
				if delta < 0 {
					typ, category = models.TypeExpense, models.CategoryAdminTake
				}
			}

			if current+delta < 0 {
				return fmt.Errorf("%w: %s has %d %s, needs %d", models.ErrInsufficientFunds, p.subject, current, p.currency, -delta)
			}
			if delta > 0 && current+delta > l.opts.MaxBalance {
				return fmt.Errorf("%w: balance would exceed %d", models.ErrValidation, l.opts.MaxBalance)
			}

			after, err := tx.AddBalance(ctx, p.subject, p.currency, delta)
			if err != nil {
				return err
			}
			setBalance(account, p.currency, after)

			entry, err := newEntry(p, scope, typ, category, delta, after, now)
			if err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		l.observeFailure(op, err)
		return nil, err
	}
	metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeOK).Inc()

	for _, account := range balances {
		l.cache.Refresh(models.Balance{Subject: account.ID, Coins: account.Coins, Diamonds: account.Diamonds})
	}
	l.publish(op, entries)
	return entries, nil
}

func (l *Ledger) observeFailure(op string, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		metrics.LedgerInsufficientFunds.Inc()
		metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeRejected).Inc()
	case errors.Is(err, models.ErrValidation):
		metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeRejected).Inc()
	default:
		metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeError).Inc()
		l.logger.Error("ledger operation failed", "operation", op, "error", err)
	}
}

func (l *Ledger) publish(op string, entries []models.LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	eventType := events.TypeTransactionCommitted
	if op == "transfer" {
		eventType = events.TypeTransferCommitted
	}
	e, err := events.New(l.opts.Topic, eventType, entries[0].Subject, events.TransactionCommitted{Entries: entries})
	if err != nil {
		l.logger.Warn("failed to build event", "operation", op, "error", err)
		return
	}
	l.emitter.Emit(e)
}

// GetTransactions returns a subject's entries in a scope, newest first
func (l *Ledger) GetTransactions(
	ctx context.Context,
	subject, scope string,
	filter models.TransactionFilter,
) ([]models.LedgerEntry, error) {
	if subject == "" || scope == "" {
		return nil, fmt.Errorf("%w: subject and scope are required", models.ErrValidation)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", models.ErrValidation)
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	return l.repo.ListEntries(ctx, subject, scope, filter)
}

// GetAnalytics aggregates a subject's entries over a trailing window
func (l *Ledger) GetAnalytics(
	ctx context.Context,
	subject, scope string,
	period models.AnalyticsPeriod,
) ([]models.AnalyticsRow, error) {
	window, ok := period.Window()
	if !ok {
		return nil, fmt.Errorf("%w: unknown period %q", models.ErrValidation, period)
	}
	return l.repo.Analytics(ctx, subject, scope, l.now().Add(-window))
}

// GetBalance serves a subject's balances through the cache. Unknown
// subjects read as zero without creating an account.
func (l *Ledger) GetBalance(ctx context.Context, subject string) (models.Balance, error) {
	if subject == "" {
		return models.Balance{}, fmt.Errorf("%w: subject is required", models.ErrValidation)
	}
	return l.cache.Get(ctx, subject, func(ctx context.Context, subject string) (models.Balance, error) {
		account, err := l.repo.GetAccount(ctx, subject)
		if errors.Is(err, models.ErrAccountNotFound) {
			return models.Balance{Subject: subject}, nil
		}
		if err != nil {
			return models.Balance{}, err
		}
		return models.Balance{Subject: subject, Coins: account.Coins, Diamonds: account.Diamonds}, nil
	})
}

// GetEconomyStats summarizes every account
func (l *Ledger) GetEconomyStats(ctx context.Context) (*models.EconomyStats, error) {
	return l.repo.EconomyStats(ctx)
}

// LastTransactionAt returns when a subject last received an entry of the
// given category, for cooldown checks
func (l *Ledger) LastTransactionAt(
	ctx context.Context,
	subject, scope string,
	category models.TransactionCategory,
) (time.Time, bool, error) {
	return l.repo.LastEntryAt(ctx, subject, scope, category)
}

func (l *Ledger) validate(subject, scope string, amount int64, currency models.Currency) error {
	if subject == "" || scope == "" {
		return fmt.Errorf("%w: subject and scope are required", models.ErrValidation)
	}
	if !currency.Valid() {
		return fmt.Errorf("%w: unknown currency %q", models.ErrValidation, currency)
	}
	if amount > l.opts.MaxBalance || amount < -l.opts.MaxBalance {
		return fmt.Errorf("%w: amount exceeds %d", models.ErrValidation, l.opts.MaxBalance)
	}
	return nil
}

// entryType keeps a classified transfer and otherwise follows the sign
func entryType(classified models.TransactionType, amount int64) models.TransactionType {
	if classified == models.TypeTransfer {
		return classified
	}
	if amount < 0 {
		return models.TypeExpense
	}
	return models.TypeIncome
}

func newEntry(
	p posting,
	scope string,
	typ models.TransactionType,
	category models.TransactionCategory,
	amount, after int64,
	now time.Time,
) (*models.LedgerEntry, error) {
	meta := make(map[string]any, len(p.metadata)+1)
	for k, v := range p.metadata {
		meta[k] = v
	}
	meta["currency"] = p.currency

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", models.ErrValidation, err)
	}

	return &models.LedgerEntry{
		ID:           uuid.New().String(),
		Subject:      p.subject,
		Scope:        scope,
		Type:         typ,
		Category:     category,
		Amount:       amount,
		BalanceAfter: after,
		Reason:       p.reason,
		Merchant:     p.merchant,
		Counterparty: p.counterparty,
		Metadata:     raw,
		CreatedAt:    now,
	}, nil
}

func setBalance(a *models.Account, c models.Currency, v int64) {
	if c == models.CurrencyDiamonds {
		a.Diamonds = v
		return
	}
	a.Coins = v
}

func adminReason(reason, op string) string {
	if reason != "" {
		return reason
	}
	return op
}
