package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/shopspring/decimal"
)

type activityKey struct {
	subject, scope string
}

type dailyKey struct {
	subject, scope string
	date           time.Time
}

// MemoryRepository is an in-process Repository. Transactions are serialized
// by a single mutex and their writes are staged until fn returns nil.
type MemoryRepository struct {
	mu         sync.Mutex
	accounts   map[string]models.Account
	entries    []models.LedgerEntry
	activity   map[activityKey]models.ActivityAggregate
	daily      map[dailyKey]int64
	activityFn func(scope string) error
	now        func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]models.Account),
		activity: make(map[activityKey]models.ActivityAggregate),
		daily:    make(map[dailyKey]int64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailActivityCommits makes flush transactions touching a scope fail with
// the error fn returns. Pass nil to clear.
func (r *MemoryRepository) FailActivityCommits(fn func(scope string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activityFn = fn
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memLedgerTx{repo: r, accounts: make(map[string]models.Account)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, account := range tx.accounts {
		r.accounts[id] = account
	}
	r.entries = append(r.entries, tx.entries...)
	return nil
}

func (r *MemoryRepository) GetAccount(ctx context.Context, subject string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[subject]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) ListEntries(
	ctx context.Context,
	subject, scope string,
	filter models.TransactionFilter,
) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []models.LedgerEntry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.Subject != subject || e.Scope != scope {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return page(matched, limit, filter.Offset), nil
}

func (r *MemoryRepository) Analytics(
	ctx context.Context,
	subject, scope string,
	since time.Time,
) ([]models.AnalyticsRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type groupKey struct {
		typ      models.TransactionType
		category models.TransactionCategory
	}
	groups := make(map[groupKey]*models.AnalyticsRow)

	for _, e := range r.entries {
		if e.Subject != subject || e.Scope != scope || e.CreatedAt.Before(since) {
			continue
		}
		typ := e.Type
		if typ == models.TypeTransfer {
			typ = models.TypeIncome
			if e.Amount < 0 {
				typ = models.TypeExpense
			}
		}
		key := groupKey{typ, e.Category}
		row, ok := groups[key]
		if !ok {
			row = &models.AnalyticsRow{Type: typ, Category: e.Category}
			groups[key] = row
		}
		row.Total += abs(e.Amount)
		row.Count++
	}

	rows := make([]models.AnalyticsRow, 0, len(groups))
	for _, row := range groups {
		row.Average = decimal.NewFromInt(row.Total).Div(decimal.NewFromInt(int64(row.Count)))
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Category < rows[j].Category
	})
	return rows, nil
}

func (r *MemoryRepository) EconomyStats(ctx context.Context) (*models.EconomyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.EconomyStats{TotalAccounts: len(r.accounts)}
	for _, a := range r.accounts {
		stats.TotalCoins += a.Coins
		stats.TotalDiamonds += a.Diamonds
	}
	if stats.TotalAccounts > 0 {
		n := decimal.NewFromInt(int64(stats.TotalAccounts))
		stats.AvgCoins = decimal.NewFromInt(stats.TotalCoins).Div(n)
		stats.AvgDiamonds = decimal.NewFromInt(stats.TotalDiamonds).Div(n)
	}
	return stats, nil
}

func (r *MemoryRepository) LastEntryAt(
	ctx context.Context,
	subject, scope string,
	category models.TransactionCategory,
) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var last time.Time
	found := false
	for _, e := range r.entries {
		if e.Subject == subject && e.Scope == scope && e.Category == category && (!found || e.CreatedAt.After(last)) {
			last, found = e.CreatedAt, true
		}
	}
	return last, found, nil
}

// memLedgerTx stages account writes and new entries
type memLedgerTx struct {
	repo     *MemoryRepository
	accounts map[string]models.Account
	entries  []models.LedgerEntry
}

func (t *memLedgerTx) lookup(subject string) (models.Account, bool) {
	if a, ok := t.accounts[subject]; ok {
		return a, true
	}
	a, ok := t.repo.accounts[subject]
	return a, ok
}

func (t *memLedgerTx) EnsureAccount(ctx context.Context, subject string) error {
	if _, ok := t.lookup(subject); !ok {
		now := t.repo.now()
		t.accounts[subject] = models.Account{ID: subject, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (t *memLedgerTx) LockAccounts(ctx context.Context, subjects ...string) (map[string]*models.Account, error) {
	locked := make(map[string]*models.Account, len(subjects))
	for _, subject := range sortedUnique(subjects) {
		a, ok := t.lookup(subject)
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, subject)
		}
		locked[subject] = &a
	}
	return locked, nil
}

func (t *memLedgerTx) AddBalance(
	ctx context.Context,
	subject string,
	currency models.Currency,
	delta int64,
) (int64, error) {
	a, ok := t.lookup(subject)
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrAccountNotFound, subject)
	}

	var balance *int64
	switch currency {
	case models.CurrencyCoins:
		balance = &a.Coins
	case models.CurrencyDiamonds:
		balance = &a.Diamonds
	default:
		return 0, fmt.Errorf("%w: unknown currency %q", models.ErrValidation, currency)
	}
	if *balance+delta < 0 {
		return 0, models.ErrInsufficientFunds
	}
	*balance += delta
	a.UpdatedAt = t.repo.now()
	t.accounts[subject] = a
	return *balance, nil
}

func (t *memLedgerTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if _, ok := t.lookup(entry.Subject); !ok {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, entry.Subject)
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (r *MemoryRepository) WithActivityTx(ctx context.Context, fn func(tx ActivityTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memActivityTx{
		repo:     r,
		activity: make(map[activityKey]models.ActivityAggregate),
		daily:    make(map[dailyKey]int64),
		scopes:   make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	if r.activityFn != nil {
		for scope := range tx.scopes {
			if err := r.activityFn(scope); err != nil {
				return err
			}
		}
	}

	for k, v := range tx.activity {
		r.activity[k] = v
	}
	for k, v := range tx.daily {
		r.daily[k] = v
	}
	return nil
}

func (r *MemoryRepository) GetActivity(ctx context.Context, subject, scope string) (*models.ActivityAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.activity[activityKey{subject, scope}]
	if !ok {
		return &models.ActivityAggregate{
			Subject:   subject,
			Scope:     scope,
			Level:     InitialLevel,
			XPForNext: InitialThreshold,
		}, nil
	}
	return &agg, nil
}

func (r *MemoryRepository) DailyVoiceSeconds(
	ctx context.Context,
	subject, scope string,
	from, to time.Time,
) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, end := Date(from), Date(to)
	var total int64
	for k, seconds := range r.daily {
		if k.subject == subject && k.scope == scope && !k.date.Before(start) && !k.date.After(end) {
			total += seconds
		}
	}
	return total, nil
}

func (r *MemoryRepository) PruneDaily(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := Date(before)
	var removed int64
	for k := range r.daily {
		if k.date.Before(cutoff) {
			delete(r.daily, k)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryRepository) Leaderboard(
	ctx context.Context,
	scope string,
	kind models.LeaderboardKind,
	limit, offset int,
) (*models.Leaderboard, error) {
	switch kind {
	case models.LeaderboardBalance, models.LeaderboardVoice, models.LeaderboardMessages, models.LeaderboardLevel:
	default:
		return nil, fmt.Errorf("%w: unknown leaderboard %q", models.ErrValidation, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	type ranked struct {
		row models.LeaderboardRow
		xp  int64
	}
	var all []ranked
	for k, agg := range r.activity {
		if k.scope != scope {
			continue
		}
		var value int64
		switch kind {
		case models.LeaderboardBalance:
			account, ok := r.accounts[k.subject]
			if !ok {
				continue
			}
			value = account.Coins
		case models.LeaderboardVoice:
			value = agg.TotalVoice
		case models.LeaderboardMessages:
			value = agg.TotalMessages
		case models.LeaderboardLevel:
			value = int64(agg.Level)
		}
		all = append(all, ranked{models.LeaderboardRow{Subject: k.subject, Value: value}, agg.XP})
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.row.Value != b.row.Value {
			return a.row.Value > b.row.Value
		}
		if kind == models.LeaderboardLevel && a.xp != b.xp {
			return a.xp > b.xp
		}
		return a.row.Subject < b.row.Subject
	})

	rows := make([]models.LeaderboardRow, len(all))
	for i, item := range all {
		rows[i] = item.row
	}
	return &models.Leaderboard{Kind: kind, Rows: page(rows, limit, offset), Total: len(rows)}, nil
}

// memActivityTx stages aggregate and daily writes
type memActivityTx struct {
	repo     *MemoryRepository
	activity map[activityKey]models.ActivityAggregate
	daily    map[dailyKey]int64
	scopes   map[string]struct{}
}

func (t *memActivityTx) aggregate(subject, scope string) (models.ActivityAggregate, bool) {
	k := activityKey{subject, scope}
	if a, ok := t.activity[k]; ok {
		return a, true
	}
	a, ok := t.repo.activity[k]
	return a, ok
}

func (t *memActivityTx) UpsertAggregates(
	ctx context.Context,
	scope string,
	deltas []models.ActivityDelta,
	now time.Time,
) error {
	t.scopes[scope] = struct{}{}
	for _, d := range deltas {
		agg, ok := t.aggregate(d.Subject, scope)
		if !ok {
			agg = models.ActivityAggregate{
				Subject:   d.Subject,
				Scope:     scope,
				Level:     InitialLevel,
				XPForNext: InitialThreshold,
			}
		}
		agg.TotalVoice += d.VoiceSeconds
		agg.TotalMessages += d.Messages
		agg.XP += d.XP
		if agg.XP < 0 {
			agg.XP = 0
		}
		agg.UpdatedAt = now
		t.activity[activityKey{d.Subject, scope}] = agg
	}
	return nil
}

func (t *memActivityTx) UpsertDaily(
	ctx context.Context,
	scope string,
	day time.Time,
	deltas []models.ActivityDelta,
) error {
	t.scopes[scope] = struct{}{}
	date := Date(day)
	for _, d := range deltas {
		if d.VoiceSeconds <= 0 {
			continue
		}
		k := dailyKey{d.Subject, scope, date}
		current, ok := t.daily[k]
		if !ok {
			current = t.repo.daily[k]
		}
		t.daily[k] = current + d.VoiceSeconds
	}
	return nil
}

func (t *memActivityTx) LevelStates(ctx context.Context, scope string, subjects []string) ([]models.LevelState, error) {
	states := []models.LevelState{}
	for _, subject := range sortedUnique(subjects) {
		agg, ok := t.aggregate(subject, scope)
		if !ok {
			continue
		}
		states = append(states, models.LevelState{
			Subject:   subject,
			XP:        agg.XP,
			Level:     agg.Level,
			XPForNext: agg.XPForNext,
		})
	}
	return states, nil
}

func (t *memActivityTx) UpdateLevels(ctx context.Context, scope string, states []models.LevelState) error {
	t.scopes[scope] = struct{}{}
	for _, s := range states {
		agg, ok := t.aggregate(s.Subject, scope)
		if !ok {
			continue
		}
		agg.XP, agg.Level, agg.XPForNext = s.XP, s.Level, s.XPForNext
		agg.UpdatedAt = t.repo.now()
		t.activity[activityKey{s.Subject, scope}] = agg
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
