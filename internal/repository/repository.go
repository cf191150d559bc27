package repository

import (
	"context"
	"time"

	"github.com/rongwang/guild-ledger/internal/models"
)

// DefaultListLimit caps history queries that do not set a limit
const DefaultListLimit = 1000

// Repository is the durable store used by the ledger and the flush engines
type Repository interface {
	LedgerRepository
	ActivityRepository
}

// LedgerRepository defines account and ledger entry persistence
type LedgerRepository interface {
	// WithTx runs fn in one transaction. fn may run more than once when the
	// transaction hits a serialization failure or deadlock.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetAccount(ctx context.Context, subject string) (*models.Account, error)
	ListEntries(ctx context.Context, subject, scope string, filter models.TransactionFilter) ([]models.LedgerEntry, error)
	Analytics(ctx context.Context, subject, scope string, since time.Time) ([]models.AnalyticsRow, error)
	EconomyStats(ctx context.Context) (*models.EconomyStats, error)
	LastEntryAt(ctx context.Context, subject, scope string, category models.TransactionCategory) (time.Time, bool, error)
}

// LedgerTx is the set of operations available inside a ledger transaction
type LedgerTx interface {
	// EnsureAccount creates a zero-balance account when absent
	EnsureAccount(ctx context.Context, subject string) error
	// LockAccounts takes exclusive row locks in ascending subject order
	LockAccounts(ctx context.Context, subjects ...string) (map[string]*models.Account, error)
	// AddBalance applies delta to one currency and returns the new balance
	AddBalance(ctx context.Context, subject string, currency models.Currency, delta int64) (int64, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
}

// ActivityRepository defines cumulative and daily activity persistence
type ActivityRepository interface {
	WithActivityTx(ctx context.Context, fn func(tx ActivityTx) error) error

	GetActivity(ctx context.Context, subject, scope string) (*models.ActivityAggregate, error)
	// DailyVoiceSeconds sums daily records with from <= date <= to
	DailyVoiceSeconds(ctx context.Context, subject, scope string, from, to time.Time) (int64, error)
	PruneDaily(ctx context.Context, before time.Time) (int64, error)
	Leaderboard(ctx context.Context, scope string, kind models.LeaderboardKind, limit, offset int) (*models.Leaderboard, error)
}

// ActivityTx is the set of operations available inside a flush transaction
type ActivityTx interface {
	// UpsertAggregates adds counters to cumulative rows; xp is floored at zero
	UpsertAggregates(ctx context.Context, scope string, deltas []models.ActivityDelta, now time.Time) error
	UpsertDaily(ctx context.Context, scope string, day time.Time, deltas []models.ActivityDelta) error
	LevelStates(ctx context.Context, scope string, subjects []string) ([]models.LevelState, error)
	UpdateLevels(ctx context.Context, scope string, states []models.LevelState) error
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)

// Date truncates t to its UTC calendar day
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sortedUnique(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sortStrings(out)
	return out
}
