package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rongwang/guild-ledger/internal/config"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPostgres connects to TEST_DATABASE_URL and resets every table
func setupPostgres(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, config.RunMigrations(dsn))

	for _, table := range []string{"transactions", "user_activity_history", "user_activity", "users"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })

	return NewPostgresRepository(db, DefaultRetryPolicy(), utils.NopLogger())
}

func TestPostgresLedger(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	credit := func(subject string, amount int64) error {
		return repo.WithTx(ctx, func(tx LedgerTx) error {
			if err := tx.EnsureAccount(ctx, subject); err != nil {
				return err
			}
			if _, err := tx.LockAccounts(ctx, subject); err != nil {
				return err
			}
			balance, err := tx.AddBalance(ctx, subject, models.CurrencyCoins, amount)
			if err != nil {
				return err
			}
			return tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New().String(),
				Subject:      subject,
				Scope:        "g1",
				Type:         models.TypeIncome,
				Category:     models.CategoryWork,
				Amount:       amount,
				BalanceAfter: balance,
				Metadata:     []byte(`{"currency":"coins"}`),
				CreatedAt:    time.Now().UTC(),
			})
		})
	}

	require.NoError(t, credit("alice", 100))

	t.Run("CheckConstraintMapsToInsufficientFunds", func(t *testing.T) {
		err := credit("alice", -500)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		account, err := repo.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Coins)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- credit("alice", -30)
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, models.ErrInsufficientFunds)
			}
		}
		assert.Equal(t, 3, succeeded)

		account, err := repo.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(10), account.Coins)
	})

	t.Run("EntriesRoundTripMetadata", func(t *testing.T) {
		entries, err := repo.ListEntries(ctx, "alice", "g1", models.TransactionFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, entries)

		var sum int64
		for _, e := range entries {
			sum += e.Amount
			assert.Equal(t, models.CurrencyCoins, e.Currency())
		}
		assert.Equal(t, int64(10), sum)
	})

	t.Run("EconomyStats", func(t *testing.T) {
		stats, err := repo.EconomyStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalAccounts)
		assert.Equal(t, int64(10), stats.TotalCoins)
	})
}

func TestPostgresActivity(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deltas := []models.ActivityDelta{
		{Subject: "alice", VoiceSeconds: 300, XP: 25},
		{Subject: "bob", Messages: 3, XP: 6},
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.WithActivityTx(ctx, func(tx ActivityTx) error {
			if err := tx.UpsertAggregates(ctx, "g1", deltas, now); err != nil {
				return err
			}
			return tx.UpsertDaily(ctx, "g1", now, deltas)
		}))
	}

	agg, err := repo.GetActivity(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), agg.TotalVoice)
	assert.Equal(t, int64(50), agg.XP)
	assert.Equal(t, 1, agg.Level)

	seconds, err := repo.DailyVoiceSeconds(ctx, "alice", "g1", now, now)
	require.NoError(t, err)
	assert.Equal(t, int64(600), seconds)

	require.NoError(t, repo.WithActivityTx(ctx, func(tx ActivityTx) error {
		states, err := tx.LevelStates(ctx, "g1", []string{"alice", "bob"})
		require.NoError(t, err)
		assert.Len(t, states, 2)
		return tx.UpdateLevels(ctx, "g1", []models.LevelState{{Subject: "bob", XP: 1, Level: 2, XPForNext: 150}})
	}))

	board, err := repo.Leaderboard(ctx, "g1", models.LeaderboardLevel, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, board.Total)
	assert.Equal(t, "bob", board.Rows[0].Subject)

	removed, err := repo.PruneDaily(ctx, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
