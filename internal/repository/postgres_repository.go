package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/utils"
)

const codeCheckViolation = "23514"

const entryColumns = `id, user_id, guild_id, type, category, amount, balance_after, reason,
	merchant, related_user_id, metadata::text AS metadata, created_at`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db     *sqlx.DB
	retry  RetryPolicy
	logger *utils.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB, retry RetryPolicy, logger *utils.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		retry:  retry,
		logger: logger.WithComponent("repository"),
	}
}

// WithTx runs fn inside a transaction, replaying it on serialization
// failures and deadlocks.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return withRetry(ctx, r.retry, r.logger, func() error {
		return r.inTx(ctx, func(tx *sqlx.Tx) error {
			return fn(&pgLedgerTx{tx: tx})
		})
	})
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", models.ErrDurableUnavailable, err)
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) GetAccount(ctx context.Context, subject string) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM users WHERE id = $1`, subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *PostgresRepository) ListEntries(
	ctx context.Context,
	subject, scope string,
	filter models.TransactionFilter,
) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM transactions WHERE user_id = $1 AND guild_id = $2`
	args := []interface{}{subject, scope}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += ` AND category = $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	entries := []models.LedgerEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *PostgresRepository) Analytics(
	ctx context.Context,
	subject, scope string,
	since time.Time,
) ([]models.AnalyticsRow, error) {
	// Transfers are folded into income or expense by the sign of the amount.
	query := `
		SELECT
			CASE
				WHEN type = 'transfer' AND amount >= 0 THEN 'income'
				WHEN type = 'transfer' THEN 'expense'
				ELSE type
			END AS type,
			category,
			SUM(ABS(amount)) AS total,
			COUNT(*) AS count,
			AVG(ABS(amount)) AS average
		FROM transactions
		WHERE user_id = $1 AND guild_id = $2 AND created_at >= $3
		GROUP BY 1, category
		ORDER BY total DESC, type, category
	`

	rows := []models.AnalyticsRow{}
	if err := r.db.SelectContext(ctx, &rows, query, subject, scope, since); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PostgresRepository) EconomyStats(ctx context.Context) (*models.EconomyStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_accounts,
			COALESCE(SUM(coins), 0) AS total_coins,
			COALESCE(SUM(diamonds), 0) AS total_diamonds,
			COALESCE(AVG(coins), 0) AS avg_coins,
			COALESCE(AVG(diamonds), 0) AS avg_diamonds
		FROM users
	`

	var stats models.EconomyStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *PostgresRepository) LastEntryAt(
	ctx context.Context,
	subject, scope string,
	category models.TransactionCategory,
) (time.Time, bool, error) {
	query := `
		SELECT created_at FROM transactions
		WHERE user_id = $1 AND guild_id = $2 AND category = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var at time.Time
	err := r.db.GetContext(ctx, &at, query, subject, scope, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at, true, nil
}

// pgLedgerTx runs ledger statements on an open transaction
type pgLedgerTx struct {
	tx *sqlx.Tx
}

func (t *pgLedgerTx) EnsureAccount(ctx context.Context, subject string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, subject)
	return err
}

func (t *pgLedgerTx) LockAccounts(ctx context.Context, subjects ...string) (map[string]*models.Account, error) {
	locked := make(map[string]*models.Account, len(subjects))

	// One statement per row keeps the lock acquisition order explicit.
	for _, subject := range sortedUnique(subjects) {
		var account models.Account
		err := t.tx.GetContext(ctx, &account, `SELECT * FROM users WHERE id = $1 FOR UPDATE`, subject)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, subject)
			}
			return nil, err
		}
		locked[subject] = &account
	}
	return locked, nil
}

func (t *pgLedgerTx) AddBalance(
	ctx context.Context,
	subject string,
	currency models.Currency,
	delta int64,
) (int64, error) {
	var query string
	switch currency {
	case models.CurrencyCoins:
		query = `UPDATE users SET coins = coins + $2, updated_at = NOW() WHERE id = $1 RETURNING coins`
	case models.CurrencyDiamonds:
		query = `UPDATE users SET diamonds = diamonds + $2, updated_at = NOW() WHERE id = $1 RETURNING diamonds`
	default:
		return 0, fmt.Errorf("%w: unknown currency %q", models.ErrValidation, currency)
	}

	var balance int64
	err := t.tx.QueryRowxContext(ctx, query, subject, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", models.ErrAccountNotFound, subject)
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeCheckViolation {
			return 0, models.ErrInsufficientFunds
		}
		return 0, err
	}
	return balance, nil
}

func (t *pgLedgerTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO transactions (
			id, user_id, guild_id, type, category, amount, balance_after,
			reason, merchant, related_user_id, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12)
	`

	metadata := string(entry.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	_, err := t.tx.ExecContext(ctx, query,
		entry.ID, entry.Subject, entry.Scope, entry.Type, entry.Category, entry.Amount,
		entry.BalanceAfter, entry.Reason, entry.Merchant, entry.Counterparty, metadata, entry.CreatedAt)
	return err
}
