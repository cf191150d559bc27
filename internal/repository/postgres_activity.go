package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/guild-ledger/internal/models"
)

// Level 1 defaults for subjects with no aggregate row yet
const (
	InitialLevel     = 1
	InitialThreshold = 100
)

// WithActivityTx runs fn inside a flush transaction
func (r *PostgresRepository) WithActivityTx(ctx context.Context, fn func(tx ActivityTx) error) error {
	return withRetry(ctx, r.retry, r.logger, func() error {
		return r.inTx(ctx, func(tx *sqlx.Tx) error {
			return fn(&pgActivityTx{tx: tx})
		})
	})
}

func (r *PostgresRepository) GetActivity(ctx context.Context, subject, scope string) (*models.ActivityAggregate, error) {
	query := `SELECT * FROM user_activity WHERE user_id = $1 AND guild_id = $2`

	var agg models.ActivityAggregate
	err := r.db.GetContext(ctx, &agg, query, subject, scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ActivityAggregate{
				Subject:   subject,
				Scope:     scope,
				Level:     InitialLevel,
				XPForNext: InitialThreshold,
			}, nil
		}
		return nil, err
	}
	return &agg, nil
}

func (r *PostgresRepository) DailyVoiceSeconds(
	ctx context.Context,
	subject, scope string,
	from, to time.Time,
) (int64, error) {
	query := `
		SELECT COALESCE(SUM(voice_seconds), 0) FROM user_activity_history
		WHERE user_id = $1 AND guild_id = $2 AND date BETWEEN $3::date AND $4::date
	`

	var seconds int64
	err := r.db.GetContext(ctx, &seconds, query, subject, scope, Date(from), Date(to))
	return seconds, err
}

func (r *PostgresRepository) PruneDaily(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_activity_history WHERE date < $1::date`, Date(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var leaderboardQueries = map[models.LeaderboardKind]struct{ rows, count string }{
	models.LeaderboardBalance: {
		rows: `
			SELECT u.id, u.coins AS value FROM users u
			JOIN user_activity a ON a.user_id = u.id AND a.guild_id = $1
			ORDER BY u.coins DESC, u.id
			LIMIT $2 OFFSET $3`,
		count: `
			SELECT COUNT(*) FROM users u
			JOIN user_activity a ON a.user_id = u.id AND a.guild_id = $1`,
	},
	models.LeaderboardVoice: {
		rows: `
			SELECT user_id AS id, total_voice AS value FROM user_activity
			WHERE guild_id = $1
			ORDER BY total_voice DESC, user_id
			LIMIT $2 OFFSET $3`,
		count: `SELECT COUNT(*) FROM user_activity WHERE guild_id = $1`,
	},
	models.LeaderboardMessages: {
		rows: `
			SELECT user_id AS id, total_messages AS value FROM user_activity
			WHERE guild_id = $1
			ORDER BY total_messages DESC, user_id
			LIMIT $2 OFFSET $3`,
		count: `SELECT COUNT(*) FROM user_activity WHERE guild_id = $1`,
	},
	models.LeaderboardLevel: {
		rows: `
			SELECT user_id AS id, level AS value FROM user_activity
			WHERE guild_id = $1
			ORDER BY level DESC, xp DESC, user_id
			LIMIT $2 OFFSET $3`,
		count: `SELECT COUNT(*) FROM user_activity WHERE guild_id = $1`,
	},
}

func (r *PostgresRepository) Leaderboard(
	ctx context.Context,
	scope string,
	kind models.LeaderboardKind,
	limit, offset int,
) (*models.Leaderboard, error) {
	q, ok := leaderboardQueries[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown leaderboard %q", models.ErrValidation, kind)
	}

	board := &models.Leaderboard{Kind: kind, Rows: []models.LeaderboardRow{}}
	if err := r.db.GetContext(ctx, &board.Total, q.count, scope); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &board.Rows, q.rows, scope, limit, offset); err != nil {
		return nil, err
	}
	return board, nil
}

// pgActivityTx runs flush statements on an open transaction
type pgActivityTx struct {
	tx *sqlx.Tx
}

func (t *pgActivityTx) UpsertAggregates(
	ctx context.Context,
	scope string,
	deltas []models.ActivityDelta,
	now time.Time,
) error {
	if len(deltas) == 0 {
		return nil
	}

	subjects := make([]string, len(deltas))
	voice := make([]int64, len(deltas))
	messages := make([]int64, len(deltas))
	xp := make([]int64, len(deltas))
	for i, d := range deltas {
		subjects[i], voice[i], messages[i], xp[i] = d.Subject, d.VoiceSeconds, d.Messages, d.XP
	}

	query := `
		INSERT INTO user_activity (user_id, guild_id, total_voice, total_messages, xp, updated_at)
		SELECT d.user_id, $1, d.voice, d.messages, GREATEST(d.xp, 0), $6
		FROM unnest($2::text[], $3::bigint[], $4::bigint[], $5::bigint[]) AS d(user_id, voice, messages, xp)
		ON CONFLICT (user_id, guild_id) DO UPDATE SET
			total_voice = user_activity.total_voice + EXCLUDED.total_voice,
			total_messages = user_activity.total_messages + EXCLUDED.total_messages,
			xp = GREATEST(user_activity.xp + EXCLUDED.xp, 0),
			updated_at = EXCLUDED.updated_at
	`

	_, err := t.tx.ExecContext(ctx, query, scope,
		pq.Array(subjects), pq.Array(voice), pq.Array(messages), pq.Array(xp), now)
	return err
}

func (t *pgActivityTx) UpsertDaily(
	ctx context.Context,
	scope string,
	day time.Time,
	deltas []models.ActivityDelta,
) error {
	subjects := make([]string, 0, len(deltas))
	seconds := make([]int64, 0, len(deltas))
	for _, d := range deltas {
		if d.VoiceSeconds <= 0 {
			continue
		}
		subjects = append(subjects, d.Subject)
		seconds = append(seconds, d.VoiceSeconds)
	}
	if len(subjects) == 0 {
		return nil
	}

	query := `
		INSERT INTO user_activity_history (user_id, guild_id, date, voice_seconds)
		SELECT d.user_id, $1, $2::date, d.seconds
		FROM unnest($3::text[], $4::bigint[]) AS d(user_id, seconds)
		ON CONFLICT (user_id, guild_id, date) DO UPDATE SET
			voice_seconds = user_activity_history.voice_seconds + EXCLUDED.voice_seconds
	`

	_, err := t.tx.ExecContext(ctx, query, scope, Date(day), pq.Array(subjects), pq.Array(seconds))
	return err
}

func (t *pgActivityTx) LevelStates(ctx context.Context, scope string, subjects []string) ([]models.LevelState, error) {
	query := `
		SELECT user_id, xp, level, xp_for_next_level FROM user_activity
		WHERE guild_id = $1 AND user_id = ANY($2)
		ORDER BY user_id
		FOR UPDATE
	`

	states := []models.LevelState{}
	if err := t.tx.SelectContext(ctx, &states, query, scope, pq.Array(subjects)); err != nil {
		return nil, err
	}
	return states, nil
}

func (t *pgActivityTx) UpdateLevels(ctx context.Context, scope string, states []models.LevelState) error {
	if len(states) == 0 {
		return nil
	}

	subjects := make([]string, len(states))
	xp := make([]int64, len(states))
	levels := make([]int64, len(states))
	thresholds := make([]int64, len(states))
	for i, s := range states {
		subjects[i], xp[i], levels[i], thresholds[i] = s.Subject, s.XP, int64(s.Level), s.XPForNext
	}

	query := `
		UPDATE user_activity a SET
			xp = d.xp,
			level = d.level,
			xp_for_next_level = d.threshold,
			updated_at = NOW()
		FROM unnest($2::text[], $3::bigint[], $4::int[], $5::bigint[]) AS d(user_id, xp, level, threshold)
		WHERE a.guild_id = $1 AND a.user_id = d.user_id
	`

	_, err := t.tx.ExecContext(ctx, query, scope,
		pq.Array(subjects), pq.Array(xp), pq.Array(levels), pq.Array(thresholds))
	return err
}
