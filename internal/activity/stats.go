package activity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/repository"
)

// MaxStatsDays bounds a stats window
const MaxStatsDays = 365

// Stats answers read queries over durable and pending activity
type Stats struct {
	store ephemeral.Store
	repo  repository.ActivityRepository
	now   func() time.Time
}

// NewStats creates a stats reader
func NewStats(store ephemeral.Store, repo repository.ActivityRepository) *Stats {
	return &Stats{store: store, repo: repo, now: time.Now}
}

// GetTodayStats is GetStatsForPeriod with a one day window
func (s *Stats) GetTodayStats(ctx context.Context, subject, scope string) (*models.ActivityStats, error) {
	return s.GetStatsForPeriod(ctx, subject, scope, 1)
}

// GetStatsForPeriod sums voice seconds for today and the days-1 days before
// it (UTC). Seconds still waiting for a flush and the elapsed part of an
// open session are included, so the figure never lags behind presence.
func (s *Stats) GetStatsForPeriod(ctx context.Context, subject, scope string, days int) (*models.ActivityStats, error) {
	if subject == "" || scope == "" {
		return nil, fmt.Errorf("%w: subject and scope are required", models.ErrValidation)
	}
	if days < 1 || days > MaxStatsDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", models.ErrValidation, MaxStatsDays)
	}

	now := s.now()
	today := repository.Date(now)
	durable, err := s.repo.DailyVoiceSeconds(ctx, subject, scope, today.AddDate(0, 0, -(days-1)), today)
	if err != nil {
		return nil, err
	}

	stats := &models.ActivityStats{
		Subject: subject,
		Scope:   scope,
		Days:    days,
		Durable: durable,
	}

	// Pending and live time degrade to zero when the ephemeral store is down.
	if pending, ok, err := s.store.HGet(ctx, voiceCompletedKey(scope), subject); err == nil && ok && pending > 0 {
		stats.Pending = pending
	}
	if raw, ok, err := s.store.Get(ctx, voiceActiveKey(subject, scope)); err == nil && ok {
		if startMs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if live := (now.UnixMilli() - startMs) / 1000; live > 0 {
				stats.Live = live
			}
		}
	}

	stats.VoiceSeconds = stats.Durable + stats.Pending + stats.Live
	return stats, nil
}

// GetActivity returns the cumulative aggregate of a subject
func (s *Stats) GetActivity(ctx context.Context, subject, scope string) (*models.ActivityAggregate, error) {
	if subject == "" || scope == "" {
		return nil, fmt.Errorf("%w: subject and scope are required", models.ErrValidation)
	}
	return s.repo.GetActivity(ctx, subject, scope)
}

// Leaderboard returns one page of a ranking within scope
func (s *Stats) Leaderboard(
	ctx context.Context,
	scope string,
	kind models.LeaderboardKind,
	limit, offset int,
) (*models.Leaderboard, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope is required", models.ErrValidation)
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Leaderboard(ctx, scope, kind, limit, offset)
}
