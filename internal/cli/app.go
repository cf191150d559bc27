package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rongwang/guild-ledger/internal/activity"
	"github.com/rongwang/guild-ledger/internal/config"
	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// app holds the stores shared by every command
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	db     *sqlx.DB
	redis  *redis.Client
	repo   *repository.PostgresRepository
	store  ephemeral.Store
}

func newApp(cfg *config.Config, logger *utils.Logger) (*app, error) {
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		repo: repository.NewPostgresRepository(db, repository.RetryPolicy{
			Attempts:    cfg.Ledger.RetryAttempts,
			BaseBackoff: cfg.Ledger.RetryBaseBackoff,
			MaxBackoff:  time.Second,
		}, logger),
	}

	client, err := config.SetupRedis(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if client == nil {
		logger.Warn("REDIS_ADDR not set, using in-process ephemeral store")
		a.store = ephemeral.NewMemoryStore()
	} else {
		a.redis = client
		a.store = ephemeral.NewRedisStore(client)
	}
	return a, nil
}

// flushEngines builds the voice and message engines over the app stores
func (a *app) flushEngines(emitter activity.Emitter) (*activity.FlushEngine, *activity.FlushEngine) {
	opts := activity.FlushOptions{
		ParallelScopes: a.cfg.Activity.ParallelScopes,
		MaxBatchSize:   a.cfg.Activity.MaxBatchSize,
		Topic:          a.cfg.Events.ActivityTopic,
	}
	voice := activity.NewFlushEngine(activity.VoiceSignal{}, a.store, a.repo, emitter, opts, a.logger)
	messages := activity.NewFlushEngine(activity.MessageSignal{}, a.store, a.repo, emitter, opts, a.logger)
	return voice, messages
}

func (a *app) scheduler(emitter activity.Emitter) *activity.Scheduler {
	voice, messages := a.flushEngines(emitter)
	return activity.NewScheduler(voice, messages, a.repo, activity.SchedulerConfig{
		VoiceInterval:   a.cfg.Activity.VoiceFlushInterval,
		MessageInterval: a.cfg.Activity.MessageFlushInterval,
		CleanupInterval: a.cfg.Activity.CleanupInterval,
		RetentionDays:   a.cfg.Activity.RetentionDays,
	}, a.logger)
}

func (a *app) pingDB(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = time.Minute
	}
	return context.WithTimeout(context.Background(), d)
}

func describe(r activity.CycleResult) string {
	return fmt.Sprintf("%d scopes, %d failed, %d subjects, %d level-ups", r.Scopes, r.Failed, r.Subjects, r.LevelUps)
}
