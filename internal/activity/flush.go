package activity

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/events"
	"github.com/rongwang/guild-ledger/internal/metrics"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/rongwang/guild-ledger/internal/utils"
	"golang.org/x/sync/errgroup"
)

const reinjectTimeout = 5 * time.Second

// Emitter queues domain events for delivery
type Emitter interface {
	Emit(events ...events.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(...events.Event) {}

// FlushOptions bounds a flush cycle
type FlushOptions struct {
	ParallelScopes int
	MaxBatchSize   int
	Topic          string
}

// CycleResult summarizes one flush cycle
type CycleResult struct {
	Scopes   int
	Failed   int
	Subjects int
	LevelUps int
}

// FlushEngine moves pending counters of one signal into the durable store.
// Each scope is drained and committed independently; a scope whose commit
// fails has its drained counters added back for the next cycle.
type FlushEngine struct {
	signal  Signal
	store   ephemeral.Store
	repo    repository.ActivityRepository
	emitter Emitter
	opts    FlushOptions
	logger  *utils.Logger
	now     func() time.Time
}

// NewFlushEngine creates a flush engine. A nil emitter disables level-up events.
func NewFlushEngine(
	signal Signal,
	store ephemeral.Store,
	repo repository.ActivityRepository,
	emitter Emitter,
	opts FlushOptions,
	logger *utils.Logger,
) *FlushEngine {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if opts.ParallelScopes <= 0 {
		opts.ParallelScopes = 1
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 500
	}
	return &FlushEngine{
		signal:  signal,
		store:   store,
		repo:    repo,
		emitter: emitter,
		opts:    opts,
		logger:  logger.WithComponent("flush." + signal.Name()),
		now:     time.Now,
	}
}

// Signal returns the signal this engine flushes
func (f *FlushEngine) Signal() Signal {
	return f.signal
}

// RunCycle flushes every scope that has pending counters. Per-scope failures
// are counted in the result; only failing to enumerate scopes is an error.
func (f *FlushEngine) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	name := f.signal.Name()
	defer func() {
		metrics.FlushDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	keys, err := f.store.KeysWithPrefix(ctx, f.signal.KeyPrefix())
	if err != nil {
		return CycleResult{}, fmt.Errorf("list pending %s scopes: %w", name, err)
	}

	var failed, subjects, levelUps atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.ParallelScopes)

	for _, key := range keys {
		scope := strings.TrimPrefix(key, f.signal.KeyPrefix())
		if scope == "" {
			continue
		}
		g.Go(func() error {
			n, ups, err := f.flushScope(gctx, scope)
			if err != nil {
				failed.Add(1)
				metrics.FlushScopes.WithLabelValues(name, metrics.OutcomeError).Inc()
				f.logger.Error("scope flush failed", "scope", scope, "error", err)
				return nil
			}
			subjects.Add(int64(n))
			levelUps.Add(int64(ups))
			metrics.FlushScopes.WithLabelValues(name, metrics.OutcomeOK).Inc()
			return nil
		})
	}
	_ = g.Wait()

	result := CycleResult{
		Scopes:   len(keys),
		Failed:   int(failed.Load()),
		Subjects: int(subjects.Load()),
		LevelUps: int(levelUps.Load()),
	}
	metrics.FlushCycles.WithLabelValues(name).Inc()
	if result.Scopes > 0 {
		f.logger.Debug("flush cycle complete",
			"scopes", result.Scopes,
			"failed", result.Failed,
			"subjects", result.Subjects,
			"level_ups", result.LevelUps,
			"duration", time.Since(start),
		)
	}
	return result, nil
}

// flushScope drains one scope and commits it in a single transaction
func (f *FlushEngine) flushScope(ctx context.Context, scope string) (int, int, error) {
	key := f.signal.KeyPrefix() + scope
	raw, err := f.store.HDrain(ctx, key)
	if err != nil {
		return 0, 0, err
	}

	deltas := f.signal.Partition(raw)
	if len(deltas) == 0 {
		return 0, 0, nil
	}

	var ups []events.LevelUp
	err = f.repo.WithActivityTx(ctx, func(tx repository.ActivityTx) error {
		ups = ups[:0]
		now := f.now().UTC()

		for start := 0; start < len(deltas); start += f.opts.MaxBatchSize {
			end := min(start+f.opts.MaxBatchSize, len(deltas))
			chunk := deltas[start:end]

			if err := tx.UpsertAggregates(ctx, scope, chunk, now); err != nil {
				return fmt.Errorf("upsert aggregates: %w", err)
			}
			if f.signal.Daily() {
				if err := tx.UpsertDaily(ctx, scope, repository.Date(now), chunk); err != nil {
					return fmt.Errorf("upsert daily: %w", err)
				}
			}
		}

		subjects := make([]string, len(deltas))
		for i, d := range deltas {
			subjects[i] = d.Subject
		}
		states, err := tx.LevelStates(ctx, scope, subjects)
		if err != nil {
			return fmt.Errorf("load level states: %w", err)
		}

		changed := make([]models.LevelState, 0)
		for _, s := range states {
			next, leveled := ApplyLevels(s)
			if next == s {
				continue
			}
			changed = append(changed, next)
			if leveled {
				ups = append(ups, events.LevelUp{
					Subject:  s.Subject,
					Scope:    scope,
					OldLevel: s.Level,
					NewLevel: next.Level,
					XP:       next.XP,
				})
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := tx.UpdateLevels(ctx, scope, changed); err != nil {
			return fmt.Errorf("update levels: %w", err)
		}
		return nil
	})
	if err != nil {
		f.reinject(key, deltas)
		return 0, 0, err
	}

	f.announce(ups)
	return len(deltas), len(ups), nil
}

// reinject adds drained counters back. It runs detached from the cycle
// context so a cancelled cycle still returns what it took.
func (f *FlushEngine) reinject(key string, deltas []models.ActivityDelta) {
	ctx, cancel := context.WithTimeout(context.Background(), reinjectTimeout)
	defer cancel()

	metrics.FlushReinjections.WithLabelValues(f.signal.Name()).Inc()
	if err := f.store.HIncrByMany(ctx, key, f.signal.Encode(deltas)); err != nil {
		f.logger.Error("lost drained counters", "key", key, "subjects", len(deltas), "error", err)
	}
}

func (f *FlushEngine) announce(ups []events.LevelUp) {
	if len(ups) == 0 {
		return
	}
	metrics.LevelUps.Add(float64(len(ups)))

	batch := make([]events.Event, 0, len(ups))
	for _, up := range ups {
		evt, err := events.New(f.opts.Topic, events.TypeLevelUp, up.Subject, up)
		if err != nil {
			f.logger.Warn("encode level-up event", "subject", up.Subject, "error", err)
			continue
		}
		batch = append(batch, evt)
	}
	f.emitter.Emit(batch...)
}
