package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rongwang/guild-ledger/internal/repository"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// SchedulerConfig holds the flush and cleanup cadence
type SchedulerConfig struct {
	VoiceInterval   time.Duration
	MessageInterval time.Duration
	CleanupInterval time.Duration
	RetentionDays   int
}

// DefaultSchedulerConfig returns the production cadence
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		VoiceInterval:   30 * time.Second,
		MessageInterval: 60 * time.Second,
		CleanupInterval: 24 * time.Hour,
		RetentionDays:   30,
	}
}

// Scheduler runs the periodic flushes and daily-record cleanup
type Scheduler struct {
	voice    *FlushEngine
	messages *FlushEngine
	repo     repository.ActivityRepository
	config   SchedulerConfig
	logger   *utils.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler over the voice and message engines
func NewScheduler(
	voice, messages *FlushEngine,
	repo repository.ActivityRepository,
	config SchedulerConfig,
	logger *utils.Logger,
) *Scheduler {
	return &Scheduler{
		voice:    voice,
		messages: messages,
		repo:     repo,
		config:   config,
		logger:   logger.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// Start begins the flush loops. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx, s.stopCh)

	s.logger.Info("scheduler started",
		"voice_interval", s.config.VoiceInterval,
		"message_interval", s.config.MessageInterval,
		"retention_days", s.config.RetentionDays)
	return nil
}

// Stop ends the loops and runs one last flush of both signals so pending
// counters reach the durable store before shutdown.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
		return ctx.Err()
	}

	err := s.FlushAll(ctx)
	if err != nil {
		s.logger.Error("final flush failed", "error", err)
	} else {
		s.logger.Info("scheduler stopped gracefully")
	}
	return err
}

// IsRunning returns whether the loops are running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FlushAll runs one cycle of each engine
func (s *Scheduler) FlushAll(ctx context.Context) error {
	var errs []error
	for _, engine := range []*FlushEngine{s.voice, s.messages} {
		result, err := engine.RunCycle(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if result.Failed > 0 {
			errs = append(errs, fmt.Errorf("%s flush: %d of %d scopes failed",
				engine.Signal().Name(), result.Failed, result.Scopes))
		}
	}
	return errors.Join(errs...)
}

// PruneOnce deletes daily records older than the retention window
func (s *Scheduler) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := repository.Date(s.now()).AddDate(0, 0, -s.config.RetentionDays)
	removed, err := s.repo.PruneDaily(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune daily activity: %w", err)
	}
	if removed > 0 {
		s.logger.Info("pruned daily activity", "removed", removed, "before", cutoff.Format(time.DateOnly))
	}
	return removed, nil
}

// runLoop gives each signal and the cleanup its own ticker so a slow cycle
// of one never delays another. Cleanup runs once at startup.
func (s *Scheduler) runLoop(ctx context.Context, stop <-chan struct{}) {
	defer close(s.doneCh)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.every(ctx, stop, s.config.VoiceInterval, func(ctx context.Context) { s.runCycle(ctx, s.voice) })
	}()
	go func() {
		defer wg.Done()
		s.every(ctx, stop, s.config.MessageInterval, func(ctx context.Context) { s.runCycle(ctx, s.messages) })
	}()
	go func() {
		defer wg.Done()
		s.cleanup(ctx)
		s.every(ctx, stop, s.config.CleanupInterval, s.cleanup)
	}()
	wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, stop <-chan struct{}, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	if _, err := s.PruneOnce(ctx); err != nil {
		s.logger.Error("cleanup failed", "error", err)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, engine *FlushEngine) {
	if _, err := engine.RunCycle(ctx); err != nil {
		s.logger.Error("flush cycle failed", "signal", engine.Signal().Name(), "error", err)
	}
}
