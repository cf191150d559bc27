package cache

import (
	"sync"
	"time"

	"github.com/rongwang/guild-ledger/internal/metrics"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// Cleaner is a cache that can drop its expired entries
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps registered caches on a fixed interval
type Manager struct {
	caches      []Cleaner
	logger      *utils.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
	started     bool
}

// NewManager creates a new cache manager
func NewManager(logger *utils.Logger) *Manager {
	return &Manager{
		logger:      logger.WithComponent("cache"),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the sweep
func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup begins the periodic sweep
func (m *Manager) StartCleanup(interval time.Duration) {
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCleanup:
			return
		}
	}
}

// Sweep cleans every registered cache once
func (m *Manager) Sweep() int {
	total := 0
	for _, cache := range m.caches {
		total += cache.CleanExpired()
	}
	if total > 0 {
		metrics.CacheEvictions.Add(float64(total))
		m.logger.Debug("swept expired cache entries", "removed", total)
	}
	return total
}

// Stop ends the sweep and waits for it to exit
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		if m.started {
			<-m.cleanupDone
		}
	})
}
