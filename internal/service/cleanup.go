package service

import (
	"log"
	"sync"
	"time"
)

// CleanupConfig holds configuration for the share-token cleanup scheduler.
type CleanupConfig struct {
	// CleanupInterval is how often expired share tokens are purged.
	// Default: 1 hour
	CleanupInterval time.Duration
}

// CleanupScheduler runs periodic purges of expired share tokens. Resolve
// already rejects expired tokens on read; the scheduler keeps the token
// store from accumulating dead records.
type CleanupScheduler struct {
	share     *ShareService
	config    CleanupConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewCleanupScheduler creates a new cleanup scheduler.
func NewCleanupScheduler(share *ShareService, config CleanupConfig) *CleanupScheduler {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 1 * time.Hour
	}

	return &CleanupScheduler{
		share:  share,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the cleanup scheduler.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.CleanupInterval)
	s.mu.Unlock()

	log.Printf("[CleanupScheduler] Started - Interval: %v", s.config.CleanupInterval)

	go s.run()
}

// run is the main cleanup loop.
func (s *CleanupScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runCleanup()
		case <-s.stopCh:
			log.Printf("[CleanupScheduler] Stopped")
			return
		}
	}
}

// runCleanup performs the actual purge.
func (s *CleanupScheduler) runCleanup() {
	purged, err := s.share.PurgeExpired()
	if err != nil {
		log.Printf("[CleanupScheduler] Error during cleanup: %v", err)
		return
	}

	if purged > 0 {
		log.Printf("[CleanupScheduler] Purged %d expired share tokens", purged)
	}
}

// Stop stops the cleanup scheduler.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate purge.
func (s *CleanupScheduler) RunNow() (int, error) {
	return s.share.PurgeExpired()
}
