package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"duck-analyst/internal/domain"
)

// Scheduler refreshes a catalog on a cron schedule so long-running processes
// never serve a snapshot much older than the schedule interval.
type Scheduler struct {
	cron    *cron.Cron
	catalog *Catalog
	logger  *slog.Logger

	mu       sync.Mutex
	entry    cron.EntryID
	onChange func(*domain.Snapshot)
}

// NewScheduler creates a scheduler for cat. It holds a reference to the
// catalog until Stop.
func NewScheduler(cat *Catalog, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:    cron.New(),
		catalog: cat.Retain(),
		logger:  logger,
	}
}

// OnRefresh registers a callback invoked with each new snapshot.
func (s *Scheduler) OnRefresh(fn func(*domain.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Start registers the refresh job on schedule (standard 5-field cron syntax
// or descriptors such as "@every 5m") and starts the cron runner.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	id, err := s.cron.AddFunc(schedule, s.RunOnce)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	s.entry = id
	s.cron.Start()
	s.logger.Info("catalog scheduler started", "schedule", schedule)
	return nil
}

// RunOnce performs one forced refresh.
func (s *Scheduler) RunOnce() {
	snap, err := s.catalog.Refresh(context.Background())
	var unavailable *domain.CatalogUnavailableError
	switch {
	case errors.As(err, &unavailable):
		s.logger.Warn("scheduled catalog refresh found no tables", "error", err)
	case err != nil:
		s.logger.Warn("scheduled catalog refresh failed", "error", err)
		return
	}

	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil && snap != nil {
		fn(snap)
	}
}

// Stop stops the cron runner, waits for a running refresh and releases the
// catalog reference.
func (s *Scheduler) Stop() error {
	<-s.cron.Stop().Done()
	s.logger.Info("catalog scheduler stopped")
	return s.catalog.Close()
}
