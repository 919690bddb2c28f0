package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// scheduleEntry tracks a keyed interval schedule so it can be replaced or
// cancelled by key.
type scheduleEntry struct {
	key       string
	interval  time.Duration
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service implements SchedulerService on top of robfig/cron. Fixed jobs
// (the case tick) are registered once with a cron expression; keyed
// schedules (per-page OCR polling) come and go at runtime and survive as
// long as the process does. After a restart the pipeline re-creates them
// from persisted page state.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	entries map[string]*scheduleEntry
	running bool
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		entries: make(map[string]*scheduleEntry),
	}
}

// Start begins dispatching registered jobs.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// RegisterCron registers a fixed job under a cron expression. The handler
// is skipped while a previous run of the same job is still executing.
func (s *Service) RegisterCron(name string, cronExpr string, handler func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("schedule %s already registered", name)
	}

	entry := &scheduleEntry{key: name}
	cronID, err := s.cron.AddFunc(cronExpr, func() {
		s.execute(entry, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}

	entry.cronID = cronID
	s.entries[name] = entry

	s.logger.Info().
		Str("schedule", name).
		Str("cron_expr", cronExpr).
		Msg("Cron schedule registered")

	return nil
}

// UpsertSchedule registers a repeating job keyed by a stable id. Upserting
// an existing key replaces the old schedule instead of duplicating it, so
// re-submitting the same pending work after a restart is safe.
func (s *Service) UpsertSchedule(key string, interval time.Duration, handler func() error) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.entries[key]; exists {
		s.cron.Remove(existing.cronID)
		delete(s.entries, key)
	}

	entry := &scheduleEntry{key: key, interval: interval}
	cronID := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.execute(entry, handler)
	}))

	entry.cronID = cronID
	s.entries[key] = entry

	s.logger.Debug().
		Str("schedule", key).
		Str("interval", interval.String()).
		Msg("Keyed schedule registered")

	return nil
}

// CancelSchedule removes a keyed schedule. Cancelling an unknown key is a
// no-op.
func (s *Service) CancelSchedule(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return
	}

	s.cron.Remove(entry.cronID)
	delete(s.entries, key)

	s.logger.Debug().Str("schedule", key).Msg("Schedule cancelled")
}

// HasSchedule reports whether a keyed schedule is registered.
func (s *Service) HasSchedule(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.entries[key]
	return exists
}

// execute runs a handler with overlap suppression and panic recovery.
func (s *Service) execute(entry *scheduleEntry, handler func() error) {
	s.mu.Lock()
	if entry.isRunning {
		s.mu.Unlock()
		s.logger.Debug().Str("schedule", entry.key).Msg("Previous run still in progress, skipping")
		return
	}
	entry.isRunning = true
	s.mu.Unlock()

	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("schedule", entry.key).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled job")
		}

		completed := time.Now()
		s.mu.Lock()
		entry.isRunning = false
		entry.lastRun = &completed
		s.mu.Unlock()
	}()

	if err := handler(); err != nil {
		s.mu.Lock()
		entry.lastError = err.Error()
		s.mu.Unlock()

		s.logger.Warn().
			Str("schedule", entry.key).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Scheduled job failed")
		return
	}

	s.mu.Lock()
	entry.lastError = ""
	s.mu.Unlock()
}
