package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CaseStorage implements the CaseStorage interface for Badger
type CaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCaseStorage creates a new CaseStorage instance
func NewCaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CaseStorage {
	return &CaseStorage{db: db, logger: logger}
}

func (s *CaseStorage) StoreCase(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		return fmt.Errorf("case ID is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(c.ID, *c); err != nil {
		return fmt.Errorf("failed to store case: %w", err)
	}
	return nil
}

func (s *CaseStorage) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	if err := s.db.Store().Get(id, &c); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("case not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

func (s *CaseStorage) UpdateCase(ctx context.Context, c *models.Case) error {
	return s.StoreCase(ctx, c)
}

func (s *CaseStorage) GetNextPendingCase(ctx context.Context) (*models.Case, error) {
	var cases []models.Case
	err := s.db.Store().Find(&cases, badgerhold.Where("CronStatus").Eq(models.CronStatusPending).Index("CronStatus"))
	if err != nil {
		return nil, fmt.Errorf("failed to find pending cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, nil
	}

	// Oldest first so no case starves behind newer arrivals
	sort.Slice(cases, func(i, j int) bool {
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})

	return &cases[0], nil
}

// ClaimCase flips Pending -> Processing inside one transaction. A case that
// is already Processing (or Processed) is not claimed, which makes repeated
// scheduler ticks no-ops.
func (s *CaseStorage) ClaimCase(ctx context.Context, id string) (bool, error) {
	claimed := false
	err := s.db.Store().UpdateMatching(&models.Case{},
		badgerhold.Where(badgerhold.Key).Eq(id),
		func(record interface{}) error {
			c, ok := record.(*models.Case)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			if c.CronStatus != models.CronStatusPending {
				return nil
			}
			c.CronStatus = models.CronStatusProcessing
			c.Status = models.CaseStatusInProgress
			c.UpdatedAt = time.Now()
			claimed = true
			return nil
		})
	if err != nil {
		return false, fmt.Errorf("failed to claim case: %w", err)
	}
	return claimed, nil
}

// AddCompletionDelta performs the increment inside a single store
// transaction rather than a read-then-write from the caller, so two pages
// finishing concurrently cannot lose an update. Completion never decreases
// and never exceeds the ceiling here; only the final merge sets 100.
func (s *CaseStorage) AddCompletionDelta(ctx context.Context, id string, delta, ceiling int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("completion delta cannot be negative")
	}

	newValue := 0
	err := withConflictRetry(func() error {
		return s.db.Store().UpdateMatching(&models.Case{},
			badgerhold.Where(badgerhold.Key).Eq(id),
			func(record interface{}) error {
				c, ok := record.(*models.Case)
				if !ok {
					return fmt.Errorf("unexpected record type %T", record)
				}
				c.PercentageCompletion += delta
				if c.PercentageCompletion > ceiling {
					c.PercentageCompletion = ceiling
				}
				c.UpdatedAt = time.Now()
				newValue = c.PercentageCompletion
				return nil
			})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update completion: %w", err)
	}
	return newValue, nil
}

// withConflictRetry re-runs an optimistic badger transaction that lost a
// write conflict. Concurrent page completions hitting the same case are
// expected; each retry re-reads the latest value.
func withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		err = fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return err
}

func (s *CaseStorage) SetExtractionState(ctx context.Context, id string, state string) error {
	err := s.db.Store().UpdateMatching(&models.Case{},
		badgerhold.Where(badgerhold.Key).Eq(id),
		func(record interface{}) error {
			c, ok := record.(*models.Case)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			c.CurrentExtractionState = state
			c.UpdatedAt = time.Now()
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to set extraction state: %w", err)
	}
	return nil
}
