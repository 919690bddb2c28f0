package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// FailedJobStorage implements the FailedJobStorage interface for Badger.
// This is the operator-visible dead-letter list: jobs land here after
// exhausting their attempts and stay queryable.
type FailedJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFailedJobStorage creates a new FailedJobStorage instance
func NewFailedJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FailedJobStorage {
	return &FailedJobStorage{db: db, logger: logger}
}

func (s *FailedJobStorage) StoreFailedJob(ctx context.Context, job *interfaces.FailedJob) error {
	if job.ID == "" {
		return fmt.Errorf("failed job ID is required")
	}
	if job.FailedAt.IsZero() {
		job.FailedAt = time.Now()
	}

	if err := s.db.Store().Upsert(job.ID, *job); err != nil {
		return fmt.Errorf("failed to store failed job: %w", err)
	}

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("queue", job.QueueName).
		Int("attempts", job.Attempts).
		Str("error", job.LastError).
		Msg("Job moved to failed list")

	return nil
}

func (s *FailedJobStorage) ListFailedJobs(ctx context.Context, queueName string, limit int) ([]*interfaces.FailedJob, error) {
	var jobs []interfaces.FailedJob
	var err error

	if queueName != "" {
		err = s.db.Store().Find(&jobs, badgerhold.Where("QueueName").Eq(queueName).Index("QueueName"))
	} else {
		err = s.db.Store().Find(&jobs, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].FailedAt.After(jobs[j].FailedAt)
	})

	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}

	result := make([]*interfaces.FailedJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *FailedJobStorage) CountFailedJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&interfaces.FailedJob{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return int(count), nil
}
