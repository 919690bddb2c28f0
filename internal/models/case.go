package models

import "time"

// CaseStatus is the user-visible lifecycle state of a case.
type CaseStatus int

const (
	CaseStatusNew CaseStatus = iota + 1
	CaseStatusInProgress
)

// CronStatus guards single-case orchestration. A scheduler tick only picks
// up cases in Pending; repeated ticks while a case is Processing are no-ops.
type CronStatus string

const (
	CronStatusPending    CronStatus = "pending"
	CronStatusProcessing CronStatus = "processing"
	CronStatusProcessed  CronStatus = "processed"
)

// Case represents a claim/matter owned by an organization and a user.
// CronStatus, PercentageCompletion and Bundle are mutated only by the
// pipeline; the case itself is never deleted by the pipeline.
type Case struct {
	ID     string `badgerhold:"key" json:"id"`
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`

	Status     CaseStatus `json:"status"`
	CronStatus CronStatus `badgerhold:"index" json:"cron_status"`

	// PercentageCompletion is monotonic non-decreasing and capped at 95
	// until the final case-level merge sets it to 100.
	PercentageCompletion   int    `json:"percentage_completion"`
	CurrentExtractionState string `json:"current_extraction_state"`

	Bundle *Bundle `json:"bundle,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
