package interfaces

import "time"

// SchedulerService registers repeating jobs. Schedules are keyed by a
// stable id: upserting an existing key replaces the schedule rather than
// duplicating it, and cancelling a missing key is a no-op. This is the
// restart-safe stand-in for asynchronous completion notifications.
type SchedulerService interface {
	Start() error
	Stop() error

	// RegisterCron registers a fixed job under a cron expression.
	RegisterCron(name string, cronExpr string, handler func() error) error

	// UpsertSchedule registers (or replaces) a repeating job keyed by a
	// stable id with a fixed interval.
	UpsertSchedule(key string, interval time.Duration, handler func() error) error

	// CancelSchedule removes a keyed schedule. No-op for unknown keys.
	CancelSchedule(key string)

	// HasSchedule reports whether a keyed schedule is registered.
	HasSchedule(key string) bool
}
