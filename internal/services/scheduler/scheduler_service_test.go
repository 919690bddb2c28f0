package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestUpsertAndCancelSchedule(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	err := svc.UpsertSchedule("ocr-poll:page_1", time.Minute, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, svc.HasSchedule("ocr-poll:page_1"))

	svc.CancelSchedule("ocr-poll:page_1")
	assert.False(t, svc.HasSchedule("ocr-poll:page_1"))

	// Cancelling an unknown key is a no-op
	svc.CancelSchedule("ocr-poll:missing")
}

func TestUpsertReplacesExistingSchedule(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.UpsertSchedule("ocr-poll:page_1", time.Minute, func() error { return nil }))
	require.NoError(t, svc.UpsertSchedule("ocr-poll:page_1", 2*time.Minute, func() error { return nil }))

	assert.True(t, svc.HasSchedule("ocr-poll:page_1"))

	impl := svc.(*Service)
	impl.mu.Lock()
	defer impl.mu.Unlock()
	assert.Len(t, impl.entries, 1)
	assert.Equal(t, 2*time.Minute, impl.entries["ocr-poll:page_1"].interval)
}

func TestUpsertRejectsNonPositiveInterval(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	err := svc.UpsertSchedule("bad", 0, func() error { return nil })
	assert.Error(t, err)
}

func TestRegisterCronDuplicateName(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.RegisterCron("case-tick", "*/5 * * * * *", func() error { return nil }))
	err := svc.RegisterCron("case-tick", "*/5 * * * * *", func() error { return nil })
	assert.Error(t, err)
}

func TestScheduledHandlerRuns(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var runs atomic.Int32
	require.NoError(t, svc.UpsertSchedule("tick", time.Second, func() error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, svc.Start())
	defer svc.Stop()

	deadline := time.After(5 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled handler never ran")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Error(t, svc.Start())
}
