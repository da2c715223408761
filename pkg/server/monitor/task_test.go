package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskMonitor_RecordSuccess(t *testing.T) {
	tm := NewTaskMonitor("retention", time.Hour)
	tm.RecordSuccess(12)

	status := tm.Status()
	require.True(t, status.Healthy)
	require.Equal(t, "retention", status.Name)
	require.Equal(t, 12, status.LastResult)
	require.Zero(t, status.ConsecutiveErrors)
	require.Empty(t, status.LastError)
	require.NotEmpty(t, status.LastSuccess)
	require.NotEmpty(t, status.TimeSinceSuccess)
}

func TestTaskMonitor_RecordFailure(t *testing.T) {
	tm := NewTaskMonitor("retention", time.Hour)
	tm.RecordFailure(errors.New("disk full"))

	status := tm.Status()
	require.False(t, status.Healthy)
	require.Equal(t, 1, status.ConsecutiveErrors)
	require.Equal(t, "disk full", status.LastError)
	require.NotEmpty(t, status.LastAttempt)
	require.Empty(t, status.LastSuccess)
}

func TestTaskMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name       string
		staleAfter time.Duration
		setup      func(*TaskMonitor)
		expected   bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*TaskMonitor) {},
			expected: false,
		},
		{
			name:       "recent success",
			staleAfter: time.Hour,
			setup: func(tm *TaskMonitor) {
				tm.RecordSuccess(0)
			},
			expected: true,
		},
		{
			name:       "stale success",
			staleAfter: time.Hour,
			setup: func(tm *TaskMonitor) {
				tm.mu.Lock()
				tm.lastSuccess = time.Now().Add(-2 * time.Hour)
				tm.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "old success without staleness check",
			setup: func(tm *TaskMonitor) {
				tm.mu.Lock()
				tm.lastSuccess = time.Now().Add(-48 * time.Hour)
				tm.mu.Unlock()
			},
			expected: true,
		},
		{
			name:       "recovers after a few failures",
			staleAfter: time.Hour,
			setup: func(tm *TaskMonitor) {
				tm.RecordSuccess(0)
				tm.RecordFailure(errors.New("error 1"))
				tm.RecordFailure(errors.New("error 2"))
			},
			expected: true,
		},
		{
			name:       "too many consecutive errors",
			staleAfter: time.Hour,
			setup: func(tm *TaskMonitor) {
				tm.RecordSuccess(0)
				for i := 0; i <= MaxConsecutiveErrors; i++ {
					tm.RecordFailure(errors.New("boom"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTaskMonitor("task", tt.staleAfter)
			tt.setup(tm)
			require.Equal(t, tt.expected, tm.IsHealthy())
		})
	}
}
