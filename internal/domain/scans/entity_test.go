package scans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func jobs(statuses ...JobStatus) []*ToolJob {
	out := make([]*ToolJob, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, &ToolJob{Status: s})
	}
	return out
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		jobs       []*ToolJob
		cancel     bool
		wantStatus Status
		wantDone   bool
	}{
		{
			name:       "all succeeded",
			jobs:       jobs(JobSucceeded, JobSucceeded, JobSucceeded),
			wantStatus: StatusCompleted,
			wantDone:   true,
		},
		{
			name:       "two of three succeeded",
			jobs:       jobs(JobSucceeded, JobFailed, JobSucceeded),
			wantStatus: StatusPartial,
			wantDone:   true,
		},
		{
			name:       "all failed",
			jobs:       jobs(JobFailed, JobFailed),
			wantStatus: StatusFailed,
			wantDone:   true,
		},
		{
			name:       "cancelled with no successes",
			jobs:       jobs(JobFailed, JobCancelled),
			cancel:     true,
			wantStatus: StatusCancelled,
			wantDone:   true,
		},
		{
			name:       "cancelled job present without cancel request",
			jobs:       jobs(JobCancelled, JobFailed),
			wantStatus: StatusCancelled,
			wantDone:   true,
		},
		{
			name:       "cancel requested but one job succeeded",
			jobs:       jobs(JobSucceeded, JobCancelled),
			cancel:     true,
			wantStatus: StatusPartial,
			wantDone:   true,
		},
		{
			name:     "still running",
			jobs:     jobs(JobSucceeded, JobRunning),
			wantDone: false,
		},
		{
			name:     "still pending",
			jobs:     jobs(JobPending),
			wantDone: false,
		},
		{
			name:     "no jobs",
			jobs:     nil,
			wantDone: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, done := Aggregate(tc.jobs, tc.cancel)
			require.Equal(t, tc.wantDone, done)
			if tc.wantDone {
				require.Equal(t, tc.wantStatus, status)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusPartial, StatusFailed, StatusCancelled} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusQueued, StatusRunning} {
		require.False(t, s.Terminal(), s)
	}
}

func TestValidTool(t *testing.T) {
	t.Parallel()

	for _, tool := range AllTools {
		require.True(t, ValidTool(tool))
	}
	require.False(t, ValidTool(Tool("nessus")))
}
