// Package cli holds the operator subcommands of the mostrador binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/mostrador/mostrador/jobs"
)

// TaskEnqueuer is satisfied by *jobs.Client.
type TaskEnqueuer interface {
	EnqueueRunReminder(ctx context.Context, check string) (*asynq.TaskInfo, error)
}

// QueueInspector is satisfied by *asynq.Inspector.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for background jobs.
type JobsCLI struct {
	enqueuer  TaskEnqueuer
	inspector QueueInspector
	checks    []string
}

// NewJobsCLI builds the helpers. checks lists the reminder names Trigger accepts.
func NewJobsCLI(enqueuer TaskEnqueuer, inspector QueueInspector, checks []string) *JobsCLI {
	return &JobsCLI{enqueuer: enqueuer, inspector: inspector, checks: checks}
}

// Trigger enqueues an on-demand run of a reminder check.
func (c *JobsCLI) Trigger(ctx context.Context, check string) (*asynq.TaskInfo, error) {
	if c == nil || c.enqueuer == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if !slices.Contains(c.checks, check) {
		return nil, fmt.Errorf("jobs cli: unsupported check %q (known: %v)", check, c.checks)
	}
	return c.enqueuer.EnqueueRunReminder(ctx, check)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
