package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mostrador/mostrador/internal/jobs"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/reminders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRunReminder runs one reminder check outside its schedule.
	TaskRunReminder = "reminders:run"
)

// RunReminderPayload names the check to run.
type RunReminderPayload struct {
	Check string `json:"check"`
}

// NewRunReminderTask constructs an Asynq task for check.
func NewRunReminderTask(check string) (*asynq.Task, error) {
	check = strings.TrimSpace(check)
	if check == "" {
		return nil, errors.New("jobs: reminder check required")
	}
	data, err := json.Marshal(RunReminderPayload{Check: check})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunReminder, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// Publisher is the notification bus of the worker process.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) int
}

// DeliverJob republishes notifications enqueued by the API on the worker's bus.
type DeliverJob struct {
	Bus     Publisher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes notify.TaskDeliver tasks.
func (j *DeliverJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Bus == nil {
		return errors.New("deliver: handler not configured")
	}
	tracker := j.Metrics.Track(notify.TaskDeliver)
	defer func() {
		err = tracker.End(err)
	}()

	n, err := notify.ParseDeliverTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	delivered := j.Bus.Publish(ctx, n)
	j.Metrics.AddNotifications(n.Kind, 1)
	logger(j.Logger).Debug("notification delivered",
		slog.String("kind", n.Kind),
		slog.String("ref", n.Ref),
		slog.Int("subscribers", delivered))
	return nil
}

// ReminderRunner runs a check by name.
type ReminderRunner interface {
	RunNow(ctx context.Context, name string) (int, error)
}

// ReminderJob runs a reminder check on demand.
type ReminderJob struct {
	Runner ReminderRunner
	Logger *slog.Logger
}

// Handle processes TaskRunReminder tasks.
func (j *ReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("reminder: handler not configured")
	}
	var payload RunReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	count, err := j.Runner.RunNow(ctx, payload.Check)
	if errors.Is(err, reminders.ErrUnknownCheck) {
		logger(j.Logger).Warn("unknown reminder check", slog.String("check", payload.Check))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	logger(j.Logger).Info("reminder run on demand",
		slog.String("check", payload.Check),
		slog.Int("notifications", count))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
