package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TaskDeliver is the asynq task type carrying a Notification to the worker.
const TaskDeliver = "notify:deliver"

// LogSubscriber writes every notification to the log.
type LogSubscriber struct {
	Logger *slog.Logger
}

// Deliver logs n.
func (s LogSubscriber) Deliver(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("kind", n.Kind),
		slog.String("title", n.Title),
		slog.String("ref", n.Ref))
	return nil
}

// RedisRelay forwards locally raised notifications to a redis channel so other
// instances can republish them on their own bus.
type RedisRelay struct {
	client   redis.UniversalClient
	channel  string
	instance string
}

// NewRedisRelay constructs a relay publishing on channel as instance.
func NewRedisRelay(client redis.UniversalClient, channel, instance string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, instance: instance}
}

// Deliver publishes n unless it already came from another instance.
func (r *RedisRelay) Deliver(ctx context.Context, n Notification) error {
	if n.Origin != "" {
		return nil
	}
	n.Origin = r.instance
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: relay publish: %w", err)
	}
	return nil
}

// Listen republishes notifications relayed by other instances on bus until ctx is
// done. Messages this instance relayed itself are skipped.
func (r *RedisRelay) Listen(ctx context.Context, bus *Bus) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: relay subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				continue
			}
			if n.Origin == r.instance {
				continue
			}
			bus.Publish(ctx, n)
		}
	}
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskSubscriber hands locally raised notifications to the background worker,
// stamped with Instance as their origin.
type TaskSubscriber struct {
	Enqueuer Enqueuer
	Queue    string
	Instance string
}

// Deliver enqueues a TaskDeliver task for n. Relayed notifications are skipped.
func (s TaskSubscriber) Deliver(ctx context.Context, n Notification) error {
	if n.Origin != "" {
		return nil
	}
	n.Origin = s.Instance
	task, err := NewDeliverTask(n)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	_, err = s.Enqueuer.EnqueueContext(ctx, task, opts...)
	return err
}

// NewDeliverTask wraps n in an asynq task.
func NewDeliverTask(n Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, payload), nil
}

// ParseDeliverTask extracts the notification carried by task.
func ParseDeliverTask(task *asynq.Task) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return Notification{}, fmt.Errorf("notify: decode task: %w", err)
	}
	return n, nil
}
