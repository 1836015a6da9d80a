// Package history keeps the append-only log of quote state transitions.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an event misses required fields.
var ErrInvalidEvent = errors.New("history: invalid event")

// Event is one transition of one quote. Events are never updated or deleted.
type Event struct {
	ID        int64     `json:"id"`
	QuoteID   int64     `json:"quoteId"`
	At        time.Time `json:"at"`
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
	Action    string    `json:"action"`
	Reason    *string   `json:"reason,omitempty"`
	ActorID   int64     `json:"actorId"`
}

// Appender writes events inside the caller's transaction.
type Appender interface {
	InsertEvent(ctx context.Context, ev Event) (int64, error)
}

// Lister reads the events of a quote ordered by (at, id).
type Lister interface {
	ListEvents(ctx context.Context, quoteID int64) ([]Event, error)
}

// Recorder stamps and appends events, and reads them back.
type Recorder struct {
	lister Lister
	now    func() time.Time
}

// NewRecorder constructs a Recorder. now may be nil.
func NewRecorder(lister Lister, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{lister: lister, now: now}
}

// Record appends ev using store, the transaction of the transition being recorded.
func (r *Recorder) Record(ctx context.Context, store Appender, ev Event) (Event, error) {
	if ev.QuoteID <= 0 {
		return Event{}, fmt.Errorf("%w: quote id required", ErrInvalidEvent)
	}
	if ev.ToState == "" || ev.Action == "" {
		return Event{}, fmt.Errorf("%w: to state and action required", ErrInvalidEvent)
	}
	if ev.ActorID <= 0 {
		return Event{}, fmt.Errorf("%w: acting user required", ErrInvalidEvent)
	}
	if ev.Reason != nil && *ev.Reason == "" {
		ev.Reason = nil
	}
	ev.At = r.now().UTC()
	id, err := store.InsertEvent(ctx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("history: insert: %w", err)
	}
	ev.ID = id
	return ev, nil
}

// List returns every event of quoteID in chronological order.
func (r *Recorder) List(ctx context.Context, quoteID int64) ([]Event, error) {
	events, err := r.lister.ListEvents(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
