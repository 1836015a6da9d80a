// Package notify fans in-process notifications out to an explicit list of
// subscribers. Each server or worker owns its own Bus.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Kinds published by the application.
const (
	KindCurrencyStale      = "currency.stale"
	KindReservationExpired = "quote.reservation_expired"
	KindPurchaseConfirmed  = "purchase.confirmed"
	KindQuoteFinalized     = "quote.finalized"
)

// Notification is one user-facing message.
type Notification struct {
	Kind    string    `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Ref     string    `json:"ref,omitempty"`
	At      time.Time `json:"at"`
	// Origin names the instance that relayed the notification; empty when it was
	// raised locally.
	Origin string `json:"origin,omitempty"`
}

// Subscriber receives published notifications.
type Subscriber interface {
	Deliver(ctx context.Context, n Notification) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, n Notification) error

// Deliver calls f.
func (f SubscriberFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Bus delivers notifications to its subscribers.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	subs   map[string]entry
	logger *slog.Logger
	now    func() time.Time
}

type entry struct {
	seq uint64
	sub Subscriber
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[string]entry), logger: logger, now: time.Now}
}

// Subscribe registers s under name, replacing any subscriber with the same name.
// The returned func removes it again.
func (b *Bus) Subscribe(name string, s Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.subs[name] = entry{seq: seq, sub: s}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[name]; ok && cur.seq == seq {
			delete(b.subs, name)
		}
	}
}

// Subscribers lists the registered names in subscription order.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return b.subs[names[i]].seq < b.subs[names[j]].seq })
	return names
}

// Publish delivers n to a snapshot of the current subscribers and returns how many
// accepted it. A failing subscriber is logged and does not stop delivery.
func (b *Bus) Publish(ctx context.Context, n Notification) int {
	if n.At.IsZero() {
		n.At = b.now().UTC()
	}
	b.mu.RLock()
	type named struct {
		name string
		entry
	}
	snapshot := make([]named, 0, len(b.subs))
	for name, e := range b.subs {
		snapshot = append(snapshot, named{name: name, entry: e})
	}
	b.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })

	delivered := 0
	for _, s := range snapshot {
		if err := s.sub.Deliver(ctx, n); err != nil {
			b.logger.Warn("notify delivery failed",
				slog.String("subscriber", s.name),
				slog.String("kind", n.Kind),
				slog.Any("error", err))
			continue
		}
		delivered++
	}
	return delivered
}
