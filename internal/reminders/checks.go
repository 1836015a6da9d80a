// Package reminders runs the daily read-only checks that raise notifications, such
// as stale exchange rates and expired stock reservations.
package reminders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/notify"
)

// Check inspects state at now and reports what needs attention. Checks never write.
type Check interface {
	Name() string
	Run(ctx context.Context, now time.Time) ([]notify.Notification, error)
}

// CurrencySource lists currencies whose rate was last updated before cutoff.
type CurrencySource interface {
	ListStaleCurrencies(ctx context.Context, cutoff time.Time) ([]catalog.Currency, error)
}

// StaleCurrencyCheck flags exchange rates older than MaxAge.
type StaleCurrencyCheck struct {
	Source CurrencySource
	MaxAge time.Duration
}

// Name implements Check.
func (StaleCurrencyCheck) Name() string { return "currency" }

// Run implements Check.
func (c StaleCurrencyCheck) Run(ctx context.Context, now time.Time) ([]notify.Notification, error) {
	currencies, err := c.Source.ListStaleCurrencies(ctx, now.Add(-c.MaxAge))
	if err != nil {
		return nil, fmt.Errorf("reminders: stale currencies: %w", err)
	}
	out := make([]notify.Notification, 0, len(currencies))
	for _, cur := range currencies {
		out = append(out, notify.Notification{
			Kind:    notify.KindCurrencyStale,
			Title:   "Cotización desactualizada",
			Message: fmt.Sprintf("%s sin actualizar desde %s", cur.Code, cur.UpdatedAt.Format("2006-01-02 15:04")),
			Ref:     "currency:" + strconv.FormatInt(cur.ID, 10),
			At:      now,
		})
	}
	return out, nil
}

// Reservation is a draft quote holding stock.
type Reservation struct {
	QuoteID   int64
	ClientID  int64
	ExpiresAt time.Time
}

// ReservationSource lists draft quotes whose reservation expired before now.
type ReservationSource interface {
	ExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error)
}

// ExpiredReservationCheck flags draft quotes still committing stock after their
// reservation expired. Releasing the stock is left to a person.
type ExpiredReservationCheck struct {
	Source ReservationSource
}

// Name implements Check.
func (ExpiredReservationCheck) Name() string { return "reservation" }

// Run implements Check.
func (c ExpiredReservationCheck) Run(ctx context.Context, now time.Time) ([]notify.Notification, error) {
	expired, err := c.Source.ExpiredReservations(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("reminders: expired reservations: %w", err)
	}
	out := make([]notify.Notification, 0, len(expired))
	for _, r := range expired {
		out = append(out, notify.Notification{
			Kind:    notify.KindReservationExpired,
			Title:   "Reserva vencida",
			Message: fmt.Sprintf("El presupuesto %d venció el %s", r.QuoteID, r.ExpiresAt.Format("2006-01-02")),
			Ref:     "quote:" + strconv.FormatInt(r.QuoteID, 10),
			At:      now,
		})
	}
	return out, nil
}
