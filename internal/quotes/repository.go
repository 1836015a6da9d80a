package quotes

import (
	"context"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// Repository is the persistence port of Service.
type Repository interface {
	// WithTx runs fn in one transaction. Any error rolls back every write made
	// through the TxRepository, including stock and history rows.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Quote, error)
	List(ctx context.Context, filter ListFilter) ([]Quote, int, error)
}

// TxRepository exposes the writes a transition performs.
type TxRepository interface {
	stock.Store
	history.Appender

	InsertQuote(ctx context.Context, q Quote) (int64, error)
	// GetQuoteForUpdate loads the quote and its lines, holding a row lock until the
	// transaction ends.
	GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error)
	UpdateQuote(ctx context.Context, q Quote) error
	// ReplaceLines deletes the quote's lines and inserts lines, returning them with ids.
	ReplaceLines(ctx context.Context, quoteID int64, lines []Line) ([]Line, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Catalog resolves references carried by requests.
type Catalog interface {
	GetClient(ctx context.Context, id int64) (catalog.Client, error)
	GetPaymentMethod(ctx context.Context, id int64) (catalog.PaymentMethod, error)
	GetCurrency(ctx context.Context, id int64) (catalog.Currency, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]catalog.Product, error)
}

// Publisher receives a notification once a quote is finalized.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) int
}

// TransitionObserver is notified of every attempted operation.
type TransitionObserver interface {
	ObserveQuoteTransition(action, result string)
}
