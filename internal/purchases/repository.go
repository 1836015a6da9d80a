package purchases

import (
	"context"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// Repository is the persistence port of Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Purchase, error)
	List(ctx context.Context, filter ListFilter) ([]Purchase, int, error)
}

// TxRepository exposes the writes of one purchase operation.
type TxRepository interface {
	stock.Store

	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id int64) error
	ReplaceLines(ctx context.Context, purchaseID int64, lines []Line) ([]Line, error)
	InsertPriceRecord(ctx context.Context, rec PriceRecord) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Catalog resolves the references a purchase carries.
type Catalog interface {
	SupplierExists(ctx context.Context, id int64) (bool, error)
	GetCurrency(ctx context.Context, id int64) (catalog.Currency, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]catalog.Product, error)
}

// Publisher receives a notification once a purchase is confirmed.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) int
}
