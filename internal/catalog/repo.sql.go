package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads catalog tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetClient(ctx context.Context, id int64) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, name, tier, tier_discount_pct FROM clients WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Tier, &c.TierDiscountPct)
	if err != nil {
		return Client{}, notFound(err, "client", id)
	}
	return c, nil
}

func (r *Repository) GetPaymentMethod(ctx context.Context, id int64) (PaymentMethod, error) {
	var pm PaymentMethod
	err := r.pool.QueryRow(ctx, `SELECT id, name, surcharge_pct FROM payment_methods WHERE id=$1`, id).
		Scan(&pm.ID, &pm.Name, &pm.SurchargePct)
	if err != nil {
		return PaymentMethod{}, notFound(err, "payment method", id)
	}
	return pm, nil
}

func (r *Repository) GetCurrency(ctx context.Context, id int64) (Currency, error) {
	var c Currency
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, rate, updated_at FROM currencies WHERE id=$1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Rate, &c.UpdatedAt)
	if err != nil {
		return Currency{}, notFound(err, "currency", id)
	}
	return c, nil
}

// GetProducts returns the active products among ids keyed by id. Missing or inactive
// ids are absent from the map.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, price, is_active FROM products WHERE id = ANY($1) AND is_active`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repository) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

// ListStaleCurrencies returns currencies whose rate was not refreshed since cutoff.
func (r *Repository) ListStaleCurrencies(ctx context.Context, cutoff time.Time) ([]Currency, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, rate, updated_at FROM currencies WHERE updated_at < $1 ORDER BY code`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Rate, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return err
}
