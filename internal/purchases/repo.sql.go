package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mostrador/mostrador/internal/platform/db"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

const invoiceConstraint = "purchases_supplier_invoice_key"

// PGRepository persists purchases in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepository struct {
	*stock.TxStore
	tx pgx.Tx
}

const purchaseColumns = `id, supplier_id, invoice_number, currency_id, purchase_date, surcharge_pct, tax_rate, total,
status, created_by, confirmed_by, confirmed_at, created_at, updated_at`

// WithTx runs fn in a read committed transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchases repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: stock.NewTxStore(tx), tx: tx})
	})
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err) && db.ConstraintName(err) == invoiceConstraint:
		return fmt.Errorf("%w: invoice number already registered for this supplier", ErrConflict)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrConflict, db.ConstraintName(err))
	case db.IsContention(err):
		return fmt.Errorf("%w: concurrent update, reload the purchase", ErrInvalidState)
	case db.IsForeignKeyViolation(err):
		return invalid(db.ConstraintName(err), "referenced record does not exist")
	}
	return err
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id))
	if err != nil {
		return Purchase{}, err
	}
	p.Lines, err = loadLines(ctx, r.pool, id)
	return p, err
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where = append(where, fmt.Sprintf("supplier_id=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM purchases%s ORDER BY purchase_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		purchaseColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (t *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchases (supplier_id, invoice_number, currency_id, purchase_date, surcharge_pct, tax_rate,
total, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10) RETURNING id`,
		p.SupplierID, p.InvoiceNumber, p.CurrencyID, p.Date, p.SurchargePct, p.TaxRate,
		p.Total, string(p.Status), p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Purchase{}, err
	}
	p.Lines, err = loadLines(ctx, t.tx, id)
	return p, err
}

func (t *txRepository) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchases SET supplier_id=$2, invoice_number=$3, currency_id=$4, purchase_date=$5,
surcharge_pct=$6, total=$7, status=$8, confirmed_by=$9, confirmed_at=$10, updated_at=$11 WHERE id=$1`,
		p.ID, p.SupplierID, p.InvoiceNumber, p.CurrencyID, p.Date,
		p.SurchargePct, p.Total, string(p.Status), p.ConfirmedBy, p.ConfirmedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) DeletePurchase(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ReplaceLines(ctx context.Context, purchaseID int64, lines []Line) ([]Line, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_lines WHERE purchase_id=$1`, purchaseID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.PurchaseID = purchaseID
		if err := t.tx.QueryRow(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, quantity, unit_cost)
VALUES ($1,$2,$3,$4) RETURNING id`, purchaseID, l.ProductID, l.Quantity, l.UnitCost).Scan(&l.ID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) InsertPriceRecord(ctx context.Context, rec PriceRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO supplier_price_history (supplier_id, product_id, purchase_id, unit_cost, recorded_at)
VALUES ($1,$2,$3,$4,$5)`, rec.SupplierID, rec.ProductID, rec.PurchaseID, rec.UnitCost, rec.RecordedAt)
	return err
}

func (t *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.WriteAudit(ctx, t.tx, log)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, purchaseID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, product_id, quantity, unit_cost
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.ProductID, &l.Quantity, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var (
		p      Purchase
		status string
	)
	err := row.Scan(&p.ID, &p.SupplierID, &p.InvoiceNumber, &p.CurrencyID, &p.Date, &p.SurchargePct, &p.TaxRate, &p.Total,
		&status, &p.CreatedBy, &p.ConfirmedBy, &p.ConfirmedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	p.Status, err = CanonicalStatus(status)
	return p, err
}

var _ Repository = (*PGRepository)(nil)
