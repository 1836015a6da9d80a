package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/platform/db"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// PGRepository persists quotes in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepository struct {
	*stock.TxStore
	*history.TxAppender
	tx pgx.Tx
}

const quoteColumns = `id, client_id, payment_method_id, currency_id, reservation_expires_at, observation,
client_discount_pct, general_discount_pct, surcharge_pct, adjustment, tax_rate, subtotal, tax, total,
status, created_by, created_at, updated_at`

// WithTx runs fn at read committed; the quote row lock taken by GetQuoteForUpdate
// serializes transitions on the same quote. Lock contention and serialization
// failures are reported as ErrInvalidState so callers re-fetch.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("quotes repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: stock.NewTxStore(tx), TxAppender: history.NewTxAppender(tx), tx: tx})
	})
	switch {
	case err == nil:
		return nil
	case db.IsContention(err):
		return fmt.Errorf("%w: concurrent update, reload the quote", ErrInvalidState)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrConflict, db.ConstraintName(err))
	case db.IsForeignKeyViolation(err):
		return invalid(db.ConstraintName(err), "referenced record does not exist")
	}
	return err
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, id))
	if err != nil {
		return Quote{}, err
	}
	q.Lines, err = loadLines(ctx, r.pool, id)
	return q, err
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotes`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM quotes%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		quoteColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

func (t *txRepository) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotes (client_id, payment_method_id, currency_id, reservation_expires_at, observation,
client_discount_pct, general_discount_pct, surcharge_pct, adjustment, tax_rate, subtotal, tax, total, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16) RETURNING id`,
		q.ClientID, q.PaymentMethodID, q.CurrencyID, q.ReservationExpiresAt, q.Observation,
		q.ClientDiscountPct, q.GeneralDiscountPct, q.SurchargePct, q.Adjustment, q.TaxRate,
		q.Subtotal, q.Tax, q.Total, string(q.Status), q.CreatedBy, q.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(t.tx.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Quote{}, err
	}
	q.Lines, err = loadLines(ctx, t.tx, id)
	return q, err
}

func (t *txRepository) UpdateQuote(ctx context.Context, q Quote) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quotes SET client_id=$2, payment_method_id=$3, currency_id=$4, reservation_expires_at=$5,
observation=$6, client_discount_pct=$7, general_discount_pct=$8, surcharge_pct=$9, adjustment=$10,
subtotal=$11, tax=$12, total=$13, status=$14, updated_at=$15 WHERE id=$1`,
		q.ID, q.ClientID, q.PaymentMethodID, q.CurrencyID, q.ReservationExpiresAt,
		q.Observation, q.ClientDiscountPct, q.GeneralDiscountPct, q.SurchargePct, q.Adjustment,
		q.Subtotal, q.Tax, q.Total, string(q.Status), q.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ReplaceLines(ctx context.Context, quoteID int64, lines []Line) ([]Line, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id=$1`, quoteID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.QuoteID = quoteID
		if err := t.tx.QueryRow(ctx, `INSERT INTO quote_lines (quote_id, product_id, quantity, unit_price, line_discount_pct)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, quoteID, l.ProductID, l.Quantity, l.UnitPrice, l.LineDiscountPct).Scan(&l.ID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.WriteAudit(ctx, t.tx, log)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, quoteID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, quote_id, product_id, quantity, unit_price, line_discount_pct
FROM quote_lines WHERE quote_id=$1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineDiscountPct); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanQuote(row pgx.Row) (Quote, error) {
	var (
		q      Quote
		status string
	)
	err := row.Scan(&q.ID, &q.ClientID, &q.PaymentMethodID, &q.CurrencyID, &q.ReservationExpiresAt, &q.Observation,
		&q.ClientDiscountPct, &q.GeneralDiscountPct, &q.SurchargePct, &q.Adjustment, &q.TaxRate, &q.Subtotal, &q.Tax, &q.Total,
		&status, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	q.Status, err = CanonicalStatus(status)
	return q, err
}

var _ Repository = (*PGRepository)(nil)
