package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore implements Store on top of an open transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore binds a Store to tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// LockRecord ensures the row exists and locks it for the rest of the transaction.
func (s *TxStore) LockRecord(ctx context.Context, productID int64) (Record, error) {
	if _, err := s.tx.Exec(ctx, `INSERT INTO stock_records (product_id) VALUES ($1) ON CONFLICT (product_id) DO NOTHING`, productID); err != nil {
		return Record{}, err
	}
	var rec Record
	err := s.tx.QueryRow(ctx, `SELECT product_id, real, committed, updated_at FROM stock_records WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&rec.ProductID, &rec.Real, &rec.Committed, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *TxStore) SaveRecord(ctx context.Context, rec Record) error {
	_, err := s.tx.Exec(ctx, `UPDATE stock_records SET real=$2, committed=$3, updated_at=$4 WHERE product_id=$1`,
		rec.ProductID, rec.Real, rec.Committed, rec.UpdatedAt)
	return err
}

func (s *TxStore) InsertMovement(ctx context.Context, mv Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (reference, product_id, kind, quantity, real_after, committed_after, ref_module, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, mv.Reference, mv.ProductID, string(mv.Kind), mv.Quantity, mv.RealAfter, mv.CommittedAfter, mv.RefModule, mv.RefID, mv.CreatedAt)
	return err
}

// Repository serves read-only stock queries outside of transitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the record for productID.
func (r *Repository) Get(ctx context.Context, productID int64) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `SELECT product_id, real, committed, updated_at FROM stock_records WHERE product_id=$1`, productID).
		Scan(&rec.ProductID, &rec.Real, &rec.Committed, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// Movements lists the movements written on behalf of one document, oldest first.
func (r *Repository) Movements(ctx context.Context, refModule string, refID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT reference, product_id, kind, quantity, real_after, committed_after, ref_module, ref_id, created_at
FROM stock_movements WHERE ref_module=$1 AND ref_id=$2 ORDER BY id ASC`, refModule, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var mv Movement
		var kind string
		if err := rows.Scan(&mv.Reference, &mv.ProductID, &kind, &mv.Quantity, &mv.RealAfter, &mv.CommittedAfter, &mv.RefModule, &mv.RefID, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Kind = MovementKind(kind)
		out = append(out, mv)
	}
	return out, rows.Err()
}

var _ Store = (*TxStore)(nil)
