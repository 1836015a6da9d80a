package history

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxAppender appends events inside an open transaction.
type TxAppender struct {
	tx pgx.Tx
}

// NewTxAppender binds an Appender to tx.
func NewTxAppender(tx pgx.Tx) *TxAppender {
	return &TxAppender{tx: tx}
}

func (a *TxAppender) InsertEvent(ctx context.Context, ev Event) (int64, error) {
	var id int64
	err := a.tx.QueryRow(ctx, `INSERT INTO quote_history (quote_id, at, from_status, to_status, action, reason, actor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, ev.QuoteID, ev.At, ev.FromState, ev.ToState, ev.Action, ev.Reason, ev.ActorID).Scan(&id)
	return id, err
}

// Repository reads history rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListEvents(ctx context.Context, quoteID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, quote_id, at, from_status, to_status, action, reason, actor_id
FROM quote_history WHERE quote_id=$1 ORDER BY at ASC, id ASC`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.QuoteID, &ev.At, &ev.FromState, &ev.ToState, &ev.Action, &ev.Reason, &ev.ActorID); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var (
	_ Appender = (*TxAppender)(nil)
	_ Lister   = (*Repository)(nil)
)
