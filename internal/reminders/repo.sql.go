package reminders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Repository reads reservations straight from the quotes table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ExpiredReservations implements ReservationSource.
func (r *Repository) ExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, client_id, reservation_expires_at FROM quotes
WHERE status='draft' AND reservation_expires_at IS NOT NULL AND reservation_expires_at < $1
ORDER BY reservation_expires_at, id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.QuoteID, &res.ClientID, &res.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// RedisMarker stores per-day run markers in redis.
type RedisMarker struct {
	client redis.UniversalClient
}

// NewRedisMarker constructs RedisMarker.
func NewRedisMarker(client redis.UniversalClient) *RedisMarker {
	return &RedisMarker{client: client}
}

// SetOnce sets key if it is absent and reports whether it did.
func (m *RedisMarker) SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Clear removes key.
func (m *RedisMarker) Clear(ctx context.Context, key string) error {
	return m.client.Del(ctx, key).Err()
}
