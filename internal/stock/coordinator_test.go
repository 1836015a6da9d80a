package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records   map[int64]Record
	movements []Movement
	locked    []int64
	failOn    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[int64]Record)}
}

func (s *memoryStore) LockRecord(ctx context.Context, productID int64) (Record, error) {
	if s.failOn != 0 && s.failOn == productID {
		return Record{}, errors.New("lock timeout")
	}
	s.locked = append(s.locked, productID)
	rec, ok := s.records[productID]
	if !ok {
		rec = Record{ProductID: productID, Real: decimal.Zero, Committed: decimal.Zero}
		s.records[productID] = rec
	}
	return rec, nil
}

func (s *memoryStore) SaveRecord(ctx context.Context, rec Record) error {
	s.records[rec.ProductID] = rec
	return nil
}

func (s *memoryStore) InsertMovement(ctx context.Context, mv Movement) error {
	s.movements = append(s.movements, mv)
	return nil
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func req(productID, q int64) Request {
	return Request{ProductID: productID, Quantity: qty(q), RefModule: "quote", RefID: 7}
}

func TestCommitReleaseSettle(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = Record{ProductID: 1, Real: qty(10), Committed: decimal.Zero}
	c := NewCoordinator(nil)
	ctx := context.Background()

	recs, err := c.Commit(ctx, store, req(1, 4))
	require.NoError(t, err)
	require.True(t, recs[0].Committed.Equal(qty(4)))
	require.True(t, recs[0].Available().Equal(qty(6)))

	recs, err = c.Release(ctx, store, req(1, 1))
	require.NoError(t, err)
	require.True(t, recs[0].Committed.Equal(qty(3)))

	recs, err = c.Settle(ctx, store, req(1, 3))
	require.NoError(t, err)
	require.True(t, recs[0].Committed.IsZero())
	require.True(t, recs[0].Real.Equal(qty(7)))

	require.Len(t, store.movements, 3)
	require.Equal(t, MovementSettle, store.movements[2].Kind)
	require.True(t, store.movements[2].RealAfter.Equal(qty(7)))
	require.Equal(t, "quote", store.movements[2].RefModule)
}

func TestCommitAllowsOvercommitment(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = Record{ProductID: 1, Real: qty(2), Committed: decimal.Zero}
	c := NewCoordinator(nil)

	recs, err := c.Commit(context.Background(), store, req(1, 5))
	require.NoError(t, err)
	require.True(t, recs[0].Available().Equal(qty(-3)))

	warnings := Warnings(recs)
	require.Len(t, warnings, 1)
	require.Equal(t, int64(1), warnings[0].ProductID)
	require.True(t, warnings[0].Available.Equal(qty(-3)))
}

func TestReleaseNeverGoesBelowZero(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = Record{ProductID: 1, Real: qty(5), Committed: qty(2)}
	c := NewCoordinator(nil)

	recs, err := c.Release(context.Background(), store, req(1, 3))
	require.NoError(t, err)
	require.True(t, recs[0].Committed.IsZero())
}

func TestReceiveCreatesRecord(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(nil)

	recs, err := c.Receive(context.Background(), store, req(9, 12))
	require.NoError(t, err)
	require.True(t, recs[0].Real.Equal(qty(12)))
	require.True(t, store.records[9].Real.Equal(qty(12)))
}

func TestRejectsNonPositiveQuantity(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(nil)

	_, err := c.Commit(context.Background(), store, req(1, 0))
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, store.movements)
}

func TestRequestsAreAggregatedAndLockedInOrder(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(nil)

	_, err := c.Commit(context.Background(), store, req(3, 1), req(1, 2), req(3, 4))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, store.locked)
	require.True(t, store.records[3].Committed.Equal(qty(5)))
}

func TestReconcileAppliesNetChanges(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(nil)
	ctx := context.Background()

	prev := []Request{req(1, 3), req(2, 1)}
	_, err := c.Commit(ctx, store, prev...)
	require.NoError(t, err)
	store.movements = nil

	next := []Request{req(1, 1), req(3, 2)}
	_, err = c.Reconcile(ctx, store, prev, next)
	require.NoError(t, err)

	require.True(t, store.records[1].Committed.Equal(qty(1)))
	require.True(t, store.records[2].Committed.IsZero())
	require.True(t, store.records[3].Committed.Equal(qty(2)))

	require.Len(t, store.movements, 3)
	require.Equal(t, MovementRelease, store.movements[0].Kind)
	require.True(t, store.movements[0].Quantity.Equal(qty(2)))
	require.Equal(t, MovementRelease, store.movements[1].Kind)
	require.Equal(t, MovementCommit, store.movements[2].Kind)
}

func TestReconcileUnchangedLinesWriteNothing(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(nil)

	lines := []Request{req(1, 3)}
	recs, err := c.Reconcile(context.Background(), store, lines, lines)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Empty(t, store.movements)
}

func TestLockFailureIsReturned(t *testing.T) {
	store := newMemoryStore()
	store.failOn = 2
	c := NewCoordinator(nil)

	_, err := c.Commit(context.Background(), store, req(1, 1), req(2, 1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "product 2")
}
