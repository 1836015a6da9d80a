package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the transaction-scoped persistence used by Coordinator. Every call must run
// inside the caller's transaction.
type Store interface {
	// LockRecord returns the product's record locked for update, creating an empty
	// record first when none exists.
	LockRecord(ctx context.Context, productID int64) (Record, error)
	SaveRecord(ctx context.Context, rec Record) error
	InsertMovement(ctx context.Context, mv Movement) error
}

// Coordinator adjusts stock counters inside the transaction of the document that
// causes the change. It never refuses a movement for lack of stock.
type Coordinator struct {
	logger *slog.Logger
	now    func() time.Time
	newRef func() uuid.UUID
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger, now: time.Now, newRef: uuid.New}
}

// Commit reserves quantity: committed += q.
func (c *Coordinator) Commit(ctx context.Context, store Store, reqs ...Request) ([]Record, error) {
	return c.applyAll(ctx, store, MovementCommit, reqs)
}

// Release returns a reservation: committed -= q, never below zero.
func (c *Coordinator) Release(ctx context.Context, store Store, reqs ...Request) ([]Record, error) {
	return c.applyAll(ctx, store, MovementRelease, reqs)
}

// Settle closes a reservation: committed -= q and real -= q.
func (c *Coordinator) Settle(ctx context.Context, store Store, reqs ...Request) ([]Record, error) {
	return c.applyAll(ctx, store, MovementSettle, reqs)
}

// Receive adds physical stock: real += q.
func (c *Coordinator) Receive(ctx context.Context, store Store, reqs ...Request) ([]Record, error) {
	return c.applyAll(ctx, store, MovementReceive, reqs)
}

// Reconcile moves the commitments of one document from prev to next. Each product
// sees only its net change: a release when the quantity went down, a commit when it
// went up. Products are visited in id order.
func (c *Coordinator) Reconcile(ctx context.Context, store Store, prev, next []Request) ([]Record, error) {
	before := Aggregate(prev)
	after := Aggregate(next)

	ids := make([]int64, 0, len(before)+len(after))
	refs := make(map[int64]Request, len(before)+len(after))
	for _, r := range append(append([]Request{}, before...), after...) {
		if _, ok := refs[r.ProductID]; !ok {
			ids = append(ids, r.ProductID)
		}
		refs[r.ProductID] = r
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var records []Record
	for _, id := range ids {
		diff := quantityOf(after, id).Sub(quantityOf(before, id))
		if diff.IsZero() {
			continue
		}
		ref := refs[id]
		req := Request{ProductID: id, Quantity: diff.Abs(), RefModule: ref.RefModule, RefID: ref.RefID}
		kind := MovementCommit
		if diff.IsNegative() {
			kind = MovementRelease
		}
		rec, err := c.apply(ctx, store, kind, req)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Aggregate sums requests per product and orders them by product id, the order in
// which record locks are taken.
func Aggregate(reqs []Request) []Request {
	byProduct := make(map[int64]Request, len(reqs))
	for _, r := range reqs {
		cur, ok := byProduct[r.ProductID]
		if !ok {
			byProduct[r.ProductID] = r
			continue
		}
		cur.Quantity = cur.Quantity.Add(r.Quantity)
		byProduct[r.ProductID] = cur
	}
	out := make([]Request, 0, len(byProduct))
	for _, r := range byProduct {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c *Coordinator) applyAll(ctx context.Context, store Store, kind MovementKind, reqs []Request) ([]Record, error) {
	for _, r := range reqs {
		if !r.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, r.ProductID)
		}
	}
	agg := Aggregate(reqs)
	records := make([]Record, 0, len(agg))
	for _, r := range agg {
		rec, err := c.apply(ctx, store, kind, r)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Coordinator) apply(ctx context.Context, store Store, kind MovementKind, req Request) (Record, error) {
	rec, err := store.LockRecord(ctx, req.ProductID)
	if err != nil {
		return Record{}, fmt.Errorf("stock: lock product %d: %w", req.ProductID, err)
	}

	switch kind {
	case MovementCommit:
		rec.Committed = rec.Committed.Add(req.Quantity)
	case MovementRelease:
		rec.Committed = c.decreaseCommitted(rec, req)
	case MovementSettle:
		rec.Committed = c.decreaseCommitted(rec, req)
		rec.Real = rec.Real.Sub(req.Quantity)
	case MovementReceive:
		rec.Real = rec.Real.Add(req.Quantity)
	default:
		return Record{}, fmt.Errorf("stock: unknown movement %q", kind)
	}
	rec.UpdatedAt = c.now()

	if err := store.SaveRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("stock: save product %d: %w", req.ProductID, err)
	}
	mv := Movement{
		Reference:      c.newRef(),
		ProductID:      req.ProductID,
		Kind:           kind,
		Quantity:       req.Quantity,
		RealAfter:      rec.Real,
		CommittedAfter: rec.Committed,
		RefModule:      req.RefModule,
		RefID:          req.RefID,
		CreatedAt:      rec.UpdatedAt,
	}
	if err := store.InsertMovement(ctx, mv); err != nil {
		return Record{}, fmt.Errorf("stock: movement product %d: %w", req.ProductID, err)
	}
	if rec.Overcommitted() {
		c.logger.Warn("stock overcommitted",
			slog.Int64("product_id", rec.ProductID),
			slog.String("real", rec.Real.String()),
			slog.String("committed", rec.Committed.String()))
	}
	return rec, nil
}

func (c *Coordinator) decreaseCommitted(rec Record, req Request) decimal.Decimal {
	next := rec.Committed.Sub(req.Quantity)
	if next.IsNegative() {
		c.logger.Warn("stock release exceeds commitment",
			slog.Int64("product_id", rec.ProductID),
			slog.String("committed", rec.Committed.String()),
			slog.String("quantity", req.Quantity.String()),
			slog.String("ref_module", req.RefModule),
			slog.Int64("ref_id", req.RefID))
		return decimal.Zero
	}
	return next
}

func quantityOf(reqs []Request, productID int64) decimal.Decimal {
	for _, r := range reqs {
		if r.ProductID == productID {
			return r.Quantity
		}
	}
	return decimal.Zero
}
