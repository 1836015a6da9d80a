package quotes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// memoryDB is an in-memory Repository. WithTx restores a snapshot when fn fails, so
// tests can assert that failed operations leave no trace.
type memoryDB struct {
	mu          sync.Mutex
	nextQuoteID int64
	nextLineID  int64
	nextEventID int64
	quotes      map[int64]Quote
	records     map[int64]stock.Record
	movements   []stock.Movement
	events      []history.Event
	audits      []shared.AuditLog
	failLockOn  int64
}

func newMemoryDB() *memoryDB {
	return &memoryDB{quotes: make(map[int64]Quote), records: make(map[int64]stock.Record)}
}

type memorySnapshot struct {
	nextQuoteID, nextLineID, nextEventID int64
	quotes                               map[int64]Quote
	records                              map[int64]stock.Record
	movements                            []stock.Movement
	events                               []history.Event
	audits                               []shared.AuditLog
}

func (db *memoryDB) snapshot() memorySnapshot {
	quotes := make(map[int64]Quote, len(db.quotes))
	for id, q := range db.quotes {
		quotes[id] = copyQuote(q)
	}
	records := make(map[int64]stock.Record, len(db.records))
	for id, r := range db.records {
		records[id] = r
	}
	return memorySnapshot{
		nextQuoteID: db.nextQuoteID,
		nextLineID:  db.nextLineID,
		nextEventID: db.nextEventID,
		quotes:      quotes,
		records:     records,
		movements:   append([]stock.Movement(nil), db.movements...),
		events:      append([]history.Event(nil), db.events...),
		audits:      append([]shared.AuditLog(nil), db.audits...),
	}
}

func (db *memoryDB) restore(s memorySnapshot) {
	db.nextQuoteID, db.nextLineID, db.nextEventID = s.nextQuoteID, s.nextLineID, s.nextEventID
	db.quotes = s.quotes
	db.records = s.records
	db.movements = s.movements
	db.events = s.events
	db.audits = s.audits
}

func (db *memoryDB) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := db.snapshot()
	if err := fn(ctx, &memoryTx{db: db}); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *memoryDB) Get(ctx context.Context, id int64) (Quote, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	q, ok := db.quotes[id]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return copyQuote(q), nil
}

func (db *memoryDB) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var matches []Quote
	for _, q := range db.quotes {
		if filter.Status != nil && q.Status != *filter.Status {
			continue
		}
		if filter.ClientID > 0 && q.ClientID != filter.ClientID {
			continue
		}
		matches = append(matches, copyQuote(q))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID > matches[j].ID })
	total := len(matches)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []Quote{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func (db *memoryDB) ListEvents(ctx context.Context, quoteID int64) ([]history.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []history.Event
	for _, ev := range db.events {
		if ev.QuoteID == quoteID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

func (db *memoryDB) record(productID int64) stock.Record {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.records[productID]
}

func (db *memoryDB) setReal(productID int64, real decimal.Decimal) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.records[productID] = stock.Record{ProductID: productID, Real: real, Committed: decimal.Zero}
}

type memoryTx struct {
	db *memoryDB
}

func (tx *memoryTx) LockRecord(ctx context.Context, productID int64) (stock.Record, error) {
	if tx.db.failLockOn == productID {
		return stock.Record{}, errors.New("lock not available")
	}
	rec, ok := tx.db.records[productID]
	if !ok {
		rec = stock.Record{ProductID: productID, Real: decimal.Zero, Committed: decimal.Zero}
		tx.db.records[productID] = rec
	}
	return rec, nil
}

func (tx *memoryTx) SaveRecord(ctx context.Context, rec stock.Record) error {
	tx.db.records[rec.ProductID] = rec
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv stock.Movement) error {
	tx.db.movements = append(tx.db.movements, mv)
	return nil
}

func (tx *memoryTx) InsertEvent(ctx context.Context, ev history.Event) (int64, error) {
	tx.db.nextEventID++
	ev.ID = tx.db.nextEventID
	tx.db.events = append(tx.db.events, ev)
	return ev.ID, nil
}

func (tx *memoryTx) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	tx.db.nextQuoteID++
	q.ID = tx.db.nextQuoteID
	q.Lines = nil
	tx.db.quotes[q.ID] = q
	return q.ID, nil
}

func (tx *memoryTx) GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error) {
	q, ok := tx.db.quotes[id]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return copyQuote(q), nil
}

func (tx *memoryTx) UpdateQuote(ctx context.Context, q Quote) error {
	stored, ok := tx.db.quotes[q.ID]
	if !ok {
		return ErrNotFound
	}
	q.Lines = stored.Lines
	tx.db.quotes[q.ID] = q
	return nil
}

func (tx *memoryTx) ReplaceLines(ctx context.Context, quoteID int64, lines []Line) ([]Line, error) {
	q, ok := tx.db.quotes[quoteID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		tx.db.nextLineID++
		l.ID = tx.db.nextLineID
		l.QuoteID = quoteID
		out = append(out, l)
	}
	q.Lines = append([]Line(nil), out...)
	tx.db.quotes[quoteID] = q
	return out, nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	tx.db.audits = append(tx.db.audits, log)
	return nil
}

func copyQuote(q Quote) Quote {
	q.Lines = append([]Line(nil), q.Lines...)
	return q
}

type fakeCatalog struct {
	clients    map[int64]catalog.Client
	payments   map[int64]catalog.PaymentMethod
	currencies map[int64]catalog.Currency
	products   map[int64]catalog.Product
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		clients: map[int64]catalog.Client{
			1: {ID: 1, Name: "Ferretería Sur", Tier: "mayorista", TierDiscountPct: dec("5")},
			2: {ID: 2, Name: "Consumidor final", Tier: "minorista", TierDiscountPct: decimal.Zero},
		},
		payments: map[int64]catalog.PaymentMethod{
			1: {ID: 1, Name: "Efectivo", SurchargePct: decimal.Zero},
			2: {ID: 2, Name: "Tarjeta", SurchargePct: dec("10")},
		},
		currencies: map[int64]catalog.Currency{
			1: {ID: 1, Code: "ARS", Name: "Peso", Rate: dec("1")},
		},
		products: map[int64]catalog.Product{
			1: {ID: 1, SKU: "TOR-01", Name: "Tornillo", Price: dec("100"), IsActive: true},
			2: {ID: 2, SKU: "TUE-01", Name: "Tuerca", Price: dec("50"), IsActive: true},
			3: {ID: 3, SKU: "ARA-01", Name: "Arandela", Price: dec("20"), IsActive: true},
		},
	}
}

func (c *fakeCatalog) GetClient(ctx context.Context, id int64) (catalog.Client, error) {
	if v, ok := c.clients[id]; ok {
		return v, nil
	}
	return catalog.Client{}, catalog.ErrNotFound
}

func (c *fakeCatalog) GetPaymentMethod(ctx context.Context, id int64) (catalog.PaymentMethod, error) {
	if v, ok := c.payments[id]; ok {
		return v, nil
	}
	return catalog.PaymentMethod{}, catalog.ErrNotFound
}

func (c *fakeCatalog) GetCurrency(ctx context.Context, id int64) (catalog.Currency, error) {
	if v, ok := c.currencies[id]; ok {
		return v, nil
	}
	return catalog.Currency{}, catalog.ErrNotFound
}

func (c *fakeCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]catalog.Product, error) {
	out := make(map[int64]catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveQuoteTransition(action, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[action+"/"+result]++
}

func (o *countingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

type testEnv struct {
	svc      *Service
	db       *memoryDB
	catalog  *fakeCatalog
	observer *countingObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newMemoryDB()
	cat := newFakeCatalog()
	observer := &countingObserver{}
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	svc := NewService(db, cat, stock.NewCoordinator(nil), history.NewRecorder(db, clock),
		ServiceConfig{TaxRate: dec("0.21")}, nil, observer)
	svc.now = clock
	return &testEnv{svc: svc, db: db, catalog: cat, observer: observer}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// workedExample is three units at 100 and one at 50 with a 10% line discount for a
// client with a 5% tier discount.
func workedExample() CreateInput {
	return CreateInput{
		ClientID:        1,
		PaymentMethodID: 1,
		Lines: []LineInput{
			{ProductID: 1, Quantity: dec("3"), LineDiscountPct: decimal.Zero},
			{ProductID: 2, Quantity: dec("1"), LineDiscountPct: dec("10")},
		},
		ActorID: 10,
	}
}

func (e *testEnv) createQuote(t *testing.T) Quote {
	t.Helper()
	res, err := e.svc.Create(context.Background(), workedExample())
	require.NoError(t, err)
	return res.Quote
}

// quoteIn returns a quote that has reached status through legal actions.
func (e *testEnv) quoteIn(t *testing.T, status Status) Quote {
	t.Helper()
	q := e.createQuote(t)
	var path []Action
	switch status {
	case StatusLocked:
		path = []Action{ActionLock}
	case StatusFinalized:
		path = []Action{ActionLock, ActionFinalize}
	case StatusCancelled:
		path = []Action{ActionCancel}
	}
	for _, a := range path {
		res, err := e.svc.Apply(context.Background(), q.ID, ApplyInput{Action: a, ActorID: 10})
		require.NoError(t, err)
		q = res.Quote
	}
	require.Equal(t, status, q.Status)
	return q
}
