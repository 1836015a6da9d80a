package quotes

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/pricing"
	"github.com/mostrador/mostrador/internal/stock"
)

func TestCreateComputesWorkedExample(t *testing.T) {
	env := newTestEnv(t)
	env.db.setReal(1, dec("10"))

	res, err := env.svc.Create(context.Background(), workedExample())
	require.NoError(t, err)

	q := res.Quote
	require.Equal(t, StatusDraft, q.Status)
	require.Len(t, q.Lines, 2)
	requireDecimal(t, "5", q.ClientDiscountPct)
	requireDecimal(t, "0", q.SurchargePct)
	requireDecimal(t, "327.75", q.Total)
	requireDecimal(t, "270.87", pricing.Round2(q.Subtotal))
	requireDecimal(t, "56.88", pricing.Round2(q.Tax))
	requireDecimal(t, "0.21", q.TaxRate)
	require.Equal(t, int64(10), q.CreatedBy)

	requireDecimal(t, "3", env.db.record(1).Committed)
	requireDecimal(t, "1", env.db.record(2).Committed)

	// Product 2 has no physical stock, so the commitment leaves it negative.
	require.Len(t, res.Warnings, 1)
	require.Equal(t, int64(2), res.Warnings[0].ProductID)
	requireDecimal(t, "-1", res.Warnings[0].Available)

	events, err := env.svc.History(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "", events[0].FromState)
	require.Equal(t, string(StatusDraft), events[0].ToState)
	require.Equal(t, "crear", events[0].Action)
	require.Equal(t, 1, env.observer.count("crear/ok"))

	require.Len(t, env.db.audits, 1)
	require.Equal(t, "quote.create", env.db.audits[0].Action)
}

func TestCreateUsesPaymentMethodSurchargeUnlessGiven(t *testing.T) {
	env := newTestEnv(t)
	in := workedExample()
	in.PaymentMethodID = 2

	res, err := env.svc.Create(context.Background(), in)
	require.NoError(t, err)
	requireDecimal(t, "10", res.Quote.SurchargePct)
	requireDecimal(t, "360.525", res.Quote.Total)

	in.SurchargePct = decPtr("0")
	res, err = env.svc.Create(context.Background(), in)
	require.NoError(t, err)
	requireDecimal(t, "0", res.Quote.SurchargePct)
	requireDecimal(t, "327.75", res.Quote.Total)
}

func TestCreateRejectsInvalidInputWithoutWriting(t *testing.T) {
	cases := map[string]struct {
		mutate func(*CreateInput)
		field  string
	}{
		"unknown client": {
			mutate: func(in *CreateInput) { in.ClientID = 99 },
			field:  "clientId",
		},
		"unknown payment method": {
			mutate: func(in *CreateInput) { in.PaymentMethodID = 99 },
			field:  "paymentMethodId",
		},
		"unknown currency": {
			mutate: func(in *CreateInput) { id := int64(42); in.CurrencyID = &id },
			field:  "currencyId",
		},
		"unknown product": {
			mutate: func(in *CreateInput) { in.Lines[1].ProductID = 77 },
			field:  "lineItems[1].productId",
		},
		"no lines": {
			mutate: func(in *CreateInput) { in.Lines = nil },
			field:  "lineItems",
		},
		"zero quantity": {
			mutate: func(in *CreateInput) { in.Lines[0].Quantity = decimal.Zero },
			field:  "lineItems[0].quantity",
		},
		"discount above 100": {
			mutate: func(in *CreateInput) { in.GeneralDiscountPct = decPtr("120") },
			field:  "generalDiscountPct",
		},
		"missing actor": {
			mutate: func(in *CreateInput) { in.ActorID = 0 },
			field:  "actor",
		},
		"line discount with three decimals": {
			mutate: func(in *CreateInput) { in.Lines[0].LineDiscountPct = dec("12.345") },
			field:  "lineItems[0].lineDiscountPct",
		},
		"quantity with five decimals": {
			mutate: func(in *CreateInput) { in.Lines[0].Quantity = dec("1.00001") },
			field:  "lineItems[0].quantity",
		},
		"general discount with three decimals": {
			mutate: func(in *CreateInput) { in.GeneralDiscountPct = decPtr("5.125") },
			field:  "generalDiscountPct",
		},
		"surcharge with three decimals": {
			mutate: func(in *CreateInput) { in.SurchargePct = decPtr("0.001") },
			field:  "surchargePct",
		},
		"adjustment with five decimals": {
			mutate: func(in *CreateInput) { in.Adjustment = decPtr("0.00001") },
			field:  "adjustment",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			in := workedExample()
			tc.mutate(&in)

			_, err := env.svc.Create(context.Background(), in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)

			require.Empty(t, env.db.quotes)
			require.Empty(t, env.db.events)
			require.Empty(t, env.db.movements)
			require.Empty(t, env.db.audits)
		})
	}
}

func TestLockedQuoteFreezesLinesButAcceptsPricingChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.quoteIn(t, StatusLocked)

	_, err := env.svc.Apply(ctx, q.ID, ApplyInput{
		Action:  ActionSave,
		Lines:   []LineInput{{ProductID: 1, Quantity: dec("1")}},
		ActorID: 10,
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, env.observer.count("guardar/invalid_state"))

	stored, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	requireDecimal(t, "3", env.db.record(1).Committed)

	res, err := env.svc.Apply(ctx, q.ID, ApplyInput{
		Action:             ActionSave,
		GeneralDiscountPct: decPtr("10"),
		Adjustment:         decPtr("-4.975"),
		ActorID:            11,
	})
	require.NoError(t, err)
	require.Equal(t, StatusLocked, res.Quote.Status)
	requireDecimal(t, "10", res.Quote.GeneralDiscountPct)
	requireDecimal(t, "290", res.Quote.Total)

	events, err := env.svc.History(ctx, q.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, "locked", last.FromState)
	require.Equal(t, "locked", last.ToState)
	require.Equal(t, "guardar", last.Action)
	require.Equal(t, int64(11), last.ActorID)
}

func TestFinalizeTwiceFailsSecondTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.db.setReal(1, dec("10"))
	env.db.setReal(2, dec("5"))
	q := env.quoteIn(t, StatusLocked)

	res, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionFinalize, ActorID: 10})
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, res.Quote.Status)

	_, err = env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionFinalize, ActorID: 12})
	require.ErrorIs(t, err, ErrInvalidState)

	stored, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, stored.Status)

	events, err := env.svc.History(ctx, q.ID)
	require.NoError(t, err)
	finalized := 0
	for _, ev := range events {
		if ev.Action == string(ActionFinalize) {
			finalized++
			require.Equal(t, "locked", ev.FromState)
			require.Equal(t, "finalized", ev.ToState)
		}
	}
	require.Equal(t, 1, finalized)

	// The sale settles stock exactly once.
	requireDecimal(t, "7", env.db.record(1).Real)
	requireDecimal(t, "0", env.db.record(1).Committed)
	requireDecimal(t, "4", env.db.record(2).Real)
	requireDecimal(t, "0", env.db.record(2).Committed)
}

func TestConcurrentFinalizeSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.db.setReal(1, dec("10"))
	env.db.setReal(2, dec("5"))
	q := env.quoteIn(t, StatusLocked)

	const racers = 4
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: ActionFinalize, ActorID: 10})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidState)
	}
	require.Equal(t, 1, succeeded)
	requireDecimal(t, "7", env.db.record(1).Real)
	requireDecimal(t, "4", env.db.record(2).Real)
}

func TestFinalizeKeepsCapturedUnitPrices(t *testing.T) {
	env := newTestEnv(t)
	q := env.quoteIn(t, StatusLocked)
	p := env.catalog.products[1]
	p.Price = dec("200")
	env.catalog.products[1] = p

	res, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: ActionFinalize, ActorID: 10})
	require.NoError(t, err)
	requireDecimal(t, "327.75", res.Quote.Total)
}

func TestCancelDraftReleasesStockAndRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)
	requireDecimal(t, "3", env.db.record(1).Committed)

	reason := "cliente desistió"
	res, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionCancel, CancelReason: &reason, ActorID: 10})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Quote.Status)

	requireDecimal(t, "0", env.db.record(1).Committed)
	requireDecimal(t, "0", env.db.record(2).Committed)

	events, err := env.svc.History(ctx, q.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, "draft", last.FromState)
	require.Equal(t, "cancelled", last.ToState)
	require.NotNil(t, last.Reason)
	require.Equal(t, reason, *last.Reason)
}

func TestCancelWithoutReasonStoresNoReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.quoteIn(t, StatusLocked)

	blank := "   "
	_, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionCancel, CancelReason: &blank, ActorID: 10})
	require.NoError(t, err)

	events, err := env.svc.History(ctx, q.ID)
	require.NoError(t, err)
	require.Nil(t, events[len(events)-1].Reason)
	requireDecimal(t, "0", env.db.record(1).Committed)
}

func TestIllegalTransitionsLeaveQuoteUnchanged(t *testing.T) {
	statuses := []Status{StatusDraft, StatusLocked, StatusFinalized, StatusCancelled}
	actions := []Action{ActionSave, ActionLock, ActionFinalize, ActionCancel}
	for _, from := range statuses {
		for _, a := range actions {
			if _, ok := transitions[from][a]; ok {
				continue
			}
			t.Run(string(from)+"/"+string(a), func(t *testing.T) {
				env := newTestEnv(t)
				ctx := context.Background()
				q := env.quoteIn(t, from)
				before, err := env.svc.Get(ctx, q.ID)
				require.NoError(t, err)
				eventsBefore, err := env.svc.History(ctx, q.ID)
				require.NoError(t, err)
				movementsBefore := len(env.db.movements)

				_, err = env.svc.Apply(ctx, q.ID, ApplyInput{Action: a, ActorID: 10})
				require.ErrorIs(t, err, ErrInvalidState)

				after, err := env.svc.Get(ctx, q.ID)
				require.NoError(t, err)
				require.Equal(t, before, after)
				eventsAfter, err := env.svc.History(ctx, q.ID)
				require.NoError(t, err)
				require.Equal(t, eventsBefore, eventsAfter)
				require.Len(t, env.db.movements, movementsBefore)
			})
		}
	}
}

func TestStockFailureRollsBackWholeTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)
	before, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	rec1, rec2 := env.db.record(1), env.db.record(2)
	movements := len(env.db.movements)
	events := len(env.db.events)

	// Product 1 is adjusted before the lock on product 3 fails.
	env.db.failLockOn = 3
	_, err = env.svc.Apply(ctx, q.ID, ApplyInput{
		Action: ActionSave,
		Lines: []LineInput{
			{ProductID: 1, Quantity: dec("5")},
			{ProductID: 3, Quantity: dec("1")},
		},
		ActorID: 10,
	})
	require.Error(t, err)
	require.Equal(t, 1, env.observer.count("guardar/error"))

	after, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, rec1, env.db.record(1))
	require.Equal(t, rec2, env.db.record(2))
	require.Len(t, env.db.movements, movements)
	require.Len(t, env.db.events, events)
}

func TestDraftSaveReconcilesCommitments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)
	movements := len(env.db.movements)

	res, err := env.svc.Apply(ctx, q.ID, ApplyInput{
		Action: ActionSave,
		Lines: []LineInput{
			{ProductID: 1, Quantity: dec("1")},
			{ProductID: 3, Quantity: dec("2")},
		},
		ActorID: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Quote.Lines, 2)
	requireDecimal(t, "1", env.db.record(1).Committed)
	requireDecimal(t, "0", env.db.record(2).Committed)
	requireDecimal(t, "2", env.db.record(3).Committed)

	// 100 + 40 at a 5% client discount.
	requireDecimal(t, "133", res.Quote.Total)

	added := env.db.movements[movements:]
	require.Len(t, added, 3)
	kinds := map[int64]stock.MovementKind{}
	for _, mv := range added {
		kinds[mv.ProductID] = mv.Kind
		require.Equal(t, RefModule, mv.RefModule)
		require.Equal(t, q.ID, mv.RefID)
	}
	require.Equal(t, stock.MovementRelease, kinds[1])
	require.Equal(t, stock.MovementRelease, kinds[2])
	require.Equal(t, stock.MovementCommit, kinds[3])
}

func TestSaveWithEmptyLinesIsRejected(t *testing.T) {
	env := newTestEnv(t)
	q := env.createQuote(t)

	_, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: ActionSave, Lines: []LineInput{}, ActorID: 10})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSaveWithoutLinesKeepsCurrentLines(t *testing.T) {
	env := newTestEnv(t)
	q := env.createQuote(t)

	res, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: ActionSave, ClientID: int64Ptr(2), ActorID: 10})
	require.NoError(t, err)
	require.Len(t, res.Quote.Lines, 2)
	require.Equal(t, int64(2), res.Quote.ClientID)
	requireDecimal(t, "0", res.Quote.ClientDiscountPct)
	requireDecimal(t, "345", res.Quote.Total)
	requireDecimal(t, "3", env.db.record(1).Committed)
}

func TestPaymentMethodChangeRederivesSurcharge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)

	res, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionSave, PaymentMethodID: int64Ptr(2), ActorID: 10})
	require.NoError(t, err)
	requireDecimal(t, "10", res.Quote.SurchargePct)

	res, err = env.svc.Apply(ctx, q.ID, ApplyInput{
		Action:          ActionSave,
		PaymentMethodID: int64Ptr(2),
		SurchargePct:    decPtr("3"),
		ActorID:         10,
	})
	require.NoError(t, err)
	requireDecimal(t, "3", res.Quote.SurchargePct)
}

func TestLockAndFinalizeRejectExtraFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)

	_, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionLock, GeneralDiscountPct: decPtr("5"), ActorID: 10})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "generalDiscountPct", verr.Field)

	stored, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)

	q = env.quoteIn(t, StatusLocked)
	reason := "no"
	_, err = env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionFinalize, CancelReason: &reason, ActorID: 10})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSaveRejectsCancelReason(t *testing.T) {
	env := newTestEnv(t)
	q := env.createQuote(t)
	reason := "x"

	_, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: ActionSave, CancelReason: &reason, ActorID: 10})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAuthorizeSeesLockedStateAndAbortsTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.quoteIn(t, StatusLocked)
	denied := errors.New("denied")

	var seen Status
	_, err := env.svc.Apply(ctx, q.ID, ApplyInput{
		Action:  ActionCancel,
		ActorID: 10,
		Authorize: func(from Status) error {
			seen = from
			return denied
		},
	})
	require.ErrorIs(t, err, denied)
	require.Equal(t, StatusLocked, seen)

	stored, err := env.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLocked, stored.Status)
	requireDecimal(t, "3", env.db.record(1).Committed)
}

func TestCreateAcceptsTrailingZerosBeyondColumnScale(t *testing.T) {
	env := newTestEnv(t)
	in := workedExample()
	in.Lines[0].LineDiscountPct = dec("10.0000")
	in.GeneralDiscountPct = decPtr("5.500")

	_, err := env.svc.Create(context.Background(), in)
	require.NoError(t, err)
}

func TestSaveRejectsValuesBeyondColumnScale(t *testing.T) {
	cases := map[string]ApplyInput{
		"generalDiscountPct": {GeneralDiscountPct: decPtr("5.125")},
		"adjustment":         {Adjustment: decPtr("-0.00001")},
	}
	for field, in := range cases {
		t.Run(field, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			q := env.createQuote(t)
			before, err := env.svc.Get(ctx, q.ID)
			require.NoError(t, err)

			in.Action = ActionSave
			in.ActorID = 10
			_, err = env.svc.Apply(ctx, q.ID, in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, field, verr.Field)

			after, err := env.svc.Get(ctx, q.ID)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}
}

func TestIllegalTransitionWinsOverMalformedPayload(t *testing.T) {
	for _, from := range []Status{StatusFinalized, StatusCancelled} {
		t.Run(string(from), func(t *testing.T) {
			env := newTestEnv(t)
			q := env.quoteIn(t, from)

			_, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{
				Action:             ActionSave,
				ActorID:            10,
				GeneralDiscountPct: decPtr("150"),
				Lines:              []LineInput{},
			})
			require.ErrorIs(t, err, ErrInvalidState)
			require.NotErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSaveRefusesHeaderChangesOnClosedQuote(t *testing.T) {
	for _, from := range []Status{StatusFinalized, StatusCancelled} {
		t.Run(string(from), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			q := env.quoteIn(t, from)
			note := "entregar el lunes"

			err := env.db.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				_, err := env.svc.save(ctx, tx, &q, ApplyInput{Action: ActionSave, ActorID: 10, Observation: &note})
				return err
			})
			require.ErrorIs(t, err, ErrInvalidState)

			stored, err := env.svc.Get(ctx, q.ID)
			require.NoError(t, err)
			if stored.Observation != nil {
				require.NotEqual(t, note, *stored.Observation)
			}
		})
	}
}

func TestApplyUnknownQuote(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Apply(context.Background(), 404, ApplyInput{Action: ActionLock, ActorID: 10})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, env.observer.count("lock/not_found"))

	_, err = env.svc.History(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	q := env.createQuote(t)
	_, err := env.svc.Apply(context.Background(), q.ID, ApplyInput{Action: "vender", ActorID: 10})
	require.ErrorIs(t, err, ErrValidation)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.createQuote(t)

	steps := []ApplyInput{
		{Action: ActionSave, GeneralDiscountPct: decPtr("2"), ActorID: 10},
		{Action: ActionSave, Lines: []LineInput{{ProductID: 1, Quantity: dec("2")}}, ActorID: 10},
		{Action: ActionLock, ActorID: 11},
		{Action: ActionSave, Adjustment: decPtr("-1"), ActorID: 11},
		{Action: ActionFinalize, ActorID: 12},
	}

	seen, err := env.svc.History(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	for i, step := range steps {
		_, err := env.svc.Apply(ctx, q.ID, step)
		require.NoError(t, err)

		events, err := env.svc.History(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, events, i+2)
		require.Equal(t, seen, events[:len(seen)])
		seen = events
	}

	for i := 1; i < len(seen); i++ {
		require.True(t, seen[i].At.After(seen[i-1].At))
		require.Equal(t, seen[i-1].ToState, seen[i].FromState)
	}
	require.Equal(t, "finalized", seen[len(seen)-1].ToState)
}

func TestListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createQuote(t)
	env.quoteIn(t, StatusLocked)
	env.quoteIn(t, StatusLocked)

	locked := StatusLocked
	items, total, err := env.svc.List(ctx, ListFilter{Status: &locked})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)
	require.Greater(t, items[0].ID, items[1].ID)

	items, total, err = env.svc.List(ctx, ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 1)
}

func int64Ptr(v int64) *int64 {
	return &v
}

type capturePublisher struct {
	got []notify.Notification
}

func (c *capturePublisher) Publish(ctx context.Context, n notify.Notification) int {
	c.got = append(c.got, n)
	return 1
}

func TestFinalizePublishesNotificationAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	pub := &capturePublisher{}
	env.svc.cfg.Publisher = pub
	ctx := context.Background()
	q := env.quoteIn(t, StatusLocked)
	require.Empty(t, pub.got)

	_, err := env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionFinalize, ActorID: 10})
	require.NoError(t, err)
	require.Len(t, pub.got, 1)
	require.Equal(t, notify.KindQuoteFinalized, pub.got[0].Kind)
	require.Equal(t, "quote:"+strconv.FormatInt(q.ID, 10), pub.got[0].Ref)

	_, err = env.svc.Apply(ctx, q.ID, ApplyInput{Action: ActionFinalize, ActorID: 10})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, pub.got, 1)
}
