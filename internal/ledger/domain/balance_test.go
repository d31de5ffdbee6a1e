package domain_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func zeroAggregate() domain.Aggregate {
	return domain.Aggregate{
		TotalSpent:     decimal.Zero,
		TotalPaid:      decimal.Zero,
		PendingBalance: decimal.Zero,
	}
}

// book is a single customer's state driven only through the pure rules.
type book struct {
	agg      domain.Aggregate
	orders   []domain.OrderState
	payments []domain.PaymentState
	nextID   snowflake.ID
	now      time.Time
}

func newBook() *book {
	return &book{
		agg:    zeroAggregate(),
		nextID: 1,
		now:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (b *book) id() snowflake.ID {
	id := b.nextID
	b.nextID++
	return id
}

func (b *book) order(t *testing.T, total string) domain.OrderState {
	t.Helper()
	b.now = b.now.Add(time.Minute)
	agg, order, err := domain.NewOrder(b.agg, b.id(), dec(total), b.now)
	require.NoError(t, err)
	b.agg = agg
	b.orders = append(b.orders, order)
	return order
}

func (b *book) pay(t *testing.T, amount string, orderID *snowflake.ID) domain.PaymentOutcome {
	t.Helper()
	id := b.id()
	out, err := domain.ApplyPayment(b.agg, b.orders, domain.PaymentInput{ID: id, Amount: dec(amount), OrderID: orderID})
	require.NoError(t, err)
	b.agg = out.Aggregate
	b.replace(out.Orders)
	b.payments = append(b.payments, domain.PaymentState{
		ID:          id,
		OrderID:     orderID,
		Amount:      dec(amount),
		Allocations: out.Allocations,
	})
	return out
}

func (b *book) remove(orderID snowflake.ID) {
	var deleted domain.OrderState
	others := make([]domain.OrderState, 0, len(b.orders))
	for _, o := range b.orders {
		if o.ID == orderID {
			deleted = o
			continue
		}
		others = append(others, o)
	}
	var linked, kept []domain.PaymentState
	for _, p := range b.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			linked = append(linked, p)
			continue
		}
		kept = append(kept, p)
	}

	out := domain.DeleteOrder(b.agg, deleted, others, linked)
	b.agg = out.Aggregate
	b.orders = others
	b.replace(out.Orders)
	b.payments = kept
}

func (b *book) replace(changed []domain.OrderState) {
	for _, c := range changed {
		for i := range b.orders {
			if b.orders[i].ID == c.ID {
				b.orders[i] = c
			}
		}
	}
}

func (b *book) sumRemaining() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range b.orders {
		if o.Status != domain.OrderStatusPaid {
			sum = sum.Add(o.RemainingBalance)
		}
	}
	return sum
}

func TestNewOrderScenario(t *testing.T) {
	b := newBook()
	order := b.order(t, "100")

	assert.True(t, b.agg.PendingBalance.Equal(dec("100")))
	assert.Equal(t, int64(1), b.agg.TotalOrders)
	assert.True(t, b.agg.TotalSpent.Equal(dec("100")))
	assert.Equal(t, domain.OrderStatusUnpaid, order.Status)
	assert.True(t, order.RemainingBalance.Equal(dec("100")))
	assert.True(t, order.PaidAmount.IsZero())
}

func TestPaymentScenarios(t *testing.T) {
	b := newBook()
	order := b.order(t, "100")

	first := b.pay(t, "60", nil)
	assert.True(t, first.PreviousBalance.Equal(dec("100")))
	assert.True(t, first.NewBalance.Equal(dec("40")))
	assert.True(t, b.agg.PendingBalance.Equal(dec("40")))
	assert.Equal(t, domain.OrderStatusPartiallyPaid, b.orders[0].Status)

	second := b.pay(t, "40", &order.ID)
	assert.True(t, second.PreviousBalance.Equal(dec("40")))
	assert.True(t, second.NewBalance.IsZero())
	assert.True(t, b.agg.PendingBalance.IsZero())
	assert.Equal(t, domain.OrderStatusPaid, b.orders[0].Status)
	assert.True(t, b.orders[0].PaidAmount.Equal(dec("100")))
	assert.True(t, b.agg.TotalPaid.Equal(dec("100")))
}

func TestPaymentClampsAtZero(t *testing.T) {
	b := newBook()
	b.order(t, "100")
	b.pay(t, "60", nil)

	out := b.pay(t, "1000", nil)
	assert.True(t, out.PreviousBalance.Equal(dec("40")))
	assert.True(t, out.NewBalance.IsZero())
	assert.False(t, b.agg.PendingBalance.IsNegative())
	require.Len(t, out.Allocations, 1)
	assert.True(t, out.Allocations[0].Amount.Equal(dec("40")))
}

func TestPaymentRejectsNonPositiveAmount(t *testing.T) {
	b := newBook()
	b.order(t, "100")

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := domain.ApplyPayment(b.agg, b.orders, domain.PaymentInput{ID: 99, Amount: dec(amount)})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, amount)
	}
}

func TestPaymentRejectsForeignOrder(t *testing.T) {
	b := newBook()
	b.order(t, "100")

	foreign := snowflake.ID(424242)
	_, err := domain.ApplyPayment(b.agg, b.orders, domain.PaymentInput{ID: 99, Amount: dec("10"), OrderID: &foreign})
	assert.ErrorIs(t, err, domain.ErrOrderNotOwned)
}

func TestLinkedPaymentSpillsOverOldestFirst(t *testing.T) {
	b := newBook()
	oldest := b.order(t, "30")
	middle := b.order(t, "50")
	newest := b.order(t, "20")

	out := b.pay(t, "35", &newest.ID)
	require.Len(t, out.Allocations, 2)
	assert.Equal(t, newest.ID, out.Allocations[0].OrderID)
	assert.True(t, out.Allocations[0].Amount.Equal(dec("20")))
	assert.Equal(t, oldest.ID, out.Allocations[1].OrderID)
	assert.True(t, out.Allocations[1].Amount.Equal(dec("15")))

	assert.True(t, b.agg.PendingBalance.Equal(dec("65")))
	assert.True(t, b.sumRemaining().Equal(b.agg.PendingBalance))
	for _, o := range b.orders {
		if o.ID == middle.ID {
			assert.Equal(t, domain.OrderStatusUnpaid, o.Status)
		}
	}
}

func TestModifyOrderKeepsPaidAmount(t *testing.T) {
	order := domain.OrderState{
		ID:               1,
		Total:            dec("100"),
		PaidAmount:       dec("60"),
		RemainingBalance: dec("40"),
		Status:           domain.OrderStatusPartiallyPaid,
	}

	smaller, err := domain.ModifyOrder(order, dec("50"))
	require.NoError(t, err)
	assert.True(t, smaller.RemainingBalance.IsZero())
	assert.Equal(t, domain.OrderStatusPaid, smaller.Status)

	larger, err := domain.ModifyOrder(order, dec("150"))
	require.NoError(t, err)
	assert.True(t, larger.RemainingBalance.Equal(dec("90")))
	assert.Equal(t, domain.OrderStatusPartiallyPaid, larger.Status)

	_, err = domain.ModifyOrder(order, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDeleteOrderIsReversible(t *testing.T) {
	b := newBook()
	b.order(t, "80")
	b.pay(t, "30", nil)
	before := b.agg

	extra := b.order(t, "45")
	b.pay(t, "70", &extra.ID)
	b.remove(extra.ID)

	rebuilt := domain.Rebuild(b.orders, b.payments)
	assert.True(t, rebuilt.PendingBalance.Equal(before.PendingBalance), "pending %s want %s", rebuilt.PendingBalance, before.PendingBalance)
	assert.True(t, rebuilt.Equal(b.agg), "incremental %+v rebuilt %+v", b.agg, rebuilt)
	assert.True(t, b.agg.Equal(before), "after %+v before %+v", b.agg, before)
}

func TestSubtotal(t *testing.T) {
	total, err := domain.Subtotal([]domain.Line{
		{Price: dec("12.50"), Quantity: 2},
		{Price: dec("3.333"), Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "35.00", total.StringFixed(2))

	_, err = domain.Subtotal(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidItems)
	_, err = domain.Subtotal([]domain.Line{{Price: dec("1"), Quantity: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = domain.Subtotal([]domain.Line{{Price: dec("0"), Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestCompareReportsDrift(t *testing.T) {
	want := domain.Aggregate{TotalOrders: 2, TotalSpent: dec("10"), TotalPaid: dec("4"), PendingBalance: dec("6")}
	assert.Nil(t, domain.Compare(1, want, want))

	got := want
	got.PendingBalance = dec("7")
	got.TotalOrders = 3
	drift := domain.Compare(1, want, got)
	require.NotNil(t, drift)
	require.Len(t, drift.Fields, 2)
	assert.Equal(t, "total_orders", drift.Fields[0].Field)
	assert.Equal(t, "pending_balance", drift.Fields[1].Field)
	assert.Contains(t, drift.Error(), "pending_balance expected=6.00 actual=7.00")
}

// TestIncrementalMatchesRebuild drives random sequences of orders,
// payments and deletions and checks the running aggregate never drifts
// from a from-scratch rebuild.
func TestIncrementalMatchesRebuild(t *testing.T) {
	rng := rand.New(rand.NewSource(20260101))

	for run := 0; run < 200; run++ {
		b := newBook()
		for step := 0; step < 40; step++ {
			switch op := rng.Intn(10); {
			case op < 4 || len(b.orders) == 0:
				b.order(t, decimal.NewFromInt(int64(rng.Intn(500)+1)).String())
			case op < 8:
				amount := decimal.NewFromInt(int64(rng.Intn(300) + 1)).String()
				var link *snowflake.ID
				if rng.Intn(2) == 0 {
					id := b.orders[rng.Intn(len(b.orders))].ID
					link = &id
				}
				prev := b.agg.PendingBalance
				out := b.pay(t, amount, link)
				if out.NewBalance.IsNegative() {
					t.Fatalf("run %d step %d: balance went negative from %s", run, step, prev)
				}
			default:
				b.remove(b.orders[rng.Intn(len(b.orders))].ID)
			}

			if b.agg.PendingBalance.IsNegative() {
				t.Fatalf("run %d step %d: negative pending %s", run, step, b.agg.PendingBalance)
			}
			if !b.agg.PendingBalance.Equal(b.sumRemaining()) {
				t.Fatalf("run %d step %d: pending %s != remaining %s", run, step, b.agg.PendingBalance, b.sumRemaining())
			}
			rebuilt := domain.Rebuild(b.orders, b.payments)
			if !rebuilt.Equal(b.agg) {
				t.Fatalf("run %d step %d: incremental %+v rebuilt %+v", run, step, b.agg, rebuilt)
			}
		}
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := domain.Invalid("items[0].quantity", domain.ErrInvalidQuantity)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, "items[0].quantity: invalid_quantity", err.Error())
	assert.True(t, domain.IsValidation(domain.ErrOrderNotOwned))
	assert.False(t, domain.IsValidation(domain.ErrConflict))
}
