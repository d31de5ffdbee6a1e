package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for every amount.
const MoneyPlaces = 2

// Money normalizes an amount to MoneyPlaces.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Remaining is what is still owed on an order, never negative.
func Remaining(total, paid decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, total.Sub(paid))
}

// ClampedBalance is the balance left after a payment, never negative.
func ClampedBalance(previous, amount decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, previous.Sub(amount))
}

// StatusFor derives the order status from the amount paid against total.
func StatusFor(paid, total decimal.Decimal) OrderStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return OrderStatusPaid
	case paid.IsPositive():
		return OrderStatusPartiallyPaid
	default:
		return OrderStatusUnpaid
	}
}

// Subtotal sums price*quantity over the given lines.
func Subtotal(lines []Line) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, ErrInvalidItems
	}
	sum := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return decimal.Zero, ErrInvalidQuantity
		}
		if !line.Price.IsPositive() {
			return decimal.Zero, ErrInvalidPrice
		}
		sum = sum.Add(line.Price.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return Money(sum), nil
}

// Line is a priced quantity on an order.
type Line struct {
	Price    decimal.Decimal
	Quantity int64
}

// NewOrder books a freshly created unpaid order against the customer.
func NewOrder(agg Aggregate, id snowflake.ID, total decimal.Decimal, date time.Time) (Aggregate, OrderState, error) {
	total = Money(total)
	if !total.IsPositive() {
		return agg, OrderState{}, ErrInvalidAmount
	}

	order := OrderState{
		ID:               id,
		Total:            total,
		PaidAmount:       decimal.Zero,
		RemainingBalance: total,
		Status:           OrderStatusUnpaid,
		Date:             date,
	}

	agg.PendingBalance = agg.PendingBalance.Add(total)
	agg.TotalOrders++
	agg.TotalSpent = agg.TotalSpent.Add(total)
	return agg, order, nil
}

// ApplyPayment clamps the customer balance and spreads the reduction over
// the customer's open orders. A linked order is served first; whatever it
// cannot absorb goes to the remaining open orders, oldest first.
func ApplyPayment(agg Aggregate, orders []OrderState, in PaymentInput) (PaymentOutcome, error) {
	amount := Money(in.Amount)
	if !amount.IsPositive() {
		return PaymentOutcome{}, ErrInvalidAmount
	}

	queue := make([]OrderState, len(orders))
	copy(queue, orders)
	sortFIFO(queue)

	if in.OrderID != nil {
		idx := indexOf(queue, *in.OrderID)
		if idx < 0 {
			return PaymentOutcome{}, ErrOrderNotOwned
		}
		linked := queue[idx]
		queue = append(append([]OrderState{linked}, queue[:idx]...), queue[idx+1:]...)
	}

	previous := agg.PendingBalance
	newBalance := ClampedBalance(previous, amount)
	left := previous.Sub(newBalance)

	out := PaymentOutcome{
		PreviousBalance: previous,
		NewBalance:      newBalance,
	}
	for _, order := range queue {
		if !left.IsPositive() {
			break
		}
		if !order.Open() {
			continue
		}
		applied := decimal.Min(left, order.RemainingBalance)
		order.PaidAmount = order.PaidAmount.Add(applied)
		order.RemainingBalance = Remaining(order.Total, order.PaidAmount)
		order.Status = StatusFor(order.PaidAmount, order.Total)
		left = left.Sub(applied)

		out.Orders = append(out.Orders, order)
		out.Allocations = append(out.Allocations, Allocation{
			PaymentID: in.ID,
			OrderID:   order.ID,
			Amount:    applied,
		})
	}

	agg.PendingBalance = newBalance
	agg.TotalPaid = agg.TotalPaid.Add(amount)
	out.Aggregate = agg
	return out, nil
}

// ModifyOrder re-prices an order while keeping what was already paid.
func ModifyOrder(order OrderState, total decimal.Decimal) (OrderState, error) {
	total = Money(total)
	if !total.IsPositive() {
		return order, ErrInvalidAmount
	}
	order.Total = total
	order.RemainingBalance = Remaining(total, order.PaidAmount)
	order.Status = StatusFor(order.PaidAmount, total)
	return order, nil
}

// DeleteOrder removes an order from the customer's books. Payments linked
// to the order go with it, and whatever those payments paid on other
// orders is owed again.
func DeleteOrder(agg Aggregate, deleted OrderState, others []OrderState, linked []PaymentState) DeleteOutcome {
	agg.PendingBalance = agg.PendingBalance.Sub(deleted.RemainingBalance)
	agg.TotalOrders--
	agg.TotalSpent = agg.TotalSpent.Sub(deleted.Total)

	byID := make(map[snowflake.ID]int, len(others))
	for i, o := range others {
		byID[o.ID] = i
	}
	touched := make(map[snowflake.ID]OrderState)

	out := DeleteOutcome{}
	for _, payment := range linked {
		out.PaymentIDs = append(out.PaymentIDs, payment.ID)
		agg.TotalPaid = agg.TotalPaid.Sub(payment.Amount)
		for _, alloc := range payment.Allocations {
			if alloc.OrderID == deleted.ID {
				continue
			}
			idx, ok := byID[alloc.OrderID]
			if !ok {
				continue
			}
			order, seen := touched[alloc.OrderID]
			if !seen {
				order = others[idx]
			}
			before := order.RemainingBalance
			order.PaidAmount = decimal.Max(decimal.Zero, order.PaidAmount.Sub(alloc.Amount))
			order.RemainingBalance = Remaining(order.Total, order.PaidAmount)
			order.Status = StatusFor(order.PaidAmount, order.Total)
			agg.PendingBalance = agg.PendingBalance.Add(order.RemainingBalance.Sub(before))
			touched[alloc.OrderID] = order
		}
	}

	for _, o := range others {
		if order, ok := touched[o.ID]; ok {
			out.Orders = append(out.Orders, order)
		}
	}

	agg.PendingBalance = decimal.Max(decimal.Zero, agg.PendingBalance)
	out.Aggregate = agg
	return out
}

// Rebuild recomputes the customer aggregate from its full history.
func Rebuild(orders []OrderState, payments []PaymentState) Aggregate {
	agg := Aggregate{
		TotalOrders:    int64(len(orders)),
		TotalSpent:     decimal.Zero,
		TotalPaid:      decimal.Zero,
		PendingBalance: decimal.Zero,
	}
	for _, o := range orders {
		agg.TotalSpent = agg.TotalSpent.Add(o.Total)
		if o.Status != OrderStatusPaid {
			agg.PendingBalance = agg.PendingBalance.Add(o.RemainingBalance)
		}
	}
	for _, p := range payments {
		agg.TotalPaid = agg.TotalPaid.Add(p.Amount)
	}
	return agg
}

func sortFIFO(orders []OrderState) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Date.Equal(orders[j].Date) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].Date.Before(orders[j].Date)
	})
}

func indexOf(orders []OrderState, id snowflake.ID) int {
	for i, o := range orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
