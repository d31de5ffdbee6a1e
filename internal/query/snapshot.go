package query

import (
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
)

// Snapshot is a point-in-time copy of the collections the read side works
// on. Its methods never mutate it, and orders or payments whose customer
// is missing from the snapshot are never returned.
type Snapshot struct {
	Customers []customerdomain.Customer
	Orders    []orderdomain.Order
	Payments  []paymentdomain.Payment
}

// Range bounds a time window. A zero From or To leaves that side open; To
// is exclusive.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// DayRange is the calendar day containing now in loc.
func DayRange(now time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Range{From: start, To: start.AddDate(0, 0, 1)}
}

type DashboardStats struct {
	Customers       int             `json:"customers"`
	ActiveCustomers int             `json:"active_customers"`
	PendingBalance  decimal.Decimal `json:"pending_balance"`
	Orders          int             `json:"orders"`
	UnpaidOrders    int             `json:"unpaid_orders"`
	TodaysPayments  int             `json:"todays_payments"`
	TodaysRevenue   decimal.Decimal `json:"todays_revenue"`
	UnseenOrders    int             `json:"unseen_orders"`
}

func (s Snapshot) customerIDs() map[snowflake.ID]struct{} {
	ids := make(map[snowflake.ID]struct{}, len(s.Customers))
	for _, c := range s.Customers {
		ids[c.ID] = struct{}{}
	}
	return ids
}

func (s Snapshot) orders(keep func(orderdomain.Order) bool) []orderdomain.Order {
	known := s.customerIDs()
	out := make([]orderdomain.Order, 0)
	for _, o := range s.Orders {
		if _, ok := known[o.CustomerID]; !ok {
			continue
		}
		if keep == nil || keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (s Snapshot) payments(keep func(paymentdomain.Payment) bool) []paymentdomain.Payment {
	known := s.customerIDs()
	out := make([]paymentdomain.Payment, 0)
	for _, p := range s.Payments {
		if _, ok := known[p.CustomerID]; !ok {
			continue
		}
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// AllOrders returns every order that belongs to a known customer, newest
// first.
func (s Snapshot) AllOrders() []orderdomain.Order {
	return newestOrders(s.orders(nil))
}

func (s Snapshot) OrdersByCustomer(customerID snowflake.ID) []orderdomain.Order {
	return newestOrders(s.orders(func(o orderdomain.Order) bool {
		return o.CustomerID == customerID
	}))
}

func (s Snapshot) OrdersInRange(r Range) []orderdomain.Order {
	return newestOrders(s.orders(func(o orderdomain.Order) bool {
		return r.contains(o.Date)
	}))
}

// UnseenOrderCount counts orders created after since, the viewer's own
// marker. Another viewer's visit does not change it.
func (s Snapshot) UnseenOrderCount(since time.Time) int {
	return len(s.orders(func(o orderdomain.Order) bool {
		return o.CreatedAt.After(since)
	}))
}

func (s Snapshot) RecentOrders(n int) []orderdomain.Order {
	out := s.orders(nil)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, n)
}

// CustomersWithPendingBalance returns customers that still owe money,
// largest balance first.
func (s Snapshot) CustomersWithPendingBalance() []customerdomain.Customer {
	out := make([]customerdomain.Customer, 0)
	for _, c := range s.Customers {
		if c.PendingBalance.IsPositive() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PendingBalance.GreaterThan(out[j].PendingBalance)
	})
	return out
}

func (s Snapshot) TotalPendingBalance() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.Customers {
		total = total.Add(c.PendingBalance)
	}
	return total
}

func (s Snapshot) ActiveCustomers() []customerdomain.Customer {
	out := make([]customerdomain.Customer, 0)
	for _, c := range s.Customers {
		if c.Status == customerdomain.StatusActive {
			out = append(out, c)
		}
	}
	return out
}

// FindCustomerByContact matches phone on its digits and email
// case-insensitively. Phone wins when both are given.
func (s Snapshot) FindCustomerByContact(phone, email string) (customerdomain.Customer, bool) {
	if digits := Digits(phone); digits != "" {
		for _, c := range s.Customers {
			if Digits(c.Phone) == digits {
				return c, true
			}
		}
	}
	if email = strings.TrimSpace(email); email != "" {
		for _, c := range s.Customers {
			if strings.EqualFold(strings.TrimSpace(c.Email), email) {
				return c, true
			}
		}
	}
	return customerdomain.Customer{}, false
}

func (s Snapshot) PaymentsByCustomer(customerID snowflake.ID) []paymentdomain.Payment {
	return newestPayments(s.payments(func(p paymentdomain.Payment) bool {
		return p.CustomerID == customerID
	}))
}

func (s Snapshot) PaymentsInRange(r Range) []paymentdomain.Payment {
	return newestPayments(s.payments(func(p paymentdomain.Payment) bool {
		return r.contains(p.PaymentDate)
	}))
}

func (s Snapshot) TodaysPayments(now time.Time, loc *time.Location) []paymentdomain.Payment {
	return s.PaymentsInRange(DayRange(now, loc))
}

func (s Snapshot) TodaysRevenue(now time.Time, loc *time.Location) decimal.Decimal {
	return sumPaid(s.TodaysPayments(now, loc))
}

func (s Snapshot) CustomerTotalPaid(customerID snowflake.ID) decimal.Decimal {
	return sumPaid(s.PaymentsByCustomer(customerID))
}

func (s Snapshot) RecentPayments(n int) []paymentdomain.Payment {
	return limit(s.PaymentsInRange(Range{}), n)
}

func (s Snapshot) DashboardStats(now time.Time, loc *time.Location, lastSeen time.Time) DashboardStats {
	today := s.TodaysPayments(now, loc)
	unpaid := s.orders(func(o orderdomain.Order) bool {
		return o.Status != orderdomain.StatusPaid
	})
	return DashboardStats{
		Customers:       len(s.Customers),
		ActiveCustomers: len(s.ActiveCustomers()),
		PendingBalance:  s.TotalPendingBalance(),
		Orders:          len(s.orders(nil)),
		UnpaidOrders:    len(unpaid),
		TodaysPayments:  len(today),
		TodaysRevenue:   sumPaid(today),
		UnseenOrders:    s.UnseenOrderCount(lastSeen),
	}
}

// Digits strips everything but 0-9 from a phone number.
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func newestOrders(orders []orderdomain.Order) []orderdomain.Order {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Date.Equal(orders[j].Date) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].Date.After(orders[j].Date)
	})
	return orders
}

func newestPayments(payments []paymentdomain.Payment) []paymentdomain.Payment {
	sort.SliceStable(payments, func(i, j int) bool {
		if payments[i].PaymentDate.Equal(payments[j].PaymentDate) {
			return payments[i].ID > payments[j].ID
		}
		return payments[i].PaymentDate.After(payments[j].PaymentDate)
	})
	return payments
}

func sumPaid(payments []paymentdomain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.AmountPaid)
	}
	return total
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
