package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/balancebook/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	productdomain "github.com/smallbiznis/balancebook/internal/product/domain"
	"github.com/smallbiznis/balancebook/internal/ratelimit"
	"github.com/smallbiznis/balancebook/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errStaleVersion means another writer bumped the customer row first.
var errStaleVersion = errors.New("stale customer version")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Settings   *config.LedgerSettingsHolder
	Customers  customerdomain.Repository
	Orders     orderdomain.Repository
	Payments   paymentdomain.Repository
	Products   productdomain.Repository
	Clock      clock.Clock          `optional:"true"`
	Locker     ratelimit.Locker     `optional:"true"`
	Publisher  changefeed.Publisher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type ledgerService struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.LedgerConfig
	settings   *config.LedgerSettingsHolder
	customers  customerdomain.Repository
	orders     orderdomain.Repository
	payments   paymentdomain.Repository
	products   productdomain.Repository
	clock      clock.Clock
	locker     ratelimit.Locker
	publisher  changefeed.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) Service {
	return newService(p)
}

func newService(p Params) *ledgerService {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	settings := p.Settings
	if settings == nil {
		settings = config.NewStaticLedgerSettings(config.DefaultLedgerSettings())
	}
	cfg := p.Cfg.Ledger
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &ledgerService{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		cfg:        cfg,
		settings:   settings,
		customers:  p.Customers,
		orders:     p.Orders,
		payments:   p.Payments,
		products:   p.Products,
		clock:      clk,
		locker:     p.Locker,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// ApplyNewOrder books a new unpaid order and raises the customer's
// pending balance by its total.
func (s *ledgerService) ApplyNewOrder(ctx context.Context, req NewOrderRequest) (OrderResult, error) {
	customerID, err := parseID(req.CustomerID, ledgerdomain.ErrInvalidCustomer, "customer_id")
	if err != nil {
		return OrderResult{}, err
	}
	items, subtotal, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return OrderResult{}, err
	}
	fee := ledgerdomain.Money(s.settings.Get().Fee())

	now := s.clock.Now()
	date := now
	if req.Date != nil {
		if req.Date.IsZero() {
			return OrderResult{}, ledgerdomain.Invalid("date", ledgerdomain.ErrInvalidDate)
		}
		date = req.Date.UTC()
	}

	var result OrderResult
	customer, err := s.writeCustomer(ctx, "new_order", customerID, func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error) {
		agg, state, err := ledgerdomain.NewOrder(aggregateOf(c), s.genID.Generate(), subtotal.Add(fee), date)
		if err != nil {
			return agg, err
		}

		order := orderdomain.Order{
			ID:                     state.ID,
			OrderNumber:            orderdomain.NewOrderNumber(now),
			CustomerID:             customerID,
			Items:                  datatypes.NewJSONSlice(items),
			Subtotal:               subtotal,
			ShippingFee:            fee,
			PreviousPendingBalance: c.PendingBalance,
			TotalWithPending:       state.Total.Add(c.PendingBalance),
			Notes:                  strings.TrimSpace(req.Notes),
			Date:                   date,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		order.Apply(state)
		if err := s.orders.Insert(ctx, tx, &order); err != nil {
			return agg, fmt.Errorf("insert order: %w", err)
		}
		result.Order = order
		return agg, nil
	})
	s.record(ctx, "new_order", result.Order.Total, err)
	if err != nil {
		return OrderResult{}, err
	}
	result.Customer = customer

	s.publish(ctx,
		changefeed.Event{Collection: changefeed.Orders, Op: "create", ID: result.Order.ID.String()},
		changefeed.Event{Collection: changefeed.Customers, Op: "update", ID: customerID.String()},
	)
	s.log.Info("order booked",
		zap.String("customer_id", customerID.String()),
		zap.String("order_id", result.Order.ID.String()),
		zap.String("total", result.Order.Total.StringFixed(2)),
	)
	return result, nil
}

// ApplyPayment records a payment, clamps the pending balance at zero and
// spreads the reduction over the customer's open orders.
func (s *ledgerService) ApplyPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	customerID, err := parseID(req.CustomerID, ledgerdomain.ErrInvalidCustomer, "customer_id")
	if err != nil {
		return PaymentResult{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return PaymentResult{}, ledgerdomain.Invalid("amount", ledgerdomain.ErrInvalidAmount)
	}
	amount = ledgerdomain.Money(amount)
	if !amount.IsPositive() {
		return PaymentResult{}, ledgerdomain.Invalid("amount", ledgerdomain.ErrInvalidAmount)
	}
	method, ok := s.settings.Get().PaymentMethod(req.Method)
	if !ok {
		return PaymentResult{}, ledgerdomain.Invalid("payment_method", ledgerdomain.ErrInvalidMethod)
	}
	var linked *snowflake.ID
	if strings.TrimSpace(req.OrderID) != "" {
		orderID, err := parseID(req.OrderID, ledgerdomain.ErrInvalidOrder, "order_id")
		if err != nil {
			return PaymentResult{}, err
		}
		linked = &orderID
	}

	now := s.clock.Now()
	paidAt := now
	if req.Date != nil && !req.Date.IsZero() {
		paidAt = req.Date.UTC()
	}

	var result PaymentResult
	customer, err := s.writeCustomer(ctx, "payment", customerID, func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error) {
		result = PaymentResult{}
		agg := aggregateOf(c)

		orders, err := s.orders.ListByCustomer(ctx, tx, customerID)
		if err != nil {
			return agg, fmt.Errorf("load orders: %w", err)
		}
		states := make([]ledgerdomain.OrderState, 0, len(orders))
		byID := make(map[snowflake.ID]orderdomain.Order, len(orders))
		for _, o := range orders {
			states = append(states, o.State())
			byID[o.ID] = o
		}

		paymentID := s.genID.Generate()
		out, err := ledgerdomain.ApplyPayment(agg, states, ledgerdomain.PaymentInput{ID: paymentID, Amount: amount, OrderID: linked})
		if err != nil {
			return agg, ledgerdomain.Invalid("order_id", err)
		}

		payment := paymentdomain.Payment{
			ID:              paymentID,
			CustomerID:      customerID,
			OrderID:         linked,
			AmountPaid:      amount,
			PaymentMethod:   method,
			Notes:           strings.TrimSpace(req.Notes),
			PreviousBalance: out.PreviousBalance,
			NewBalance:      out.NewBalance,
			PaymentDate:     paidAt,
			CreatedAt:       now,
			Allocations:     paymentdomain.FromLedgerAllocations(out.Allocations),
		}
		if err := s.payments.Insert(ctx, tx, &payment); err != nil {
			return agg, fmt.Errorf("insert payment: %w", err)
		}
		if err := s.payments.InsertAllocations(ctx, tx, payment.Allocations); err != nil {
			return agg, fmt.Errorf("insert allocations: %w", err)
		}

		for _, state := range out.Orders {
			order := byID[state.ID]
			order.Apply(state)
			order.UpdatedAt = now
			if err := s.orders.UpdateBalance(ctx, tx, &order); err != nil {
				return agg, fmt.Errorf("update order %s: %w", order.ID, err)
			}
			result.Orders = append(result.Orders, order)
		}
		result.Payment = payment
		return out.Aggregate, nil
	})
	s.record(ctx, "payment", amount, err)
	if err != nil {
		return PaymentResult{}, err
	}
	result.Customer = customer

	events := []changefeed.Event{
		{Collection: changefeed.Payments, Op: "create", ID: result.Payment.ID.String()},
		{Collection: changefeed.Customers, Op: "update", ID: customerID.String()},
	}
	if len(result.Orders) > 0 {
		events = append(events, changefeed.Event{Collection: changefeed.Orders, Op: "update"})
	}
	s.publish(ctx, events...)
	s.log.Info("payment recorded",
		zap.String("customer_id", customerID.String()),
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("new_balance", result.Payment.NewBalance.StringFixed(2)),
	)
	return result, nil
}

// ModifyOrder re-prices an order and recomputes the owning customer's
// aggregate from scratch.
func (s *ledgerService) ModifyOrder(ctx context.Context, req ModifyOrderRequest) (OrderResult, error) {
	orderID, err := parseID(req.OrderID, ledgerdomain.ErrInvalidOrder, "order_id")
	if err != nil {
		return OrderResult{}, err
	}
	items, subtotal, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return OrderResult{}, err
	}

	existing, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return OrderResult{}, err
	}
	if existing == nil {
		return OrderResult{}, ledgerdomain.ErrOrderNotFound
	}
	customerID := existing.CustomerID

	var result OrderResult
	customer, err := s.writeCustomer(ctx, "modify_order", customerID, func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error) {
		agg := aggregateOf(c)
		order, err := s.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return agg, err
		}
		if order == nil || order.CustomerID != customerID {
			return agg, ledgerdomain.ErrOrderNotFound
		}

		state, err := ledgerdomain.ModifyOrder(order.State(), subtotal.Add(order.ShippingFee))
		if err != nil {
			return agg, err
		}
		order.Apply(state)
		order.Items = datatypes.NewJSONSlice(items)
		order.Subtotal = subtotal
		order.TotalWithPending = order.Total.Add(order.PreviousPendingBalance)
		if req.Notes != nil {
			order.Notes = strings.TrimSpace(*req.Notes)
		}
		order.UpdatedAt = s.clock.Now()
		if err := s.orders.UpdateItems(ctx, tx, order); err != nil {
			return agg, fmt.Errorf("update order: %w", err)
		}
		result.Order = *order

		return s.rebuildTx(ctx, tx, customerID)
	})
	s.record(ctx, "modify_order", result.Order.Total, err)
	if err != nil {
		return OrderResult{}, err
	}
	result.Customer = customer

	s.publish(ctx,
		changefeed.Event{Collection: changefeed.Orders, Op: "update", ID: orderID.String()},
		changefeed.Event{Collection: changefeed.Customers, Op: "update", ID: customerID.String()},
	)
	return result, nil
}

// DeleteOrder removes an order with the payments linked to it. Whatever
// those payments paid on other orders is owed again.
func (s *ledgerService) DeleteOrder(ctx context.Context, id string) (DeleteResult, error) {
	orderID, err := parseID(id, ledgerdomain.ErrInvalidOrder, "order_id")
	if err != nil {
		return DeleteResult{}, err
	}
	existing, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return DeleteResult{}, err
	}
	if existing == nil {
		return DeleteResult{}, ledgerdomain.ErrOrderNotFound
	}
	customerID := existing.CustomerID

	var result DeleteResult
	customer, err := s.writeCustomer(ctx, "delete_order", customerID, func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error) {
		result = DeleteResult{OrderID: orderID}
		agg := aggregateOf(c)

		orders, err := s.orders.ListByCustomer(ctx, tx, customerID)
		if err != nil {
			return agg, fmt.Errorf("load orders: %w", err)
		}
		var deleted *orderdomain.Order
		others := make([]ledgerdomain.OrderState, 0, len(orders))
		byID := make(map[snowflake.ID]orderdomain.Order, len(orders))
		for i := range orders {
			if orders[i].ID == orderID {
				deleted = &orders[i]
				continue
			}
			others = append(others, orders[i].State())
			byID[orders[i].ID] = orders[i]
		}
		if deleted == nil {
			return agg, ledgerdomain.ErrOrderNotFound
		}

		linked, err := s.payments.ListByOrder(ctx, tx, orderID)
		if err != nil {
			return agg, fmt.Errorf("load linked payments: %w", err)
		}
		linkedStates := make([]ledgerdomain.PaymentState, 0, len(linked))
		for _, p := range linked {
			linkedStates = append(linkedStates, p.State())
		}

		out := ledgerdomain.DeleteOrder(agg, deleted.State(), others, linkedStates)
		now := s.clock.Now()
		for _, state := range out.Orders {
			order := byID[state.ID]
			order.Apply(state)
			order.UpdatedAt = now
			if err := s.orders.UpdateBalance(ctx, tx, &order); err != nil {
				return agg, fmt.Errorf("reverse order %s: %w", order.ID, err)
			}
			result.Orders = append(result.Orders, order)
		}
		if err := s.payments.DeleteAllocationsByPayments(ctx, tx, out.PaymentIDs); err != nil {
			return agg, fmt.Errorf("delete allocations: %w", err)
		}
		if err := s.payments.DeleteAllocationsByOrder(ctx, tx, orderID); err != nil {
			return agg, fmt.Errorf("delete allocations: %w", err)
		}
		if err := s.payments.DeleteByIDs(ctx, tx, out.PaymentIDs); err != nil {
			return agg, fmt.Errorf("delete payments: %w", err)
		}
		if _, err := s.orders.Delete(ctx, tx, orderID); err != nil {
			return agg, fmt.Errorf("delete order: %w", err)
		}
		result.DeletedPayments = out.PaymentIDs

		rebuilt, err := s.rebuildTx(ctx, tx, customerID)
		if err != nil {
			return agg, err
		}
		if drift := ledgerdomain.Compare(customerID, rebuilt, out.Aggregate); drift != nil {
			s.log.Warn("order deletion disagreed with rebuild", zap.Error(drift))
		}
		return rebuilt, nil
	})
	s.record(ctx, "delete_order", existing.Total, err)
	if err != nil {
		return DeleteResult{}, err
	}
	result.Customer = customer

	events := []changefeed.Event{
		{Collection: changefeed.Orders, Op: "delete", ID: orderID.String()},
		{Collection: changefeed.Customers, Op: "update", ID: customerID.String()},
	}
	if len(result.DeletedPayments) > 0 {
		events = append(events, changefeed.Event{Collection: changefeed.Payments, Op: "delete"})
	}
	s.publish(ctx, events...)
	s.log.Info("order deleted",
		zap.String("customer_id", customerID.String()),
		zap.String("order_id", orderID.String()),
		zap.Int("payments_removed", len(result.DeletedPayments)),
	)
	return result, nil
}

// writeCustomer runs fn in a transaction and stores the aggregate it
// returns with a version check. Conflicts retry the whole transaction.
func (s *ledgerService) writeCustomer(
	ctx context.Context,
	op string,
	customerID snowflake.ID,
	fn func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error),
) (customerdomain.Customer, error) {
	release, err := ratelimit.Acquire(ctx, s.locker, "balancebook:ledger:customer:"+customerID.String(), s.cfg.LockTTL, s.cfg.RetryDelay)
	if err != nil {
		return customerdomain.Customer{}, fmt.Errorf("lock customer %s: %w", customerID, err)
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		var saved customerdomain.Customer
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := s.customers.FindByID(ctx, tx, customerID)
			if err != nil {
				return fmt.Errorf("load customer: %w", err)
			}
			if c == nil {
				return ledgerdomain.ErrCustomerNotFound
			}

			agg, err := fn(tx, c)
			if err != nil {
				return err
			}
			agg.PendingBalance = decimal.Max(decimal.Zero, agg.PendingBalance)

			ok, err := s.customers.CompareAndSetBalances(ctx, tx, customerID, c.Version, balancesOf(agg))
			if err != nil {
				return fmt.Errorf("store balances: %w", err)
			}
			if !ok {
				return errStaleVersion
			}

			saved = *c
			saved.TotalOrders = agg.TotalOrders
			saved.TotalSpent = agg.TotalSpent
			saved.TotalPaid = agg.TotalPaid
			saved.PendingBalance = agg.PendingBalance
			saved.Version = c.Version + 1
			saved.UpdatedAt = s.clock.Now()
			return nil
		})
		if err == nil {
			return saved, nil
		}

		reason := conflictReason(err)
		if reason == "" {
			return customerdomain.Customer{}, err
		}
		lastErr = err
		if s.obsMetrics != nil {
			s.obsMetrics.RecordLedgerConflict(ctx, op, reason)
		}
		s.log.Debug("ledger write conflict",
			zap.String("operation", op),
			zap.String("customer_id", customerID.String()),
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
		)
		if err := s.backoff(ctx, attempt); err != nil {
			return customerdomain.Customer{}, err
		}
	}

	s.log.Warn("ledger write gave up",
		zap.String("operation", op),
		zap.String("customer_id", customerID.String()),
		zap.Error(lastErr),
	)
	return customerdomain.Customer{}, fmt.Errorf("%w: %s after %d attempts", ledgerdomain.ErrConflict, op, s.cfg.MaxRetries)
}

func (s *ledgerService) backoff(ctx context.Context, attempt int) error {
	base := s.cfg.RetryDelay
	if base <= 0 {
		return ctx.Err()
	}
	delay := base * time.Duration(attempt)
	delay += time.Duration(rand.Int64N(int64(base)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func conflictReason(err error) string {
	switch {
	case errors.Is(err, errStaleVersion):
		return "version"
	case db.IsRetryableTxErr(err):
		return "serialization"
	default:
		return ""
	}
}

// resolveItems validates the requested lines against the catalog and
// captures each product's name and price at order time.
func (s *ledgerService) resolveItems(ctx context.Context, inputs []ItemInput) ([]orderdomain.Item, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, ledgerdomain.Invalid("items", ledgerdomain.ErrInvalidItems)
	}

	ids := make([]snowflake.ID, 0, len(inputs))
	for i, in := range inputs {
		id, err := snowflake.ParseString(strings.TrimSpace(in.ProductID))
		if err != nil || id == 0 {
			return nil, decimal.Zero, ledgerdomain.Invalid(fmt.Sprintf("items[%d].product_id", i), ledgerdomain.ErrUnknownProduct)
		}
		ids = append(ids, id)
	}
	products, err := s.products.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("load products: %w", err)
	}
	catalog := make(map[snowflake.ID]productdomain.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	items := make([]orderdomain.Item, 0, len(inputs))
	lines := make([]ledgerdomain.Line, 0, len(inputs))
	for i, in := range inputs {
		product, ok := catalog[ids[i]]
		if !ok {
			return nil, decimal.Zero, ledgerdomain.Invalid(fmt.Sprintf("items[%d].product_id", i), ledgerdomain.ErrUnknownProduct)
		}
		if in.Quantity <= 0 {
			return nil, decimal.Zero, ledgerdomain.Invalid(fmt.Sprintf("items[%d].quantity", i), ledgerdomain.ErrInvalidQuantity)
		}
		price := product.Price
		if raw := strings.TrimSpace(in.Price); raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, decimal.Zero, ledgerdomain.Invalid(fmt.Sprintf("items[%d].price", i), ledgerdomain.ErrInvalidPrice)
			}
			price = ledgerdomain.Money(parsed)
		}
		if !price.IsPositive() {
			return nil, decimal.Zero, ledgerdomain.Invalid(fmt.Sprintf("items[%d].price", i), ledgerdomain.ErrInvalidPrice)
		}

		items = append(items, orderdomain.Item{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     price,
			Quantity:  in.Quantity,
			Unit:      product.Unit,
		})
		lines = append(lines, ledgerdomain.Line{Price: price, Quantity: in.Quantity})
	}

	subtotal, err := ledgerdomain.Subtotal(lines)
	if err != nil {
		return nil, decimal.Zero, ledgerdomain.Invalid("items", err)
	}
	return items, subtotal, nil
}

func (s *ledgerService) record(ctx context.Context, op string, amount decimal.Decimal, err error) {
	if s.obsMetrics == nil {
		return
	}
	value, _ := amount.Float64()
	s.obsMetrics.RecordLedgerOperation(ctx, op, value, err)
}

func (s *ledgerService) publish(ctx context.Context, events ...changefeed.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, events...)
}

func aggregateOf(c *customerdomain.Customer) ledgerdomain.Aggregate {
	return ledgerdomain.Aggregate{
		TotalOrders:    c.TotalOrders,
		TotalSpent:     c.TotalSpent,
		TotalPaid:      c.TotalPaid,
		PendingBalance: c.PendingBalance,
	}
}

func balancesOf(agg ledgerdomain.Aggregate) customerdomain.Balances {
	return customerdomain.Balances{
		TotalOrders:    agg.TotalOrders,
		TotalSpent:     ledgerdomain.Money(agg.TotalSpent),
		TotalPaid:      ledgerdomain.Money(agg.TotalPaid),
		PendingBalance: ledgerdomain.Money(agg.PendingBalance),
	}
}

func parseID(value string, sentinel error, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, ledgerdomain.Invalid(field, sentinel)
	}
	return id, nil
}
