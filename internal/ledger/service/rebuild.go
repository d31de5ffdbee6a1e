package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *ledgerService) rebuildTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (ledgerdomain.Aggregate, error) {
	orders, err := s.orders.ListByCustomer(ctx, tx, customerID)
	if err != nil {
		return ledgerdomain.Aggregate{}, fmt.Errorf("load orders: %w", err)
	}
	payments, err := s.payments.ListByCustomer(ctx, tx, customerID)
	if err != nil {
		return ledgerdomain.Aggregate{}, fmt.Errorf("load payments: %w", err)
	}
	return rebuild(orders, payments), nil
}

// RebuildCustomer overwrites the stored aggregate with one recomputed from
// the customer's full order and payment history.
func (s *ledgerService) RebuildCustomer(ctx context.Context, id string) (customerdomain.Customer, error) {
	customerID, err := parseID(id, ledgerdomain.ErrInvalidCustomer, "customer_id")
	if err != nil {
		return customerdomain.Customer{}, err
	}
	customer, _, err := s.rebuildCustomer(ctx, customerID)
	return customer, err
}

func (s *ledgerService) rebuildCustomer(ctx context.Context, customerID snowflake.ID) (customerdomain.Customer, bool, error) {
	var drift *ledgerdomain.ConsistencyError
	customer, err := s.writeCustomer(ctx, "rebuild", customerID, func(tx *gorm.DB, c *customerdomain.Customer) (ledgerdomain.Aggregate, error) {
		rebuilt, err := s.rebuildTx(ctx, tx, customerID)
		if err != nil {
			return rebuilt, err
		}
		drift = ledgerdomain.Compare(customerID, rebuilt, aggregateOf(c))
		return rebuilt, nil
	})
	s.record(ctx, "rebuild", customer.PendingBalance, err)
	if err != nil {
		return customerdomain.Customer{}, false, err
	}
	if drift != nil {
		s.log.Warn("customer aggregate corrected", zap.Error(drift))
		s.publish(ctx, changefeed.Event{Collection: changefeed.Customers, Op: "update", ID: customerID.String()})
	}
	return customer, drift != nil, nil
}

// RebuildAll rebuilds every customer. Failures do not stop the run; they
// are joined into the returned error.
func (s *ledgerService) RebuildAll(ctx context.Context) (RebuildReport, error) {
	ids, err := s.customers.ListIDs(ctx, s.db)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("list customers: %w", err)
	}

	var (
		report RebuildReport
		errs   []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, corrected, err := s.rebuildCustomer(ctx, id)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("customer %s: %w", id, err))
			continue
		}
		report.Rebuilt++
		if corrected {
			report.Corrected++
		}
	}

	s.log.Info("rebuild finished",
		zap.Int("rebuilt", report.Rebuilt),
		zap.Int("corrected", report.Corrected),
		zap.Int("failed", report.Failed),
	)
	return report, errors.Join(errs...)
}

// Verify compares the stored aggregate with a rebuild without writing.
func (s *ledgerService) Verify(ctx context.Context, id string) (*ledgerdomain.ConsistencyError, error) {
	customerID, err := parseID(id, ledgerdomain.ErrInvalidCustomer, "customer_id")
	if err != nil {
		return nil, err
	}
	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, ledgerdomain.ErrCustomerNotFound
	}
	rebuilt, err := s.rebuildTx(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	return ledgerdomain.Compare(customerID, rebuilt, aggregateOf(customer)), nil
}

// VerifyAll checks every customer against one snapshot of all orders and
// payments.
func (s *ledgerService) VerifyAll(ctx context.Context) (VerifyReport, error) {
	customers, err := s.customers.ListAll(ctx, s.db)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list customers: %w", err)
	}
	orders, err := s.orders.ListAll(ctx, s.db)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list orders: %w", err)
	}
	payments, err := s.payments.ListAll(ctx, s.db)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list payments: %w", err)
	}

	ordersBy := make(map[snowflake.ID][]orderdomain.Order)
	for _, o := range orders {
		ordersBy[o.CustomerID] = append(ordersBy[o.CustomerID], o)
	}
	paymentsBy := make(map[snowflake.ID][]paymentdomain.Payment)
	for _, p := range payments {
		paymentsBy[p.CustomerID] = append(paymentsBy[p.CustomerID], p)
	}

	report := VerifyReport{Drifted: []*ledgerdomain.ConsistencyError{}}
	for _, c := range customers {
		if c == nil {
			continue
		}
		report.Checked++
		rebuilt := rebuild(ordersBy[c.ID], paymentsBy[c.ID])
		if drift := ledgerdomain.Compare(c.ID, rebuilt, aggregateOf(c)); drift != nil {
			report.Drifted = append(report.Drifted, drift)
		}
	}
	return report, nil
}

func rebuild(orders []orderdomain.Order, payments []paymentdomain.Payment) ledgerdomain.Aggregate {
	orderStates := make([]ledgerdomain.OrderState, 0, len(orders))
	for _, o := range orders {
		orderStates = append(orderStates, o.State())
	}
	paymentStates := make([]ledgerdomain.PaymentState, 0, len(payments))
	for _, p := range payments {
		paymentStates = append(paymentStates, p.State())
	}
	return ledgerdomain.Rebuild(orderStates, paymentStates)
}
