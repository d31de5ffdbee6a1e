package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidOrder     = errors.New("invalid_order")
	ErrInvalidItems     = errors.New("invalid_items")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrInvalidMethod    = errors.New("invalid_payment_method")
	ErrInvalidDate      = errors.New("invalid_date")
	ErrUnknownProduct   = errors.New("invalid_product")
	ErrOrderNotOwned    = errors.New("invalid_order_customer")
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrConflict         = errors.New("ledger_conflict")
)

// ValidationError ties a rejected input field to the sentinel describing
// why it was rejected. Nothing is written when one is returned.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err was produced by input validation.
func IsValidation(err error) bool {
	var v *ValidationError
	if errors.As(err, &v) {
		return true
	}
	for _, sentinel := range []error{
		ErrInvalidAmount, ErrInvalidCustomer, ErrInvalidOrder, ErrInvalidItems,
		ErrInvalidQuantity, ErrInvalidPrice, ErrInvalidMethod, ErrInvalidDate,
		ErrUnknownProduct, ErrOrderNotOwned,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// FieldDrift is one mismatched aggregate field.
type FieldDrift struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// ConsistencyError reports a customer whose stored aggregate no longer
// matches the aggregate rebuilt from its orders and payments.
type ConsistencyError struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Fields     []FieldDrift `json:"fields"`
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s expected=%s actual=%s", f.Field, f.Expected, f.Actual))
	}
	return fmt.Sprintf("ledger drift for customer %s: %s", e.CustomerID, strings.Join(parts, "; "))
}

// Compare returns a ConsistencyError when actual differs from expected,
// nil otherwise.
func Compare(customerID snowflake.ID, expected, actual Aggregate) *ConsistencyError {
	var fields []FieldDrift
	if expected.TotalOrders != actual.TotalOrders {
		fields = append(fields, FieldDrift{
			Field:    "total_orders",
			Expected: fmt.Sprint(expected.TotalOrders),
			Actual:   fmt.Sprint(actual.TotalOrders),
		})
	}
	check := func(name string, want, got decimal.Decimal) {
		if !want.Equal(got) {
			fields = append(fields, FieldDrift{Field: name, Expected: want.StringFixed(2), Actual: got.StringFixed(2)})
		}
	}
	check("total_spent", expected.TotalSpent, actual.TotalSpent)
	check("total_paid", expected.TotalPaid, actual.TotalPaid)
	check("pending_balance", expected.PendingBalance, actual.PendingBalance)
	if len(fields) == 0 {
		return nil
	}
	return &ConsistencyError{CustomerID: customerID, Fields: fields}
}
