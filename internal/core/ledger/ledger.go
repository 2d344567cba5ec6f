// Package ledger implements the billing rules of the milk delivery service:
// customers, monthly bills and the payments recorded against them.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/web"
)

// Store is used to persist the ledger data.
type Store interface {
	// ExecUnderTx executes the fn function under a transaction. If fn returns
	// an error the transaction is rolled back and the error is returned.
	ExecUnderTx(ctx context.Context, fn func(tx Store) error) error

	CreateCustomer(ctx context.Context, c Customer) error
	QueryCustomers(ctx context.Context) ([]Customer, error)
	QueryCustomerByID(ctx context.Context, customerID uuid.UUID) (Customer, error)

	// CreateBill must report ErrDuplicate when a bill for the same customer
	// and period exists, and ErrMissingReference when the customer does not.
	CreateBill(ctx context.Context, b Bill) error
	QueryBillByID(ctx context.Context, billID uuid.UUID) (Bill, error)
	QueryBillByPeriod(ctx context.Context, customerID uuid.UUID, p Period) (Bill, error)

	// CreatePayment must report ErrMissingReference when the bill does not
	// exist.
	CreatePayment(ctx context.Context, p Payment) error
	QueryPayments(ctx context.Context, billID uuid.UUID) ([]Payment, error)

	QueryTally(ctx context.Context, billID uuid.UUID) (Tally, error)
	// QueryTallies returns every bill ordered by year and month, newest
	// first.
	QueryTallies(ctx context.Context) ([]Tally, error)
	QueryTalliesByCustomer(ctx context.Context, customerID uuid.UUID) ([]Tally, error)
}

// Option configures a Core.
type Option func(*Core)

// WithClampPending makes overpaid bills report a pending amount of zero
// instead of a negative one.
func WithClampPending(clamp bool) Option {
	return func(c *Core) {
		c.clampPending = clamp
	}
}

// Core deals with the ledger business logic.
type Core struct {
	store        Store
	clampPending bool
}

// NewCore constructs a Core backed by store.
func NewCore(store Store, opts ...Option) *Core {
	c := Core{store: store}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// CreateCustomer adds a customer. Names are not unique.
func (c *Core) CreateCustomer(ctx context.Context, nc NewCustomer) (Customer, error) {
	cus := Customer{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(nc.Name),
		Phone:       strings.TrimSpace(nc.Phone),
		Address:     strings.TrimSpace(nc.Address),
		DateCreated: now(ctx),
	}
	if cus.Name == "" {
		return Customer{}, validationError("name is required")
	}

	if err := c.store.CreateCustomer(ctx, cus); err != nil {
		return Customer{}, storeError("creating customer", err)
	}

	return cus, nil
}

// QueryCustomers returns all customers, oldest first.
func (c *Core) QueryCustomers(ctx context.Context) ([]Customer, error) {
	cs, err := c.store.QueryCustomers(ctx)
	if err != nil {
		return nil, storeError("querying customers", err)
	}
	return cs, nil
}

func (c *Core) QueryCustomerByID(ctx context.Context, customerID uuid.UUID) (Customer, error) {
	cus, err := c.store.QueryCustomerByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Customer{}, notFoundError("customer not found")
		}
		return Customer{}, storeError("querying customer", err)
	}
	return cus, nil
}

// CreateBill adds the bill of a customer for a period. There is at most one
// bill per customer and period; a second one fails with ErrConflict, also
// when both are created concurrently.
func (c *Core) CreateBill(ctx context.Context, nb NewBill) (Bill, error) {
	p, err := ParsePeriod(nb.Month, nb.Year)
	if err != nil {
		return Bill{}, err
	}

	b := Bill{
		ID:          uuid.New(),
		CustomerID:  nb.CustomerID,
		Period:      p,
		TotalMilk:   nb.TotalMilk,
		TotalAmount: nb.TotalAmount,
		DateCreated: now(ctx),
	}
	if err := b.validate(); err != nil {
		return Bill{}, err
	}

	fn := func(tx Store) error {
		_, err := tx.QueryBillByPeriod(ctx, b.CustomerID, b.Period)
		switch {
		case err == nil:
			return errBillExists
		case !errors.Is(err, ErrNotFound):
			return storeError("checking existing bill", err)
		}

		// Concurrent requests can both pass the check above. The unique
		// constraint of the store decides between them.
		if err := tx.CreateBill(ctx, b); err != nil {
			switch {
			case errors.Is(err, ErrDuplicate):
				return errBillExists
			case errors.Is(err, ErrMissingReference):
				return validationError("customer not found; cannot bill a non-existent customer")
			}
			return storeError("creating bill", err)
		}

		return nil
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Bill{}, errBillExists
		}
		return Bill{}, storeError("creating bill", err)
	}

	return b, nil
}

func (b Bill) validate() error {
	switch {
	case b.CustomerID == uuid.Nil:
		return validationError("customerId is required")
	case b.TotalAmount <= 0:
		return validationError("totalAmount must be positive")
	case b.TotalAmount > MaxMoney:
		return validationError("totalAmount too large")
	case !(b.TotalMilk > 0):
		return validationError("totalMilk must be positive")
	}
	return nil
}

func (c *Core) QueryBillByID(ctx context.Context, billID uuid.UUID) (Bill, error) {
	b, err := c.store.QueryBillByID(ctx, billID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Bill{}, notFoundError("bill not found")
		}
		return Bill{}, storeError("querying bill", err)
	}
	return b, nil
}

// QueryBillByPeriod returns the bill of a customer for a period.
func (c *Core) QueryBillByPeriod(ctx context.Context, customerID uuid.UUID, month, year string) (Bill, error) {
	p, err := ParsePeriod(month, year)
	if err != nil {
		return Bill{}, err
	}

	b, err := c.store.QueryBillByPeriod(ctx, customerID, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Bill{}, notFoundError("bill not found")
		}
		return Bill{}, storeError("querying bill", err)
	}
	return b, nil
}

// RecordPayment adds a payment to an existing bill. Payments are never
// deduplicated: recording the same payment twice credits the bill twice.
func (c *Core) RecordPayment(ctx context.Context, np NewPayment) (Payment, error) {
	p := Payment{
		ID:          uuid.New(),
		BillID:      np.BillID,
		Amount:      np.Amount,
		DateCreated: now(ctx),
	}
	if p.Amount <= 0 {
		return Payment{}, validationError("amount must be positive")
	}
	if p.Amount > MaxMoney {
		return Payment{}, errAmountTooLarge
	}
	if p.BillID == uuid.Nil {
		return Payment{}, errBillMissing
	}

	fn := func(tx Store) error {
		t, err := tx.QueryTally(ctx, p.BillID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errBillMissing
			}
			return storeError("checking bill", err)
		}
		if t.TotalPaid > MaxMoney-p.Amount {
			return errAmountTooLarge
		}

		if err := tx.CreatePayment(ctx, p); err != nil {
			if errors.Is(err, ErrMissingReference) {
				return errBillMissing
			}
			return storeError("creating payment", err)
		}

		return nil
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Payment{}, storeError("recording payment", err)
	}

	return p, nil
}

// QueryPayments returns the payments of a bill, oldest first.
func (c *Core) QueryPayments(ctx context.Context, billID uuid.UUID) ([]Payment, error) {
	if _, err := c.QueryBillByID(ctx, billID); err != nil {
		return nil, err
	}

	ps, err := c.store.QueryPayments(ctx, billID)
	if err != nil {
		return nil, storeError("querying payments", err)
	}
	return ps, nil
}

// BillStatus returns the payment state of a bill.
func (c *Core) BillStatus(ctx context.Context, billID uuid.UUID) (PaymentStatus, error) {
	t, err := c.store.QueryTally(ctx, billID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PaymentStatus{}, notFoundError("bill not found")
		}
		return PaymentStatus{}, storeError("querying bill status", err)
	}

	return c.paymentStatus(t), nil
}

// BillStatusByPeriod returns the payment state of the bill of a customer for
// a period.
func (c *Core) BillStatusByPeriod(ctx context.Context, customerID uuid.UUID, month, year string) (PaymentStatus, error) {
	b, err := c.QueryBillByPeriod(ctx, customerID, month, year)
	if err != nil {
		return PaymentStatus{}, err
	}

	return c.BillStatus(ctx, b.ID)
}

// ListBillsWithStatus returns every bill with its customer name and payment
// state, newest period first.
func (c *Core) ListBillsWithStatus(ctx context.Context) ([]BillSummary, error) {
	ts, err := c.store.QueryTallies(ctx)
	if err != nil {
		return nil, storeError("querying bills", err)
	}

	return c.summaries(ts), nil
}

// QueryCustomerBills returns the bills of one customer with their payment
// state, newest period first.
func (c *Core) QueryCustomerBills(ctx context.Context, customerID uuid.UUID) ([]BillSummary, error) {
	if _, err := c.QueryCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}

	ts, err := c.store.QueryTalliesByCustomer(ctx, customerID)
	if err != nil {
		return nil, storeError("querying customer bills", err)
	}

	return c.summaries(ts), nil
}

func (c *Core) summaries(ts []Tally) []BillSummary {
	out := make([]BillSummary, len(ts))
	for i, t := range ts {
		ps := c.paymentStatus(t)
		out[i] = BillSummary{
			BillID:        t.BillID,
			CustomerID:    t.CustomerID,
			CustomerName:  t.CustomerName,
			Period:        t.Period,
			TotalAmount:   ps.TotalAmount,
			TotalPaid:     ps.TotalPaid,
			Status:        ps.Status,
			PendingAmount: ps.PendingAmount,
		}
	}
	return out
}

func (c *Core) paymentStatus(t Tally) PaymentStatus {
	return PaymentStatus{
		BillID:        t.BillID,
		TotalAmount:   t.TotalAmount,
		TotalPaid:     t.TotalPaid,
		Status:        DeriveStatus(t.TotalAmount, t.TotalPaid),
		PendingAmount: PendingAmount(t.TotalAmount, t.TotalPaid, c.clampPending),
	}
}

// DeriveStatus returns the payment state of a bill of total with paid
// already credited.
func DeriveStatus(total, paid Money) Status {
	switch {
	case paid <= 0:
		return StatusUnpaid
	case paid < total:
		return StatusPartiallyPaid
	default:
		return StatusFullyPaid
	}
}

// PendingAmount returns what is left to pay. It is negative for an overpaid
// bill unless clamp is set.
func PendingAmount(total, paid Money, clamp bool) Money {
	pending := total - paid
	if clamp && pending < 0 {
		return 0
	}
	return pending
}

func now(ctx context.Context) time.Time {
	return web.GetTime(ctx).Round(time.Microsecond)
}
