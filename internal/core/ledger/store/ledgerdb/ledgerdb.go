// Package ledgerdb contains the postgres implementation of ledger.Store.
package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/core/ledger"
	db "github.com/rschio/milkbill/internal/data/dbsql/pgx"
)

var _ ledger.Store = (*Store)(nil)

// Store manages the set of APIs for ledger database access.
type Store struct {
	log *slog.Logger
	db  db.DB
}

// NewStore constructs the api for data access.
func NewStore(log *slog.Logger, database db.DB) *Store {
	return &Store{
		log: log,
		db:  database,
	}
}

func (s *Store) ExecUnderTx(ctx context.Context, fn func(txStore ledger.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(NewStore(s.log, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", storeErr(err))
	}

	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) error {
	const q = `
	INSERT INTO customers
		(id, name, phone, address, created_at)
	VALUES
		(@id, @name, @phone, @address, @created_at)`

	if err := db.NamedExec(ctx, s.log, s.db, q, toDBCustomer(c)); err != nil {
		return fmt.Errorf("namedexec: %w", storeErr(err))
	}

	return nil
}

func (s *Store) QueryCustomers(ctx context.Context) ([]ledger.Customer, error) {
	const q = `
	SELECT
		id, name, phone, address, created_at
	FROM
		customers
	ORDER BY
		created_at, id`

	cs, err := db.NamedQuerySlice[dbCustomer](ctx, s.log, s.db, q, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", storeErr(err))
	}

	return toCustomers(cs), nil
}

func (s *Store) QueryCustomerByID(ctx context.Context, customerID uuid.UUID) (ledger.Customer, error) {
	data := struct {
		ID uuid.UUID `db:"id"`
	}{
		ID: customerID,
	}

	const q = `
	SELECT
		id, name, phone, address, created_at
	FROM
		customers
	WHERE
		id = @id`

	c, err := db.NamedQueryStruct[dbCustomer](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("namedquerystruct: %w", storeErr(err))
	}

	return toCustomer(c), nil
}

func (s *Store) CreateBill(ctx context.Context, b ledger.Bill) error {
	const q = `
	INSERT INTO bills
		(id, customer_id, month, year, total_milk, total_amount, created_at)
	VALUES
		(@id, @customer_id, @month, @year, @total_milk, @total_amount, @created_at)`

	if err := db.NamedExec(ctx, s.log, s.db, q, toDBBill(b)); err != nil {
		return fmt.Errorf("namedexec: %w", storeErr(err))
	}

	return nil
}

func (s *Store) QueryBillByID(ctx context.Context, billID uuid.UUID) (ledger.Bill, error) {
	data := struct {
		ID uuid.UUID `db:"id"`
	}{
		ID: billID,
	}

	const q = `
	SELECT
		id, customer_id, month, year, total_milk, total_amount, created_at
	FROM
		bills
	WHERE
		id = @id`

	b, err := db.NamedQueryStruct[dbBill](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Bill{}, fmt.Errorf("namedquerystruct: %w", storeErr(err))
	}

	return toBill(b), nil
}

func (s *Store) QueryBillByPeriod(ctx context.Context, customerID uuid.UUID, p ledger.Period) (ledger.Bill, error) {
	data := struct {
		CustomerID uuid.UUID `db:"customer_id"`
		Month      string    `db:"month"`
		Year       string    `db:"year"`
	}{
		CustomerID: customerID,
		Month:      p.Month,
		Year:       p.Year,
	}

	const q = `
	SELECT
		id, customer_id, month, year, total_milk, total_amount, created_at
	FROM
		bills
	WHERE
		customer_id = @customer_id AND month = @month AND year = @year`

	b, err := db.NamedQueryStruct[dbBill](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Bill{}, fmt.Errorf("namedquerystruct: %w", storeErr(err))
	}

	return toBill(b), nil
}

func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment) error {
	const q = `
	INSERT INTO payments
		(id, bill_id, amount, created_at)
	VALUES
		(@id, @bill_id, @amount, @created_at)`

	if err := db.NamedExec(ctx, s.log, s.db, q, toDBPayment(p)); err != nil {
		return fmt.Errorf("namedexec: %w", storeErr(err))
	}

	return nil
}

func (s *Store) QueryPayments(ctx context.Context, billID uuid.UUID) ([]ledger.Payment, error) {
	data := struct {
		BillID uuid.UUID `db:"bill_id"`
	}{
		BillID: billID,
	}

	const q = `
	SELECT
		id, bill_id, amount, created_at
	FROM
		payments
	WHERE
		bill_id = @bill_id
	ORDER BY
		created_at, id`

	ps, err := db.NamedQuerySlice[dbPayment](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", storeErr(err))
	}

	return toPayments(ps), nil
}

// tallySelect aggregates the payments of each bill. Filters are appended
// between the joins and the grouping.
const (
	tallySelect = `
	SELECT
		b.id AS bill_id,
		b.customer_id,
		COALESCE(c.name, '') AS customer_name,
		b.month,
		b.year,
		b.total_amount,
		COALESCE(SUM(p.amount), 0)::BIGINT AS total_paid
	FROM
		bills AS b
		LEFT JOIN customers AS c ON c.id = b.customer_id
		LEFT JOIN payments AS p ON p.bill_id = b.id`

	tallyGroup = `
	GROUP BY
		b.id, c.name`

	tallyOrder = `
	ORDER BY
		b.year DESC, b.month DESC, customer_name, b.id`
)

func (s *Store) QueryTally(ctx context.Context, billID uuid.UUID) (ledger.Tally, error) {
	data := struct {
		ID uuid.UUID `db:"id"`
	}{
		ID: billID,
	}

	q := tallySelect + `
	WHERE
		b.id = @id` + tallyGroup

	t, err := db.NamedQueryStruct[dbTally](ctx, s.log, s.db, q, data)
	if err != nil {
		return ledger.Tally{}, fmt.Errorf("namedquerystruct: %w", storeErr(err))
	}

	return toTally(t), nil
}

func (s *Store) QueryTallies(ctx context.Context) ([]ledger.Tally, error) {
	q := tallySelect + tallyGroup + tallyOrder

	ts, err := db.NamedQuerySlice[dbTally](ctx, s.log, s.db, q, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", storeErr(err))
	}

	return toTallies(ts), nil
}

func (s *Store) QueryTalliesByCustomer(ctx context.Context, customerID uuid.UUID) ([]ledger.Tally, error) {
	data := struct {
		CustomerID uuid.UUID `db:"customer_id"`
	}{
		CustomerID: customerID,
	}

	q := tallySelect + `
	WHERE
		b.customer_id = @customer_id` + tallyGroup + tallyOrder

	ts, err := db.NamedQuerySlice[dbTally](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", storeErr(err))
	}

	return toTallies(ts), nil
}

// storeErr maps the db package errors into the ledger store conditions.
func storeErr(err error) error {
	switch {
	case errors.Is(err, db.ErrDBNotFound):
		return ledger.ErrNotFound
	case errors.Is(err, db.ErrDBDuplicatedEntry):
		return fmt.Errorf("%w: %w", ledger.ErrDuplicate, err)
	case errors.Is(err, db.ErrDBMissingReference):
		return fmt.Errorf("%w: %w", ledger.ErrMissingReference, err)
	}
	return err
}
