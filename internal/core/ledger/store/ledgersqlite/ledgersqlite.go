// Package ledgersqlite contains the embedded SQLite implementation of
// ledger.Store.
package ledgersqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/core/ledger"
	db "github.com/rschio/milkbill/internal/data/dbsql/sqlite"
)

var _ ledger.Store = (*Store)(nil)

// Store manages the set of APIs for ledger database access.
type Store struct {
	log  *slog.Logger
	pool *sql.DB
	db   db.DB
}

// NewStore constructs the api for data access.
func NewStore(log *slog.Logger, database *sql.DB) *Store {
	return &Store{
		log:  log,
		pool: database,
		db:   database,
	}
}

func (s *Store) ExecUnderTx(ctx context.Context, fn func(txStore ledger.Store) error) error {
	// Already inside a transaction.
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{log: s.log, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", storeErr(err))
	}

	return nil
}

func (s *Store) exec(ctx context.Context, q string, args ...any) error {
	s.log.DebugContext(ctx, "db.exec", "query", compact(q))

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) error {
	const q = `
	INSERT INTO customers
		(id, name, phone, address, created_at)
	VALUES
		(?, ?, ?, ?, ?)`

	if err := s.exec(ctx, q, c.ID, c.Name, c.Phone, c.Address, toUnix(c.DateCreated)); err != nil {
		return fmt.Errorf("insert customer: %w", err)
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

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", storeErr(err))
	}
	defer rows.Close()

	cs := []ledger.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}

	return cs, nil
}

func (s *Store) QueryCustomerByID(ctx context.Context, customerID uuid.UUID) (ledger.Customer, error) {
	const q = `
	SELECT
		id, name, phone, address, created_at
	FROM
		customers
	WHERE
		id = ?`

	c, err := scanCustomer(s.db.QueryRowContext(ctx, q, customerID))
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("query customer: %w", storeErr(err))
	}
	return c, nil
}

func (s *Store) CreateBill(ctx context.Context, b ledger.Bill) error {
	const q = `
	INSERT INTO bills
		(id, customer_id, month, year, total_milk, total_amount, created_at)
	VALUES
		(?, ?, ?, ?, ?, ?, ?)`

	err := s.exec(ctx, q, b.ID, b.CustomerID, b.Period.Month, b.Period.Year,
		b.TotalMilk, int64(b.TotalAmount), toUnix(b.DateCreated))
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

const billColumns = `id, customer_id, month, year, total_milk, total_amount, created_at`

func (s *Store) QueryBillByID(ctx context.Context, billID uuid.UUID) (ledger.Bill, error) {
	q := `SELECT ` + billColumns + ` FROM bills WHERE id = ?`

	b, err := scanBill(s.db.QueryRowContext(ctx, q, billID))
	if err != nil {
		return ledger.Bill{}, fmt.Errorf("query bill: %w", storeErr(err))
	}
	return b, nil
}

func (s *Store) QueryBillByPeriod(ctx context.Context, customerID uuid.UUID, p ledger.Period) (ledger.Bill, error) {
	q := `SELECT ` + billColumns + ` FROM bills WHERE customer_id = ? AND month = ? AND year = ?`

	b, err := scanBill(s.db.QueryRowContext(ctx, q, customerID, p.Month, p.Year))
	if err != nil {
		return ledger.Bill{}, fmt.Errorf("query bill: %w", storeErr(err))
	}
	return b, nil
}

func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment) error {
	const q = `
	INSERT INTO payments
		(id, bill_id, amount, created_at)
	VALUES
		(?, ?, ?, ?)`

	if err := s.exec(ctx, q, p.ID, p.BillID, int64(p.Amount), toUnix(p.DateCreated)); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) QueryPayments(ctx context.Context, billID uuid.UUID) ([]ledger.Payment, error) {
	const q = `
	SELECT
		id, bill_id, amount, created_at
	FROM
		payments
	WHERE
		bill_id = ?
	ORDER BY
		created_at, id`

	rows, err := s.db.QueryContext(ctx, q, billID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", storeErr(err))
	}
	defer rows.Close()

	ps := []ledger.Payment{}
	for rows.Next() {
		var (
			p       ledger.Payment
			amount  int64
			created int64
		)
		if err := rows.Scan(&p.ID, &p.BillID, &amount, &created); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = ledger.Money(amount)
		p.DateCreated = fromUnix(created)
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return ps, nil
}

const (
	tallySelect = `
	SELECT
		b.id,
		b.customer_id,
		COALESCE(c.name, '') AS customer_name,
		b.month,
		b.year,
		b.total_amount,
		COALESCE(SUM(p.amount), 0) AS total_paid
	FROM
		bills AS b
		LEFT JOIN customers AS c ON c.id = b.customer_id
		LEFT JOIN payments AS p ON p.bill_id = b.id`

	tallyGroup = `
	GROUP BY
		b.id`

	tallyOrder = `
	ORDER BY
		b.year DESC, b.month DESC, customer_name, b.id`
)

func (s *Store) QueryTally(ctx context.Context, billID uuid.UUID) (ledger.Tally, error) {
	q := tallySelect + ` WHERE b.id = ?` + tallyGroup

	t, err := scanTally(s.db.QueryRowContext(ctx, q, billID))
	if err != nil {
		return ledger.Tally{}, fmt.Errorf("query tally: %w", storeErr(err))
	}
	return t, nil
}

func (s *Store) QueryTallies(ctx context.Context) ([]ledger.Tally, error) {
	return s.queryTallies(ctx, tallySelect+tallyGroup+tallyOrder)
}

func (s *Store) QueryTalliesByCustomer(ctx context.Context, customerID uuid.UUID) ([]ledger.Tally, error) {
	q := tallySelect + ` WHERE b.customer_id = ?` + tallyGroup + tallyOrder
	return s.queryTallies(ctx, q, customerID)
}

func (s *Store) queryTallies(ctx context.Context, q string, args ...any) ([]ledger.Tally, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tallies: %w", storeErr(err))
	}
	defer rows.Close()

	ts := []ledger.Tally{}
	for rows.Next() {
		t, err := scanTally(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		ts = append(ts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tallies: %w", err)
	}

	return ts, nil
}

// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (ledger.Customer, error) {
	var (
		c       ledger.Customer
		created int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &created); err != nil {
		return ledger.Customer{}, err
	}
	c.DateCreated = fromUnix(created)
	return c, nil
}

func scanBill(row scanner) (ledger.Bill, error) {
	var (
		b       ledger.Bill
		amount  int64
		created int64
	)
	err := row.Scan(&b.ID, &b.CustomerID, &b.Period.Month, &b.Period.Year,
		&b.TotalMilk, &amount, &created)
	if err != nil {
		return ledger.Bill{}, err
	}
	b.TotalAmount = ledger.Money(amount)
	b.DateCreated = fromUnix(created)
	return b, nil
}

func scanTally(row scanner) (ledger.Tally, error) {
	var (
		t           ledger.Tally
		total, paid int64
	)
	err := row.Scan(&t.BillID, &t.CustomerID, &t.CustomerName,
		&t.Period.Month, &t.Period.Year, &total, &paid)
	if err != nil {
		return ledger.Tally{}, err
	}
	t.TotalAmount = ledger.Money(total)
	t.TotalPaid = ledger.Money(paid)
	return t, nil
}

func toUnix(t time.Time) int64 {
	return t.UnixMicro()
}

func fromUnix(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func compact(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// storeErr maps the db package errors into the ledger store conditions.
func storeErr(err error) error {
	err = db.ToDBError(err)
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
