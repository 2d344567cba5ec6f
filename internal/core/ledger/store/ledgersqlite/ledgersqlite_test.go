package ledgersqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/core/ledger"
	"github.com/rschio/milkbill/internal/data/dbtest"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	log, database, teardown := dbtest.NewSQLite(t)
	t.Cleanup(teardown)

	return NewStore(log, database)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c := ledger.Customer{
		ID:          uuid.New(),
		Name:        "C1",
		Phone:       "98450 00000",
		DateCreated: time.Now().UTC().Round(time.Microsecond),
	}
	if err := store.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}

	cs, err := store.QueryCustomers(ctx)
	if err != nil {
		t.Fatalf("failed to query customers: %v", err)
	}
	if diff := cmp.Diff([]ledger.Customer{c}, cs); diff != "" {
		t.Errorf("wrong customers (-want +got):\n%s", diff)
	}

	b := ledger.Bill{
		ID:          uuid.New(),
		CustomerID:  c.ID,
		Period:      ledger.Period{Month: "06", Year: "2023"},
		TotalMilk:   31,
		TotalAmount: 124000,
		DateCreated: time.Now().UTC().Round(time.Microsecond),
	}
	if err := store.CreateBill(ctx, b); err != nil {
		t.Fatalf("failed to create bill: %v", err)
	}

	got, err := store.QueryBillByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to query bill: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("wrong bill (-want +got):\n%s", diff)
	}

	dup := b
	dup.ID = uuid.New()
	if err := store.CreateBill(ctx, dup); !errors.Is(err, ledger.ErrDuplicate) {
		t.Errorf("duplicated period should report ErrDuplicate, got: %v", err)
	}

	orphan := b
	orphan.ID = uuid.New()
	orphan.CustomerID = uuid.New()
	if err := store.CreateBill(ctx, orphan); !errors.Is(err, ledger.ErrMissingReference) {
		t.Errorf("bill of a missing customer should report ErrMissingReference, got: %v", err)
	}

	if _, err := store.QueryBillByPeriod(ctx, c.ID, ledger.Period{Month: "07", Year: "2023"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing period should be not found, got: %v", err)
	}

	p := ledger.Payment{ID: uuid.New(), BillID: b.ID, Amount: 50000, DateCreated: time.Now().UTC().Round(time.Microsecond)}
	if err := store.CreatePayment(ctx, p); err != nil {
		t.Fatalf("failed to create payment: %v", err)
	}

	orphanPay := ledger.Payment{ID: uuid.New(), BillID: uuid.New(), Amount: 1, DateCreated: p.DateCreated}
	if err := store.CreatePayment(ctx, orphanPay); !errors.Is(err, ledger.ErrMissingReference) {
		t.Errorf("payment of a missing bill should report ErrMissingReference, got: %v", err)
	}

	ps, err := store.QueryPayments(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to query payments: %v", err)
	}
	if diff := cmp.Diff([]ledger.Payment{p}, ps); diff != "" {
		t.Errorf("wrong payments (-want +got):\n%s", diff)
	}

	tally, err := store.QueryTally(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to query tally: %v", err)
	}
	want := ledger.Tally{
		BillID:       b.ID,
		CustomerID:   c.ID,
		CustomerName: "C1",
		Period:       b.Period,
		TotalAmount:  124000,
		TotalPaid:    50000,
	}
	if diff := cmp.Diff(want, tally); diff != "" {
		t.Errorf("wrong tally (-want +got):\n%s", diff)
	}

	if _, err := store.QueryTally(ctx, uuid.New()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("tally of a missing bill should be not found, got: %v", err)
	}
}

func TestExecUnderTx(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c := ledger.Customer{ID: uuid.New(), Name: "C1", DateCreated: time.Now().UTC()}
	errAbort := errors.New("abort")

	err := store.ExecUnderTx(ctx, func(tx ledger.Store) error {
		if err := tx.CreateCustomer(ctx, c); err != nil {
			return err
		}

		// Nested calls join the running transaction.
		return tx.ExecUnderTx(ctx, func(tx ledger.Store) error {
			if _, err := tx.QueryCustomerByID(ctx, c.ID); err != nil {
				return err
			}
			return errAbort
		})
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("got %v, want %v", err, errAbort)
	}

	if _, err := store.QueryCustomerByID(ctx, c.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("rolled back customer should not exist, got: %v", err)
	}

	err = store.ExecUnderTx(ctx, func(tx ledger.Store) error {
		return tx.CreateCustomer(ctx, c)
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if _, err := store.QueryCustomerByID(ctx, c.ID); err != nil {
		t.Errorf("committed customer should exist, got: %v", err)
	}
}
