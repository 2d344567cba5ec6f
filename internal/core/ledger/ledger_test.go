package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/core/ledger"
	"github.com/rschio/milkbill/internal/core/ledger/store/ledgersqlite"
	"github.com/rschio/milkbill/internal/data/dbtest"
)

func newCore(t *testing.T, opts ...ledger.Option) *ledger.Core {
	t.Helper()

	log, database, teardown := dbtest.NewSQLite(t)
	t.Cleanup(teardown)

	return ledger.NewCore(ledgersqlite.NewStore(log, database), opts...)
}

func mustCustomer(t *testing.T, core *ledger.Core, name string) ledger.Customer {
	t.Helper()

	c, err := core.CreateCustomer(context.Background(), ledger.NewCustomer{Name: name})
	if err != nil {
		t.Fatalf("failed to create customer %q: %v", name, err)
	}
	return c
}

func mustBill(t *testing.T, core *ledger.Core, customerID uuid.UUID, month, year string, amount ledger.Money) ledger.Bill {
	t.Helper()

	b, err := core.CreateBill(context.Background(), ledger.NewBill{
		CustomerID:  customerID,
		Month:       month,
		Year:        year,
		TotalMilk:   31,
		TotalAmount: amount,
	})
	if err != nil {
		t.Fatalf("failed to create bill %s/%s: %v", month, year, err)
	}
	return b
}

func mustPay(t *testing.T, core *ledger.Core, billID uuid.UUID, amount ledger.Money) {
	t.Helper()

	if _, err := core.RecordPayment(context.Background(), ledger.NewPayment{BillID: billID, Amount: amount}); err != nil {
		t.Fatalf("failed to record payment of %d: %v", amount, err)
	}
}

func TestBillLifecycle(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")
	b := mustBill(t, core, c.ID, "June", "2023", ledger.MoneyFromFloat(1240))

	if b.Period != (ledger.Period{Month: "06", Year: "2023"}) {
		t.Errorf("wrong period: %+v", b.Period)
	}

	_, err := core.CreateBill(ctx, ledger.NewBill{
		CustomerID:  c.ID,
		Month:       "june",
		Year:        "2023",
		TotalMilk:   10,
		TotalAmount: ledger.MoneyFromFloat(100),
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("second bill for the same period should conflict, got: %v", err)
	}

	steps := []struct {
		pay  ledger.Money
		want ledger.PaymentStatus
	}{
		{0, ledger.PaymentStatus{BillID: b.ID, TotalAmount: 124000, TotalPaid: 0, Status: ledger.StatusUnpaid, PendingAmount: 124000}},
		{50000, ledger.PaymentStatus{BillID: b.ID, TotalAmount: 124000, TotalPaid: 50000, Status: ledger.StatusPartiallyPaid, PendingAmount: 74000}},
		{74000, ledger.PaymentStatus{BillID: b.ID, TotalAmount: 124000, TotalPaid: 124000, Status: ledger.StatusFullyPaid, PendingAmount: 0}},
	}

	for _, s := range steps {
		if s.pay > 0 {
			mustPay(t, core, b.ID, s.pay)
		}

		got, err := core.BillStatus(ctx, b.ID)
		if err != nil {
			t.Fatalf("failed to query status: %v", err)
		}
		if diff := cmp.Diff(s.want, got); diff != "" {
			t.Errorf("wrong status after paying %d (-want +got):\n%s", s.pay, diff)
		}

		byPeriod, err := core.BillStatusByPeriod(ctx, c.ID, "6", "2023")
		if err != nil {
			t.Fatalf("failed to query status by period: %v", err)
		}
		if diff := cmp.Diff(got, byPeriod); diff != "" {
			t.Errorf("status by period differs (-byID +byPeriod):\n%s", diff)
		}
	}

	ps, err := core.QueryPayments(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to query payments: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("got %d payments, want 2", len(ps))
	}
	if ps[0].Amount != 50000 || ps[1].Amount != 74000 {
		t.Errorf("payments out of order: %d, %d", ps[0].Amount, ps[1].Amount)
	}
}

func TestStatusDerivation(t *testing.T) {
	tests := []struct {
		name        string
		payments    []ledger.Money
		wantPaid    ledger.Money
		wantStatus  ledger.Status
		wantPending ledger.Money
	}{
		{"no payments", nil, 0, ledger.StatusUnpaid, 124000},
		{"two partial payments", []ledger.Money{50000, 50000}, 100000, ledger.StatusPartiallyPaid, 24000},
		{"exact payment", []ledger.Money{124000}, 124000, ledger.StatusFullyPaid, 0},
		{"overpaid", []ledger.Money{100000, 50000}, 150000, ledger.StatusFullyPaid, -26000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			core := newCore(t)

			c := mustCustomer(t, core, "C1")
			b := mustBill(t, core, c.ID, "06", "2023", 124000)
			for _, p := range tt.payments {
				mustPay(t, core, b.ID, p)
			}

			got, err := core.BillStatus(ctx, b.ID)
			if err != nil {
				t.Fatalf("failed to query status: %v", err)
			}

			want := ledger.PaymentStatus{
				BillID:        b.ID,
				TotalAmount:   124000,
				TotalPaid:     tt.wantPaid,
				Status:        tt.wantStatus,
				PendingAmount: tt.wantPending,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("wrong status (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClampPending(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, ledger.WithClampPending(true))

	c := mustCustomer(t, core, "C1")
	b := mustBill(t, core, c.ID, "06", "2023", 1000)
	mustPay(t, core, b.ID, 1500)

	got, err := core.BillStatus(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to query status: %v", err)
	}
	if got.PendingAmount != 0 {
		t.Errorf("pending should be clamped to 0, got %d", got.PendingAmount)
	}
	if got.Status != ledger.StatusFullyPaid {
		t.Errorf("got status %q, want %q", got.Status, ledger.StatusFullyPaid)
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		total, paid ledger.Money
		want        ledger.Status
	}{
		{100, 0, ledger.StatusUnpaid},
		{100, 1, ledger.StatusPartiallyPaid},
		{100, 99, ledger.StatusPartiallyPaid},
		{100, 100, ledger.StatusFullyPaid},
		{100, 101, ledger.StatusFullyPaid},
	}

	for _, tt := range tests {
		if got := ledger.DeriveStatus(tt.total, tt.paid); got != tt.want {
			t.Errorf("DeriveStatus(%d, %d) = %q, want %q", tt.total, tt.paid, got, tt.want)
		}
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")
	b := mustBill(t, core, c.ID, "01", "2024", 1000)

	rank := map[ledger.Status]int{
		ledger.StatusUnpaid:        0,
		ledger.StatusPartiallyPaid: 1,
		ledger.StatusFullyPaid:     2,
	}

	last := 0
	for _, p := range []ledger.Money{1, 300, 250, 449, 1, 500} {
		mustPay(t, core, b.ID, p)

		got, err := core.BillStatus(ctx, b.ID)
		if err != nil {
			t.Fatalf("failed to query status: %v", err)
		}
		if rank[got.Status] < last {
			t.Fatalf("status regressed to %q after paying %d", got.Status, p)
		}
		last = rank[got.Status]
	}

	if last != rank[ledger.StatusFullyPaid] {
		t.Errorf("bill should end fully paid")
	}
}

func TestConcurrentCreateBill(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")

	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = core.CreateBill(ctx, ledger.NewBill{
				CustomerID:  c.ID,
				Month:       "July",
				Year:        "2023",
				TotalMilk:   30,
				TotalAmount: 120000,
			})
		}()
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ledger.ErrConflict):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("got %d bills created, want exactly 1", created)
	}

	bs, err := core.QueryCustomerBills(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to query bills: %v", err)
	}
	if len(bs) != 1 {
		t.Errorf("got %d stored bills, want 1", len(bs))
	}
}

func TestRecordPaymentMissingBill(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	for _, id := range []uuid.UUID{uuid.New(), uuid.Nil} {
		_, err := core.RecordPayment(ctx, ledger.NewPayment{BillID: id, Amount: 100})
		if !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("payment to bill %s should fail validation, got: %v", id, err)
		}
	}

	bs, err := core.ListBillsWithStatus(ctx)
	if err != nil {
		t.Fatalf("failed to list bills: %v", err)
	}
	if len(bs) != 0 {
		t.Errorf("got %d bills, want 0", len(bs))
	}

	_, err = core.QueryPayments(ctx, uuid.New())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("payments of a missing bill should be not found, got: %v", err)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")

	bills := map[string]ledger.NewBill{
		"no customer":     {Month: "06", Year: "2023", TotalMilk: 1, TotalAmount: 1},
		"zero amount":     {CustomerID: c.ID, Month: "06", Year: "2023", TotalMilk: 1, TotalAmount: 0},
		"negative amount": {CustomerID: c.ID, Month: "06", Year: "2023", TotalMilk: 1, TotalAmount: -5},
		"zero milk":       {CustomerID: c.ID, Month: "06", Year: "2023", TotalMilk: 0, TotalAmount: 1},
		"bad month":       {CustomerID: c.ID, Month: "13", Year: "2023", TotalMilk: 1, TotalAmount: 1},
		"empty month":     {CustomerID: c.ID, Month: "", Year: "2023", TotalMilk: 1, TotalAmount: 1},
		"short year":      {CustomerID: c.ID, Month: "06", Year: "23", TotalMilk: 1, TotalAmount: 1},
		"unknown cust":    {CustomerID: uuid.New(), Month: "06", Year: "2023", TotalMilk: 1, TotalAmount: 1},
		"huge amount":     {CustomerID: c.ID, Month: "06", Year: "2023", TotalMilk: 1, TotalAmount: ledger.MoneyFromFloat(1e17)},
	}
	for name, nb := range bills {
		if _, err := core.CreateBill(ctx, nb); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("%s: expected validation error, got: %v", name, err)
		}
	}

	b := mustBill(t, core, c.ID, "06", "2023", 100)
	for _, amount := range []ledger.Money{0, -1} {
		_, err := core.RecordPayment(ctx, ledger.NewPayment{BillID: b.ID, Amount: amount})
		if !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("payment of %d: expected validation error, got: %v", amount, err)
		}
	}

	if _, err := core.CreateCustomer(ctx, ledger.NewCustomer{Name: "   "}); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("blank name: expected validation error, got: %v", err)
	}
}

func TestPaymentsNearMaxMoney(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")
	b := mustBill(t, core, c.ID, "06", "2023", ledger.MoneyFromFloat(1240))
	mustBill(t, core, c.ID, "07", "2023", ledger.MaxMoney)

	for _, amount := range []ledger.Money{ledger.MaxMoney + 1, ledger.MoneyFromFloat(1e17), ledger.MoneyFromFloat(9e16)} {
		_, err := core.RecordPayment(ctx, ledger.NewPayment{BillID: b.ID, Amount: amount})
		if !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("payment of %d: expected validation error, got: %v", amount, err)
		}
	}

	mustPay(t, core, b.ID, ledger.MaxMoney-1)
	mustPay(t, core, b.ID, 1)

	_, err := core.RecordPayment(ctx, ledger.NewPayment{BillID: b.ID, Amount: 1})
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("payment past the bound: expected validation error, got: %v", err)
	}
	var lerr *ledger.Error
	if errors.As(err, &lerr) && lerr.Msg != "amount too large" {
		t.Errorf("got message %q", lerr.Msg)
	}

	st, err := core.BillStatus(ctx, b.ID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if st.TotalPaid != ledger.MaxMoney || st.Status != ledger.StatusFullyPaid {
		t.Errorf("got paid %d status %q", st.TotalPaid, st.Status)
	}

	ss, err := core.ListBillsWithStatus(ctx)
	if err != nil {
		t.Fatalf("failed to list bills: %v", err)
	}
	if len(ss) != 2 {
		t.Errorf("got %d bills, want 2", len(ss))
	}
}

func TestListBillsWithStatus(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c1 := mustCustomer(t, core, "C1")
	c2 := mustCustomer(t, core, "C2")

	may := mustBill(t, core, c1.ID, "May", "2023", 1000)
	june := mustBill(t, core, c1.ID, "June", "2023", 2000)
	dec := mustBill(t, core, c2.ID, "12", "2022", 3000)
	mustPay(t, core, june.ID, 500)

	want := []ledger.BillSummary{
		{BillID: june.ID, CustomerID: c1.ID, CustomerName: "C1", Period: june.Period, TotalAmount: 2000, TotalPaid: 500, Status: ledger.StatusPartiallyPaid, PendingAmount: 1500},
		{BillID: may.ID, CustomerID: c1.ID, CustomerName: "C1", Period: may.Period, TotalAmount: 1000, TotalPaid: 0, Status: ledger.StatusUnpaid, PendingAmount: 1000},
		{BillID: dec.ID, CustomerID: c2.ID, CustomerName: "C2", Period: dec.Period, TotalAmount: 3000, TotalPaid: 0, Status: ledger.StatusUnpaid, PendingAmount: 3000},
	}

	for range 2 {
		got, err := core.ListBillsWithStatus(ctx)
		if err != nil {
			t.Fatalf("failed to list bills: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("wrong listing (-want +got):\n%s", diff)
		}
	}

	got, err := core.QueryCustomerBills(ctx, c2.ID)
	if err != nil {
		t.Fatalf("failed to query customer bills: %v", err)
	}
	if diff := cmp.Diff(want[2:], got); diff != "" {
		t.Errorf("wrong customer bills (-want +got):\n%s", diff)
	}

	if _, err := core.QueryCustomerBills(ctx, uuid.New()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("bills of a missing customer should be not found, got: %v", err)
	}
}

func TestQueryNotFound(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)

	c := mustCustomer(t, core, "C1")

	if _, err := core.BillStatus(ctx, uuid.New()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("status of a missing bill: got %v", err)
	}
	if _, err := core.BillStatusByPeriod(ctx, c.ID, "06", "2023"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("status of a missing period: got %v", err)
	}
	if _, err := core.QueryCustomerByID(ctx, uuid.New()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing customer: got %v", err)
	}
	if _, err := core.QueryBillByPeriod(ctx, c.ID, "99", "2023"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("bad period: got %v", err)
	}
}

func TestPendingAmount(t *testing.T) {
	if got := ledger.PendingAmount(100, 150, false); got != -50 {
		t.Errorf("unclamped: got %d, want -50", got)
	}
	if got := ledger.PendingAmount(100, 150, true); got != 0 {
		t.Errorf("clamped: got %d, want 0", got)
	}
	if got := ledger.PendingAmount(100, 40, true); got != 60 {
		t.Errorf("underpaid: got %d, want 60", got)
	}
}
