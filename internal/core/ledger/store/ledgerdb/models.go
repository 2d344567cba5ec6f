package ledgerdb

import (
	"time"

	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/core/ledger"
)

type dbCustomer struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Phone       string    `db:"phone"`
	Address     string    `db:"address"`
	DateCreated time.Time `db:"created_at"`
}

func toDBCustomer(c ledger.Customer) dbCustomer {
	return dbCustomer{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		Address:     c.Address,
		DateCreated: c.DateCreated.UTC(),
	}
}

func toCustomer(c dbCustomer) ledger.Customer {
	return ledger.Customer{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		Address:     c.Address,
		DateCreated: c.DateCreated.UTC(),
	}
}

func toCustomers(cs []dbCustomer) []ledger.Customer {
	slice := make([]ledger.Customer, len(cs))
	for i, c := range cs {
		slice[i] = toCustomer(c)
	}
	return slice
}

type dbBill struct {
	ID          uuid.UUID `db:"id"`
	CustomerID  uuid.UUID `db:"customer_id"`
	Month       string    `db:"month"`
	Year        string    `db:"year"`
	TotalMilk   float64   `db:"total_milk"`
	TotalAmount int64     `db:"total_amount"`
	DateCreated time.Time `db:"created_at"`
}

func toDBBill(b ledger.Bill) dbBill {
	return dbBill{
		ID:          b.ID,
		CustomerID:  b.CustomerID,
		Month:       b.Period.Month,
		Year:        b.Period.Year,
		TotalMilk:   b.TotalMilk,
		TotalAmount: int64(b.TotalAmount),
		DateCreated: b.DateCreated.UTC(),
	}
}

func toBill(b dbBill) ledger.Bill {
	return ledger.Bill{
		ID:          b.ID,
		CustomerID:  b.CustomerID,
		Period:      ledger.Period{Month: b.Month, Year: b.Year},
		TotalMilk:   b.TotalMilk,
		TotalAmount: ledger.Money(b.TotalAmount),
		DateCreated: b.DateCreated.UTC(),
	}
}

type dbPayment struct {
	ID          uuid.UUID `db:"id"`
	BillID      uuid.UUID `db:"bill_id"`
	Amount      int64     `db:"amount"`
	DateCreated time.Time `db:"created_at"`
}

func toDBPayment(p ledger.Payment) dbPayment {
	return dbPayment{
		ID:          p.ID,
		BillID:      p.BillID,
		Amount:      int64(p.Amount),
		DateCreated: p.DateCreated.UTC(),
	}
}

func toPayments(ps []dbPayment) []ledger.Payment {
	slice := make([]ledger.Payment, len(ps))
	for i, p := range ps {
		slice[i] = ledger.Payment{
			ID:          p.ID,
			BillID:      p.BillID,
			Amount:      ledger.Money(p.Amount),
			DateCreated: p.DateCreated.UTC(),
		}
	}
	return slice
}

type dbTally struct {
	BillID       uuid.UUID `db:"bill_id"`
	CustomerID   uuid.UUID `db:"customer_id"`
	CustomerName string    `db:"customer_name"`
	Month        string    `db:"month"`
	Year         string    `db:"year"`
	TotalAmount  int64     `db:"total_amount"`
	TotalPaid    int64     `db:"total_paid"`
}

func toTally(t dbTally) ledger.Tally {
	return ledger.Tally{
		BillID:       t.BillID,
		CustomerID:   t.CustomerID,
		CustomerName: t.CustomerName,
		Period:       ledger.Period{Month: t.Month, Year: t.Year},
		TotalAmount:  ledger.Money(t.TotalAmount),
		TotalPaid:    ledger.Money(t.TotalPaid),
	}
}

func toTallies(ts []dbTally) []ledger.Tally {
	slice := make([]ledger.Tally, len(ts))
	for i, t := range ts {
		slice[i] = toTally(t)
	}
	return slice
}
