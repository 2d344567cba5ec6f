package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Money is a monetary amount in minor units (paise). Arithmetic on Money is
// integer only.
type Money int64

// MaxMoney bounds every bill amount and the payments credited to one bill,
// so that sums over a bill always fit in an int64.
const MaxMoney Money = 10_000_000_000_000

// MoneyFromFloat converts a decimal amount, rounding to two decimals. Values
// beyond MaxMoney in either direction saturate just past it so validation
// rejects them as too large. NaN converts to zero.
func MoneyFromFloat(f float64) Money {
	v := math.Round(f * 100)
	switch {
	case math.IsNaN(v):
		return 0
	case v > float64(MaxMoney):
		return MaxMoney + 1
	case v < -float64(MaxMoney):
		return -(MaxMoney + 1)
	}
	return Money(v)
}

// Float returns m as a decimal amount.
func (m Money) Float() float64 {
	return float64(m) / 100
}

// Status is the payment state of a bill.
type Status string

// Set of bill payment states.
const (
	StatusUnpaid        Status = "Unpaid"
	StatusPartiallyPaid Status = "Partially Paid"
	StatusFullyPaid     Status = "Fully Paid"
)

type Customer struct {
	ID          uuid.UUID
	Name        string
	Phone       string
	Address     string
	DateCreated time.Time
}

type NewCustomer struct {
	Name    string
	Phone   string
	Address string
}

type Bill struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	Period      Period
	TotalMilk   float64
	TotalAmount Money
	DateCreated time.Time
}

type NewBill struct {
	CustomerID  uuid.UUID
	Month       string
	Year        string
	TotalMilk   float64
	TotalAmount Money
}

type Payment struct {
	ID          uuid.UUID
	BillID      uuid.UUID
	Amount      Money
	DateCreated time.Time
}

type NewPayment struct {
	BillID uuid.UUID
	Amount Money
}

// Tally is a bill with the sum of its payments, as aggregated by a Store.
type Tally struct {
	BillID       uuid.UUID
	CustomerID   uuid.UUID
	CustomerName string
	Period       Period
	TotalAmount  Money
	TotalPaid    Money
}

// PaymentStatus is the derived payment state of one bill.
type PaymentStatus struct {
	BillID        uuid.UUID
	TotalAmount   Money
	TotalPaid     Money
	Status        Status
	PendingAmount Money
}

// BillSummary is a bill joined with its customer and payment state.
type BillSummary struct {
	BillID        uuid.UUID
	CustomerID    uuid.UUID
	CustomerName  string
	Period        Period
	TotalAmount   Money
	TotalPaid     Money
	Status        Status
	PendingAmount Money
}
