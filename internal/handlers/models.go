package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rschio/milkbill/internal/core/ledger"
)

// token is a JSON string that also accepts a bare number, so a month or a
// year can be sent either way.
type token string

func (t *token) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = token(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a string or a number: %w", err)
	}
	*t = token(n.String())
	return nil
}

type LoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResp struct {
	Token string `json:"token"`
}

type CustomerReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type CustomerResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toCustomerResp(c ledger.Customer) CustomerResp {
	return CustomerResp{
		ID:        c.ID.String(),
		Name:      c.Name,
		Phone:     c.Phone,
		Address:   c.Address,
		CreatedAt: c.DateCreated,
	}
}

func toCustomersResp(cs []ledger.Customer) []CustomerResp {
	slice := make([]CustomerResp, len(cs))
	for i, c := range cs {
		slice[i] = toCustomerResp(c)
	}
	return slice
}

type BillReq struct {
	CustomerID  string  `json:"customerId"`
	Month       token   `json:"month"`
	Year        token   `json:"year"`
	TotalAmount float64 `json:"totalAmount"`
	TotalMilk   float64 `json:"totalMilk"`
}

type BillResp struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customerId"`
	Month       string    `json:"month"`
	Year        string    `json:"year"`
	TotalMilk   float64   `json:"totalMilk"`
	TotalAmount float64   `json:"totalAmount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toBillResp(b ledger.Bill) BillResp {
	return BillResp{
		ID:          b.ID.String(),
		CustomerID:  b.CustomerID.String(),
		Month:       b.Period.Month,
		Year:        b.Period.Year,
		TotalMilk:   b.TotalMilk,
		TotalAmount: b.TotalAmount.Float(),
		CreatedAt:   b.DateCreated,
	}
}

type PaymentReq struct {
	BillID string  `json:"billId"`
	Amount float64 `json:"amount"`
}

type PaymentResp struct {
	ID        string    `json:"id"`
	BillID    string    `json:"billId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func toPaymentResp(p ledger.Payment) PaymentResp {
	return PaymentResp{
		ID:        p.ID.String(),
		BillID:    p.BillID.String(),
		Amount:    p.Amount.Float(),
		CreatedAt: p.DateCreated,
	}
}

func toPaymentsResp(ps []ledger.Payment) []PaymentResp {
	slice := make([]PaymentResp, len(ps))
	for i, p := range ps {
		slice[i] = toPaymentResp(p)
	}
	return slice
}

type PaymentStatusResp struct {
	BillID        string  `json:"billId"`
	TotalAmount   float64 `json:"totalAmount"`
	TotalPaid     float64 `json:"totalPaid"`
	Status        string  `json:"status"`
	PendingAmount float64 `json:"pendingAmount"`
}

func toPaymentStatusResp(ps ledger.PaymentStatus) PaymentStatusResp {
	return PaymentStatusResp{
		BillID:        ps.BillID.String(),
		TotalAmount:   ps.TotalAmount.Float(),
		TotalPaid:     ps.TotalPaid.Float(),
		Status:        string(ps.Status),
		PendingAmount: ps.PendingAmount.Float(),
	}
}

type BillSummaryResp struct {
	BillID        string  `json:"billId"`
	CustomerID    string  `json:"customerId"`
	CustomerName  string  `json:"customerName"`
	Month         string  `json:"month"`
	Year          string  `json:"year"`
	TotalAmount   float64 `json:"totalAmount"`
	TotalPaid     float64 `json:"totalPaid"`
	Status        string  `json:"status"`
	PendingAmount float64 `json:"pendingAmount"`
}

func toBillSummariesResp(bs []ledger.BillSummary) []BillSummaryResp {
	slice := make([]BillSummaryResp, len(bs))
	for i, b := range bs {
		slice[i] = BillSummaryResp{
			BillID:        b.BillID.String(),
			CustomerID:    b.CustomerID.String(),
			CustomerName:  b.CustomerName,
			Month:         b.Period.Month,
			Year:          b.Period.Year,
			TotalAmount:   b.TotalAmount.Float(),
			TotalPaid:     b.TotalPaid.Float(),
			Status:        string(b.Status),
			PendingAmount: b.PendingAmount.Float(),
		}
	}
	return slice
}
