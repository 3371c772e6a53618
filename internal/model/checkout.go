package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel is the settlement channel of a checkout attempt.
type Channel string

const (
	ChannelCash  Channel = "cash"
	ChannelQR    Channel = "qr"
	ChannelDebit Channel = "debit"
)

func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelCash, ChannelQR, ChannelDebit:
		return Channel(s), true
	}
	return "", false
}

type CheckoutState string

const (
	StateIdle           CheckoutState = "idle"
	StateValidating     CheckoutState = "validating"
	StateAwaitingResult CheckoutState = "awaiting_result"
	StateCommitted      CheckoutState = "committed"
	StateAborted        CheckoutState = "aborted"
)

// CheckoutSession is one settlement attempt. Lines and Total are frozen when
// the attempt enters AwaitingResult.
type CheckoutSession struct {
	ID        uuid.UUID         `json:"id"`
	Channel   Channel           `json:"channel"`
	State     CheckoutState     `json:"state"`
	Total     decimal.Decimal   `json:"total"`
	Lines     []CartLine        `json:"lines"`
	QR        *QRPayment        `json:"qr,omitempty"`
	Result    *SettlementResult `json:"result,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
}

// Active reports whether the session still blocks a new attempt.
func (s CheckoutSession) Active() bool {
	return s.State == StateValidating || s.State == StateAwaitingResult
}

// QRPayment is a pending bank-transfer order.
type QRPayment struct {
	OrderCode       int64     `json:"order_code"`
	TransactionCode string    `json:"transaction_code"`
	QRCode          string    `json:"qr_code"`
	ExpiresAt       time.Time `json:"expires_at"`
	Resumed         bool      `json:"resumed,omitempty"`
}

// PendingQR is the session-scoped record that lets a restarted terminal
// resume the same pending order.
type PendingQR struct {
	OrderCode       int64           `json:"orderCode"`
	TransactionCode string          `json:"transactionCode"`
	QRCode          string          `json:"qrCode"`
	Amount          decimal.Decimal `json:"amount"`
	ExpiresAt       int64           `json:"expiresAt"`
}

type CashTender struct {
	Received decimal.Decimal `json:"received" validate:"gt=0"`
	Note     string          `json:"note" validate:"max=500"`
}

type DebitRequest struct {
	CustomerName string `json:"customer_name" validate:"required,max=255"`
	Phone        string `json:"phone" validate:"required,numeric,min=8,max=15"`
	Address      string `json:"address" validate:"max=255"`
	Note         string `json:"note" validate:"max=500"`
}

// SettlementResult is the success payload that closes a session.
type SettlementResult struct {
	Channel     Channel         `json:"channel"`
	Total       decimal.Decimal `json:"total"`
	Received    decimal.Decimal `json:"received,omitempty"`
	Change      decimal.Decimal `json:"change,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	CustomerID  int64           `json:"customer_id,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// StockViolation describes a line that no longer fits the catalog stock.
type StockViolation struct {
	LineID    uuid.UUID `json:"line_id"`
	Barcode   string    `json:"barcode"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}
