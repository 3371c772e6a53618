package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EnvelopeSuccess is the status sentinel of a successful backend response.
const EnvelopeSuccess = "success"

// Envelope wraps every backend response.
type Envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// SaleItem is a cart line as posted to the backend.
type SaleItem struct {
	Barcode   string          `json:"barcode"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

func SaleItemsFromLines(lines []CartLine) []SaleItem {
	items := make([]SaleItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, SaleItem{
			Barcode:   l.Barcode,
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
			LineTotal: l.LineTotal(),
		})
	}
	return items
}

type CashPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Items         []SaleItem      `json:"items"`
	PaymentMethod string          `json:"payment_method"`
	Note          string          `json:"note"`
}

type SaleReceipt struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// PaymentItem is the item shape of the payment provider.
type PaymentItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	OrderCode   int64           `json:"orderCode"`
	CancelURL   string          `json:"cancelUrl"`
	ReturnURL   string          `json:"returnUrl"`
	Items       []PaymentItem   `json:"items"`
}

type CreatePaymentResponse struct {
	QRCode    string `json:"qrCode"`
	OrderCode int64  `json:"orderCode"`
}

type CreateCustomerRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address,omitempty"`
}

type Customer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type CreateDebitRequest struct {
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Items      []SaleItem      `json:"items"`
	Note       string          `json:"note"`
}

type Debit struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}
