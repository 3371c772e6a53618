package model

import "github.com/shopspring/decimal"

func init() {
	// The backend expects plain JSON numbers for money fields.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is a catalog entry as served by the backend. Stock is owned by the
// backend and only changes locally through a catalog refresh.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Barcode   string          `json:"barcode"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Unit      string          `json:"unit"`
	Stock     int             `json:"stock_quantity"`
}
