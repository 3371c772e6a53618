package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ManualBarcodePrefix marks lines that are not backed by a catalog product.
const ManualBarcodePrefix = "MANUAL-"

// CartLine is one row of the cart. Non-manual lines are unique per barcode.
type CartLine struct {
	ID        uuid.UUID       `json:"id"`
	ProductID int64           `json:"product_id,omitempty"`
	Barcode   string          `json:"barcode"`
	SKU       string          `json:"sku,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Unit      string          `json:"unit"`
	IsManual  bool            `json:"is_manual,omitempty"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewLineFromProduct builds a single-quantity line for a catalog product.
func NewLineFromProduct(p Product) CartLine {
	return CartLine{
		ID:        uuid.New(),
		ProductID: p.ID,
		Barcode:   p.Barcode,
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  1,
		Unit:      p.Unit,
	}
}

// ManualLineDraft is an ad-hoc item typed in by the cashier.
type ManualLineDraft struct {
	Name     string          `json:"name" validate:"required,max=255"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Unit     string          `json:"unit" validate:"max=20"`
	Quantity int             `json:"quantity" validate:"gte=0"`
}

// CartTotal is Σ quantity×price over lines.
func CartTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// CloneLines returns a copy that can be mutated without touching lines.
func CloneLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return []CartLine{}
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}

// CartSnapshot is the persisted cart used for reload recovery.
type CartSnapshot struct {
	Lines   []CartLine `json:"lines"`
	SavedAt int64      `json:"savedAt"`
}

func (s CartSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.SavedAt))
}

// PostSaleBackup keeps the lines of the last completed sale for a short grace window.
type PostSaleBackup struct {
	Lines   []CartLine `json:"lines"`
	SavedAt int64      `json:"savedAt"`
}

func (b PostSaleBackup) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(b.SavedAt))
}
