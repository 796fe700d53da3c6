package usecase

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/visionlane/backend/internal/domain"
)

// ledgerLine keeps the catalog record next to the line so prices can be
// recomputed after quantity changes.
type ledgerLine struct {
	domain.RecognitionLine
	product domain.Product
}

// DefaultMaxLineQuantity caps the units a single line may hold.
const DefaultMaxLineQuantity = 99

// Ledger is the authoritative list of items accepted into the checkout.
// It is not safe for concurrent use; the session owns it.
type Ledger struct {
	lines       []*ledgerLine
	newID       func() string
	maxQuantity int
}

// NewLedger creates an empty ledger. A maxQuantity of zero or less uses
// DefaultMaxLineQuantity.
func NewLedger(maxQuantity int) *Ledger {
	if maxQuantity <= 0 {
		maxQuantity = DefaultMaxLineQuantity
	}
	return &Ledger{newID: uuid.NewString, maxQuantity: maxQuantity}
}

// MaxQuantity returns the per-line unit cap.
func (l *Ledger) MaxQuantity() int { return l.maxQuantity }

// CanAdd reports whether quantity more units fit under the (product, weight) key.
func (l *Ledger) CanAdd(productID string, weight *float64, quantity int) bool {
	for _, line := range l.lines {
		if line.ProductID == productID && line.SameWeight(weight) {
			return line.Quantity+quantity <= l.maxQuantity
		}
	}
	return quantity <= l.maxQuantity
}

// Upsert adds quantity units of product under the (product, weight) key,
// never above the per-line cap. It returns the resulting line and whether a
// new line was appended.
func (l *Ledger) Upsert(product domain.Product, quantity int, weight *float64) (domain.RecognitionLine, bool) {
	quantity = min(max(quantity, 1), l.maxQuantity)
	basis := UnitBasisCents(product, weight)

	for _, line := range l.lines {
		if line.ProductID == product.ID && line.SameWeight(weight) {
			line.Quantity = min(line.Quantity+quantity, l.maxQuantity)
			line.UnitPriceCents = basis
			line.CalculatedPriceCents = basis * int64(line.Quantity)
			line.IsBagged = false
			return line.RecognitionLine, false
		}
	}

	line := &ledgerLine{
		RecognitionLine: domain.RecognitionLine{
			ID:                   l.newID(),
			ProductID:            product.ID,
			Name:                 product.Name,
			Quantity:             quantity,
			Weight:               copyWeight(weight),
			UnitPriceCents:       basis,
			CalculatedPriceCents: basis * int64(quantity),
		},
		product: product,
	}
	if weight != nil {
		line.UnitName = product.DisplayUnit()
	}
	l.lines = append(l.lines, line)
	return line.RecognitionLine, true
}

// SetQuantity changes the quantity of a line. A quantity of zero or less
// removes the line; removed reports that case. Quantities above the cap are
// rejected with ErrInvalidQuantity.
func (l *Ledger) SetQuantity(id string, quantity int) (line domain.RecognitionLine, removed bool, err error) {
	idx := l.index(id)
	if idx < 0 {
		return domain.RecognitionLine{}, false, domain.ErrLineNotFound
	}
	if quantity > l.maxQuantity {
		return domain.RecognitionLine{}, false, fmt.Errorf("%w: %d exceeds the limit of %d per line",
			domain.ErrInvalidQuantity, quantity, l.maxQuantity)
	}
	if quantity <= 0 {
		line = l.lines[idx].RecognitionLine
		l.lines = append(l.lines[:idx], l.lines[idx+1:]...)
		return line, true, nil
	}

	target := l.lines[idx]
	target.Quantity = quantity
	target.CalculatedPriceCents = target.UnitPriceCents * int64(quantity)
	target.IsBagged = false
	return target.RecognitionLine, false, nil
}

// Remove deletes a line regardless of its quantity.
func (l *Ledger) Remove(id string) (domain.RecognitionLine, error) {
	idx := l.index(id)
	if idx < 0 {
		return domain.RecognitionLine{}, domain.ErrLineNotFound
	}
	line := l.lines[idx].RecognitionLine
	l.lines = append(l.lines[:idx], l.lines[idx+1:]...)
	return line, nil
}

// MarkAgeVerified records that an attendant approved the sale on a line.
func (l *Ledger) MarkAgeVerified(id string) (domain.RecognitionLine, error) {
	idx := l.index(id)
	if idx < 0 {
		return domain.RecognitionLine{}, domain.ErrLineNotFound
	}
	l.lines[idx].AgeVerified = true
	return l.lines[idx].RecognitionLine, nil
}

// AgeVerified reports whether some line of the product carries an attendant
// approval.
func (l *Ledger) AgeVerified(productID string) bool {
	for _, line := range l.lines {
		if line.ProductID == productID && line.AgeVerified {
			return true
		}
	}
	return false
}

// MarkAllBagged flags every line as bagged.
func (l *Ledger) MarkAllBagged() {
	for _, line := range l.lines {
		line.IsBagged = true
	}
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.lines = nil
}

// Len returns the number of lines.
func (l *Ledger) Len() int {
	return len(l.lines)
}

// AllBagged reports whether the ledger is non-empty and every line is bagged.
func (l *Ledger) AllBagged() bool {
	if len(l.lines) == 0 {
		return false
	}
	for _, line := range l.lines {
		if !line.IsBagged {
			return false
		}
	}
	return true
}

// Lines returns a copy of the ledger lines in insertion order.
func (l *Ledger) Lines() []domain.RecognitionLine {
	out := make([]domain.RecognitionLine, 0, len(l.lines))
	for _, line := range l.lines {
		copied := line.RecognitionLine
		copied.Weight = copyWeight(line.Weight)
		out = append(out, copied)
	}
	return out
}

// Subtotal sums the calculated price of every line.
func (l *Ledger) Subtotal() int64 {
	var sum int64
	for _, line := range l.lines {
		sum += line.CalculatedPriceCents
	}
	return sum
}

// Totals derives subtotal, tax and grand total at the given tax rate.
func (l *Ledger) Totals(taxRate float64) domain.Totals {
	return ComputeTotals(l.Subtotal(), 0, taxRate)
}

// CheckoutItems expands every line into one entry per physical unit.
func (l *Ledger) CheckoutItems() []domain.CheckoutItem {
	var items []domain.CheckoutItem
	for _, line := range l.lines {
		for i := 0; i < line.Quantity; i++ {
			items = append(items, domain.CheckoutItem{
				ProductID:      line.ProductID,
				Name:           line.Name,
				UnitPriceCents: line.UnitPriceCents,
				Quantity:       1,
				Weight:         copyWeight(line.Weight),
			})
		}
	}
	return items
}

func (l *Ledger) index(id string) int {
	for i, line := range l.lines {
		if line.ID == id {
			return i
		}
	}
	return -1
}

// UnitBasisCents is the price of one unit: price per unit times weight for
// weighed items that carry a unit price, the flat price otherwise.
func UnitBasisCents(product domain.Product, weight *float64) int64 {
	if weight != nil && product.PricePerUnitCents != nil {
		return roundCents(float64(*product.PricePerUnitCents) * *weight)
	}
	return product.PriceCents
}

// ComputeTotals applies a discount and tax to a subtotal. The discount never
// takes the taxable amount below zero.
func ComputeTotals(subtotal, discount int64, taxRate float64) domain.Totals {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	taxable := subtotal - discount
	tax := roundCents(float64(taxable) * taxRate)
	return domain.Totals{
		SubtotalCents:   subtotal,
		DiscountCents:   discount,
		TaxCents:        tax,
		GrandTotalCents: taxable + tax,
	}
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}

func copyWeight(w *float64) *float64 {
	if w == nil {
		return nil
	}
	v := *w
	return &v
}
