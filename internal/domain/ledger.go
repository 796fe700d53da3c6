package domain

// RecognitionLine is one accepted line of the current checkout. Lines are
// keyed by (ProductID, Weight); two weighings of the same product are
// separate lines.
type RecognitionLine struct {
	ID                   string   `json:"id"`
	ProductID            string   `json:"productId"`
	Name                 string   `json:"name"`
	Quantity             int      `json:"quantity"`
	Weight               *float64 `json:"weight,omitempty"`
	UnitName             string   `json:"unitName,omitempty"`
	UnitPriceCents       int64    `json:"unitPriceCents"`
	CalculatedPriceCents int64    `json:"calculatedPriceCents"`
	IsBagged             bool     `json:"isBagged"`
	// AgeVerified marks lines whose sale an attendant approved.
	AgeVerified          bool     `json:"ageVerified,omitempty"`
}

// SameWeight reports whether the line was recorded with weight w.
func (l RecognitionLine) SameWeight(w *float64) bool {
	if l.Weight == nil || w == nil {
		return l.Weight == nil && w == nil
	}
	return *l.Weight == *w
}

// Totals are derived from the ledger on every read.
type Totals struct {
	SubtotalCents   int64 `json:"subtotalCents"`
	DiscountCents   int64 `json:"discountCents,omitempty"`
	TaxCents        int64 `json:"taxCents"`
	GrandTotalCents int64 `json:"grandTotalCents"`
}
