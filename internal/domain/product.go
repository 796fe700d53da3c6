package domain

// Product is an immutable catalog record as seen by the recognition flow.
// Prices are in minor currency units (cents).
type Product struct {
	ID                      string   `json:"id" yaml:"id"`
	Name                    string   `json:"name" yaml:"name"`
	PriceCents              int64    `json:"priceCents" yaml:"price_cents"`
	Category                string   `json:"category" yaml:"category"`
	RequiresAgeVerification bool     `json:"requiresAgeVerification" yaml:"requires_age_verification"`
	RequiresScale           bool     `json:"requiresScale" yaml:"requires_scale"`
	PricePerUnitCents       *int64   `json:"pricePerUnitCents,omitempty" yaml:"price_per_unit_cents"`
	UnitName                string   `json:"unitName,omitempty" yaml:"unit_name"`
	IsVisuallyAmbiguous     bool     `json:"isVisuallyAmbiguous" yaml:"visually_ambiguous"`
	IsOftenMisidentified    bool     `json:"isOftenMisidentified" yaml:"often_misidentified"`
	SimilarProductIDs       []string `json:"similarProductIds,omitempty" yaml:"similar_product_ids"`
	SimulatedBaseConfidence *float64 `json:"simulatedBaseConfidence,omitempty" yaml:"simulated_base_confidence"`
}

// DisplayUnit returns the unit the weight prompt is expressed in.
func (p Product) DisplayUnit() string {
	if p.UnitName == "" {
		return "units"
	}
	return p.UnitName
}

// Detection is a single recognition result produced by the detection source.
// Epoch identifies the scanning run that produced it.
type Detection struct {
	Product    Product `json:"product"`
	Confidence float64 `json:"confidence"`
	Epoch      uint64  `json:"epoch"`
}
