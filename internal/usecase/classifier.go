package usecase

import (
	"math/rand/v2"

	"github.com/visionlane/backend/internal/domain"
)

// Checks selects which gates a classification may open.
type Checks uint8

const (
	CheckAge Checks = 1 << iota
	CheckWeight
	CheckAmbiguity

	// AllChecks is used for fresh detections.
	AllChecks = CheckAge | CheckWeight | CheckAmbiguity
	// AfterAgeChecks is used once an attendant has approved the sale.
	AfterAgeChecks = CheckWeight | CheckAmbiguity
	// AfterSelectionChecks is used once the customer resolved an ambiguity.
	AfterSelectionChecks = CheckWeight
)

// ClassifierConfig holds the thresholds used to route detections.
type ClassifierConfig struct {
	ConfidenceThreshold float64
	DefaultConfidence   float64
	// MaxAlternatives caps synthesized candidates. Zero means the default
	// of 2, a negative value disables synthesis.
	MaxAlternatives int
}

// Outcome is the result of classifying one product. A nil Gate means the
// product may be accepted directly.
type Outcome struct {
	Product    domain.Product
	Confidence float64
	Gate       domain.GateRequest
	// LowConfidenceAccept is set when the ambiguity gate was skipped because
	// no alternative could be offered.
	LowConfidenceAccept bool
}

// Accepted reports whether no gate has to be resolved.
func (o Outcome) Accepted() bool {
	return o.Gate == nil
}

// Classifier decides which gate, if any, a detected product must pass.
type Classifier struct {
	catalog domain.CatalogRepository
	config  ClassifierConfig
	rng     *rand.Rand
}

// NewClassifier creates a classifier. A nil rng uses a randomly seeded source.
func NewClassifier(catalog domain.CatalogRepository, config ClassifierConfig, rng *rand.Rand) *Classifier {
	if config.ConfidenceThreshold == 0 {
		config.ConfidenceThreshold = 0.75
	}
	if config.DefaultConfidence == 0 {
		config.DefaultConfidence = 0.95
	}
	if config.MaxAlternatives == 0 {
		config.MaxAlternatives = 2
	}
	if config.MaxAlternatives < 0 {
		config.MaxAlternatives = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Classifier{catalog: catalog, config: config, rng: rng}
}

// ConfidenceOf returns the confidence a detection of product would carry.
func (c *Classifier) ConfidenceOf(product domain.Product) float64 {
	if product.SimulatedBaseConfidence != nil {
		return *product.SimulatedBaseConfidence
	}
	return c.config.DefaultConfidence
}

// Classify evaluates the enabled checks in priority order: age, weight,
// ambiguity. The first gate that applies wins. ageApproved reports whether
// the product was already approved for this session.
func (c *Classifier) Classify(product domain.Product, confidence float64, checks Checks, ageApproved func(productID string) bool) Outcome {
	outcome := Outcome{Product: product, Confidence: confidence}

	if checks&CheckAge != 0 && product.RequiresAgeVerification {
		if ageApproved == nil || !ageApproved(product.ID) {
			outcome.Gate = domain.AgeRequest{Product: product}
			return outcome
		}
	}

	if checks&CheckWeight != 0 && product.RequiresScale {
		outcome.Gate = domain.WeightRequest{Product: product}
		return outcome
	}

	if checks&CheckAmbiguity != 0 {
		reason, ambiguous := c.ambiguityReason(product, confidence)
		if !ambiguous {
			return outcome
		}
		alternatives := c.alternatives(product, reason)
		if len(alternatives) == 0 {
			outcome.LowConfidenceAccept = true
			return outcome
		}
		outcome.Gate = domain.AmbiguityRequest{
			Product:    product,
			Candidates: append([]domain.Product{product}, alternatives...),
			Reason:     reason,
		}
	}

	return outcome
}

func (c *Classifier) ambiguityReason(product domain.Product, confidence float64) (domain.AmbiguityReason, bool) {
	switch {
	case confidence < c.config.ConfidenceThreshold:
		return domain.ReasonLowConfidence, true
	case product.IsOftenMisidentified:
		return domain.ReasonMisidentified, true
	case product.IsVisuallyAmbiguous:
		return domain.ReasonGeneral, true
	}
	return "", false
}

// alternatives resolves the similar products of a detection. For low
// confidence and misidentification it falls back to sampling other catalog
// products so the customer always has a choice.
func (c *Classifier) alternatives(product domain.Product, reason domain.AmbiguityReason) []domain.Product {
	var similar []domain.Product
	for _, p := range c.catalog.Similar(product.SimilarProductIDs) {
		if p.ID != product.ID {
			similar = append(similar, p)
		}
	}
	if len(similar) > 0 || reason == domain.ReasonGeneral {
		return similar
	}

	var others []domain.Product
	for _, p := range c.catalog.All() {
		if p.ID != product.ID {
			others = append(others, p)
		}
	}
	limit := min(c.config.MaxAlternatives, len(others))
	sampled := make([]domain.Product, 0, limit)
	for _, idx := range c.rng.Perm(len(others))[:limit] {
		sampled = append(sampled, others[idx])
	}
	return sampled
}
