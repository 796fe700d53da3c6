package catalog

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/visionlane/backend/internal/domain"
)

//go:embed seed.yaml
var seedCatalog []byte

// file is the on-disk catalog layout
type file struct {
	Products []domain.Product `yaml:"products"`
}

// LoadDefault builds a catalog from the embedded seed data
func LoadDefault() (*MemoryCatalog, error) {
	return Parse(seedCatalog)
}

// LoadFile builds a catalog from a YAML file. An empty path loads the seed.
func LoadFile(path string) (*MemoryCatalog, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load %s", path)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*MemoryCatalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: decode yaml")
	}
	if len(f.Products) == 0 {
		return nil, eris.New("catalog: no products defined")
	}

	seen := make(map[string]bool, len(f.Products))
	for i, p := range f.Products {
		if err := validateProduct(p); err != nil {
			return nil, eris.Wrapf(err, "catalog: product %d", i)
		}
		if seen[p.ID] {
			return nil, eris.Errorf("catalog: duplicate product id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return NewMemoryCatalog(f.Products...), nil
}

func validateProduct(p domain.Product) error {
	if p.ID == "" {
		return eris.New("id is required")
	}
	if p.Name == "" {
		return eris.Errorf("%s: name is required", p.ID)
	}
	if p.PriceCents < 0 {
		return eris.Errorf("%s: price_cents must not be negative", p.ID)
	}
	if p.PricePerUnitCents != nil && *p.PricePerUnitCents < 0 {
		return eris.Errorf("%s: price_per_unit_cents must not be negative", p.ID)
	}
	if c := p.SimulatedBaseConfidence; c != nil && (*c < 0 || *c > 1) {
		return eris.Errorf("%s: simulated_base_confidence must be between 0 and 1", p.ID)
	}
	return nil
}
