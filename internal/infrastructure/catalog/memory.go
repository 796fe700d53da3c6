package catalog

import (
	"sync"

	"github.com/visionlane/backend/internal/domain"
)

// MemoryCatalog is a thread-safe in-memory product catalog that keeps the
// order products were added in
type MemoryCatalog struct {
	products map[string]domain.Product
	order    []string
	mutex    sync.RWMutex
}

// NewMemoryCatalog creates a catalog holding the given products. A later
// product with the same id replaces the earlier one.
func NewMemoryCatalog(products ...domain.Product) *MemoryCatalog {
	c := &MemoryCatalog{
		products: make(map[string]domain.Product, len(products)),
	}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put adds or replaces a product
func (c *MemoryCatalog) Put(product domain.Product) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.products[product.ID]; !exists {
		c.order = append(c.order, product.ID)
	}
	c.products[product.ID] = product
}

// Product returns the product with the given id
func (c *MemoryCatalog) Product(id string) (domain.Product, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	p, ok := c.products[id]
	return p, ok
}

// Similar resolves ids in order, skipping unknown and repeated ids
func (c *MemoryCatalog) Similar(ids []string) []domain.Product {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	seen := make(map[string]bool, len(ids))
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// All returns every product in insertion order
func (c *MemoryCatalog) All() []domain.Product {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// Len returns the number of products (for debugging/monitoring)
func (c *MemoryCatalog) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.products)
}
