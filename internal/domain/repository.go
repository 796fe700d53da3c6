package domain

import "context"

// CatalogRepository defines product lookups. The catalog is in memory, so
// lookups are synchronous and cannot fail beyond "not present".
type CatalogRepository interface {
	Product(id string) (Product, bool)
	Similar(ids []string) []Product
	All() []Product
}

// DetectionSource produces detections while a scanning run is live.
// Start replaces any previous run; detections carry the given epoch.
type DetectionSource interface {
	Start(epoch uint64, sink func(Detection))
	Stop()
}

// CheckoutHandoff drives payment for a finalized ledger. Begin must not
// invoke the callbacks before it returns.
type CheckoutHandoff interface {
	Begin(ctx context.Context, request PaymentRequest, callbacks PaymentCallbacks) error
}

// EventEmitter publishes lane events to store monitoring. Emit never blocks.
type EventEmitter interface {
	Emit(event Event)
}
