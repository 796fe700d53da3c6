package domain

import "time"

// CheckoutItem is one physical unit handed to the payment flow.
type CheckoutItem struct {
	ProductID      string   `json:"productId"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	Quantity       int      `json:"quantity"`
	Weight         *float64 `json:"weight,omitempty"`
}

// PaymentRequest is the finalized ledger projected for the checkout handoff.
type PaymentRequest struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"sessionId"`
	Items         []CheckoutItem `json:"items"`
	DiscountCents int64          `json:"discountCents"`
	PaymentMethod string         `json:"paymentMethod"`
	Totals        Totals         `json:"totals"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// PaymentCallbacks report the outcome of a payment. Exactly one of them is
// invoked, exactly once, per PaymentRequest.
type PaymentCallbacks struct {
	OnSuccess func()
	OnCancel  func()
}
