package domain

import "errors"

// Validation errors. The gate that produced them stays open.
var (
	// ErrInvalidWeight is returned when a weight is not a positive number
	ErrInvalidWeight = errors.New("weight must be a number greater than zero")
	// ErrNoSelection is returned when an ambiguity gate is confirmed without a product
	ErrNoSelection = errors.New("select a product before confirming")
	// ErrInvalidSelection is returned when the selected product is not one of the offered candidates
	ErrInvalidSelection = errors.New("selected product is not one of the offered candidates")
	// ErrInvalidQuantity is returned for malformed quantity updates
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")
)

// Precondition errors. No state changes when they are returned.
var (
	// ErrLedgerEmpty is returned when proceeding to payment with nothing recognized
	ErrLedgerEmpty = errors.New("no items have been recognized yet")
	// ErrItemsNotBagged is returned when proceeding to payment before every item is bagged
	ErrItemsNotBagged = errors.New("please confirm all items are bagged before paying")
	// ErrGateOpen is returned when an action requires every gate to be closed
	ErrGateOpen = errors.New("a confirmation is still pending")
	// ErrNoGateOpen is returned when resolving a gate that is not the open one
	ErrNoGateOpen = errors.New("no matching confirmation is pending")
	// ErrPaymentInProgress is returned for session changes while payment is processing
	ErrPaymentInProgress = errors.New("payment is in progress")
	// ErrNoPaymentPending is returned when a payment result does not match the pending payment
	ErrNoPaymentPending = errors.New("no matching payment is pending")
	// ErrUnsupportedPaymentMethod is returned by the payment terminal
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
)

// Lookup errors.
var (
	// ErrProductNotFound is returned when a product id is not in the catalog
	ErrProductNotFound = errors.New("product not found in catalog")
	// ErrLineNotFound is returned when a ledger line id does not exist
	ErrLineNotFound = errors.New("recognized item not found")
)

var (
	// ErrStaleDetection is returned for detections that no longer match the session state
	ErrStaleDetection = errors.New("stale detection")
	// ErrOrchestratorStopped is returned when the orchestrator loop is not running
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
