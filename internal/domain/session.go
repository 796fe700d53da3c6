package domain

import "time"

// SessionState is the single active state of a checkout session.
type SessionState string

const (
	StateIdle                  SessionState = "idle"
	StateScanning              SessionState = "scanning"
	StateAmbiguityCheck        SessionState = "ambiguity_check"
	StateWeightCheck           SessionState = "weight_check"
	StateAgeVerificationNeeded SessionState = "age_verification_needed"
	StatePaymentProcessing     SessionState = "payment_processing"
)

// IsGate reports whether the state belongs to an open gate.
func (s SessionState) IsGate() bool {
	switch s {
	case StateAmbiguityCheck, StateWeightCheck, StateAgeVerificationNeeded:
		return true
	}
	return false
}

// GateKind names one of the three resolution gates.
type GateKind string

const (
	GateAge       GateKind = "age"
	GateWeight    GateKind = "weight"
	GateAmbiguity GateKind = "ambiguity"
)

// State returns the session state that corresponds to an open gate.
func (k GateKind) State() SessionState {
	switch k {
	case GateAge:
		return StateAgeVerificationNeeded
	case GateWeight:
		return StateWeightCheck
	case GateAmbiguity:
		return StateAmbiguityCheck
	}
	return StateIdle
}

// ParseGateKind converts a path segment into a GateKind.
func ParseGateKind(s string) (GateKind, bool) {
	switch k := GateKind(s); k {
	case GateAge, GateWeight, GateAmbiguity:
		return k, true
	}
	return "", false
}

// AmbiguityReason explains why the ambiguity gate was opened.
type AmbiguityReason string

const (
	ReasonLowConfidence AmbiguityReason = "low_confidence"
	ReasonMisidentified AmbiguityReason = "misidentified"
	ReasonGeneral       AmbiguityReason = "general"
)

// GateRequest is the one pending gate of a session. The concrete types are
// AgeRequest, WeightRequest and AmbiguityRequest.
type GateRequest interface {
	Kind() GateKind
	Subject() Product
	gateRequest()
}

// AgeRequest asks an attendant to approve an age-restricted sale.
type AgeRequest struct {
	Product Product
}

func (AgeRequest) Kind() GateKind     { return GateAge }
func (r AgeRequest) Subject() Product { return r.Product }
func (AgeRequest) gateRequest()       {}

// WeightRequest asks the customer for the weight of a scale item.
type WeightRequest struct {
	Product Product
}

func (WeightRequest) Kind() GateKind     { return GateWeight }
func (r WeightRequest) Subject() Product { return r.Product }
func (WeightRequest) gateRequest()       {}

// AmbiguityRequest asks the customer to pick the right product.
// Candidates always start with the detected product.
type AmbiguityRequest struct {
	Product    Product
	Candidates []Product
	Reason     AmbiguityReason
}

func (AmbiguityRequest) Kind() GateKind     { return GateAmbiguity }
func (r AmbiguityRequest) Subject() Product { return r.Product }
func (AmbiguityRequest) gateRequest()       {}

// GateView is the JSON projection of a pending gate handed to the kiosk UI.
type GateView struct {
	Kind       GateKind        `json:"kind"`
	Product    Product         `json:"product"`
	Candidates []Product       `json:"candidates,omitempty"`
	Reason     AmbiguityReason `json:"reason,omitempty"`
	UnitName   string          `json:"unitName,omitempty"`
}

// NewGateView projects a gate request for display.
func NewGateView(r GateRequest) *GateView {
	if r == nil {
		return nil
	}
	view := &GateView{Kind: r.Kind(), Product: r.Subject()}
	switch req := r.(type) {
	case WeightRequest:
		view.UnitName = req.Product.DisplayUnit()
	case AmbiguityRequest:
		view.Candidates = req.Candidates
		view.Reason = req.Reason
	}
	return view
}

// NoticeLevel mirrors the kiosk toast severity.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a user-facing message produced by a session transition.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	ProductID string      `json:"productId,omitempty"`
	At        time.Time   `json:"at"`
}

// Event is the record published to store monitoring for every notice and
// state change of a lane.
type Event struct {
	SessionID string       `json:"sessionId"`
	Type      string       `json:"type"`
	State     SessionState `json:"state"`
	ProductID string       `json:"productId,omitempty"`
	Message   string       `json:"message,omitempty"`
	At        time.Time    `json:"at"`
}

// SessionSnapshot is a read-only copy of the session for the UI.
type SessionSnapshot struct {
	ID                  string            `json:"id"`
	State               SessionState      `json:"state"`
	ScanningActive      bool              `json:"scanningActive"`
	Gate                *GateView         `json:"gate,omitempty"`
	Lines               []RecognitionLine `json:"lines"`
	Totals              Totals            `json:"totals"`
	CanProceedToPayment bool              `json:"canProceedToPayment"`
	BlockedReason       string            `json:"blockedReason,omitempty"`
	PendingPaymentID    string            `json:"pendingPaymentId,omitempty"`
	Notices             []Notice          `json:"notices"`
}
