package usecase

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/visionlane/backend/internal/domain"
)

// SessionConfig holds configuration for a checkout session
type SessionConfig struct {
	TaxRate float64
	// ReverifyAgePerUnit asks for attendant approval on every detection of an
	// age-restricted product instead of once per product per session.
	ReverifyAgePerUnit bool
	MaxNotices         int
	MaxLineQuantity    int
	Classifier         ClassifierConfig
	Rand               *rand.Rand
	Now                func() time.Time
}

// Session is the single owned state of one checkout lane: session state,
// pending gate and ledger. Age approvals live on ledger lines. It is not safe for concurrent use;
// the Orchestrator serializes every call.
type Session struct {
	id         string
	config     SessionConfig
	classifier *Classifier
	ledger     *Ledger

	state          domain.SessionState
	scanningActive bool
	epoch          uint64

	gate           domain.GateRequest
	gateConfidence float64

	// approvedAge is the product an attendant approved for the detection
	// still in flight through the later gates.
	approvedAge string
	payment     *domain.PaymentRequest

	notices []domain.Notice
	outbox  []domain.Event
}

// NewSession creates an idle session with an empty ledger.
func NewSession(catalog domain.CatalogRepository, config SessionConfig) *Session {
	if config.TaxRate < 0 {
		config.TaxRate = 0
	}
	if config.MaxNotices <= 0 {
		config.MaxNotices = 20
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Session{
		id:         uuid.NewString(),
		config:     config,
		classifier: NewClassifier(catalog, config.Classifier, config.Rand),
		ledger:     NewLedger(config.MaxLineQuantity),
		state:      domain.StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the active session state.
func (s *Session) State() domain.SessionState { return s.state }

// Epoch increments on every state change. Detections stamped with an older
// epoch are stale.
func (s *Session) Epoch() uint64 { return s.epoch }

// ScanningActive reports whether the customer has scanning switched on,
// including while a gate pauses it.
func (s *Session) ScanningActive() bool { return s.scanningActive }

// Gate returns the pending gate, or nil.
func (s *Session) Gate() domain.GateRequest { return s.gate }

// Ledger exposes the session ledger for reads.
func (s *Session) Ledger() *Ledger { return s.ledger }

// StartScanning switches scanning on.
func (s *Session) StartScanning() error {
	if err := s.requireNoGate(); err != nil {
		return err
	}
	s.scanningActive = true
	s.setState(domain.StateScanning)
	return nil
}

// StopScanning switches scanning off.
func (s *Session) StopScanning() error {
	if err := s.requireNoGate(); err != nil {
		return err
	}
	s.scanningActive = false
	s.setState(domain.StateIdle)
	return nil
}

// HandleDetection classifies a detection and applies the outcome. Detections
// from an earlier scanning run, or arriving outside Scanning, are rejected
// with ErrStaleDetection and leave the session untouched.
func (s *Session) HandleDetection(det domain.Detection) (Outcome, error) {
	if det.Epoch != s.epoch || s.state != domain.StateScanning || s.gate != nil {
		return Outcome{}, fmt.Errorf("%w: epoch %d, current epoch %d, state %s",
			domain.ErrStaleDetection, det.Epoch, s.epoch, s.state)
	}
	outcome := s.classifier.Classify(det.Product, det.Confidence, AllChecks, s.isAgeApproved)
	s.apply(outcome)
	return outcome, nil
}

// ConfirmAge records attendant approval and re-classifies the product from
// the weight check onwards.
func (s *Session) ConfirmAge() (Outcome, error) {
	req, ok := s.gate.(domain.AgeRequest)
	if !ok {
		return Outcome{}, domain.ErrNoGateOpen
	}
	product := req.Product
	confidence := s.gateConfidence
	s.closeGate()
	s.approvedAge = product.ID
	s.notify(domain.NoticeSuccess, "age_verified", fmt.Sprintf("Age verified for %s", product.Name), product.ID)

	outcome := s.classifier.Classify(product, confidence, AfterAgeChecks, s.isAgeApproved)
	s.apply(outcome)
	return outcome, nil
}

// ConfirmWeight validates the entered weight and adds one weighed unit.
// Invalid input keeps the gate open.
func (s *Session) ConfirmWeight(input string) (domain.RecognitionLine, error) {
	req, ok := s.gate.(domain.WeightRequest)
	if !ok {
		return domain.RecognitionLine{}, domain.ErrNoGateOpen
	}
	weight, err := ParseWeight(input)
	if err != nil {
		return domain.RecognitionLine{}, err
	}

	s.closeGate()
	line := s.accept(req.Product, &weight)
	s.setState(s.restingState())
	return line, nil
}

// ConfirmAmbiguity accepts the customer's choice among the offered
// candidates and re-classifies it for weighing only.
func (s *Session) ConfirmAmbiguity(productID string) (Outcome, error) {
	req, ok := s.gate.(domain.AmbiguityRequest)
	if !ok {
		return Outcome{}, domain.ErrNoGateOpen
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Outcome{}, domain.ErrNoSelection
	}

	var selected *domain.Product
	for i := range req.Candidates {
		if req.Candidates[i].ID == productID {
			selected = &req.Candidates[i]
			break
		}
	}
	if selected == nil {
		return Outcome{}, domain.ErrInvalidSelection
	}

	product := *selected
	s.closeGate()
	outcome := s.classifier.Classify(product, 1, AfterSelectionChecks, s.isAgeApproved)
	s.apply(outcome)
	return outcome, nil
}

// CancelGate closes the open gate of the given kind and discards the
// detection that opened it.
func (s *Session) CancelGate(kind domain.GateKind) error {
	if s.gate == nil || s.gate.Kind() != kind {
		return domain.ErrNoGateOpen
	}
	product := s.gate.Subject()
	s.closeGate()
	s.approvedAge = ""
	s.notify(domain.NoticeInfo, "detection_discarded", fmt.Sprintf("%s was not added", product.Name), product.ID)
	s.setState(s.restingState())
	return nil
}

// UpdateQuantity sets a line's quantity; zero or less removes it.
func (s *Session) UpdateQuantity(lineID string, quantity int) (domain.RecognitionLine, error) {
	if err := s.requireNotPaying(); err != nil {
		return domain.RecognitionLine{}, err
	}
	line, removed, err := s.ledger.SetQuantity(lineID, quantity)
	if err != nil {
		return domain.RecognitionLine{}, err
	}
	if removed {
		s.notify(domain.NoticeInfo, "item_removed", fmt.Sprintf("%s removed", line.Name), line.ProductID)
	} else {
		s.notify(domain.NoticeSuccess, "item_updated", fmt.Sprintf("%s quantity set to %d", line.Name, line.Quantity), line.ProductID)
	}
	return line, nil
}

// RemoveLine deletes a ledger line.
func (s *Session) RemoveLine(lineID string) error {
	if err := s.requireNotPaying(); err != nil {
		return err
	}
	line, err := s.ledger.Remove(lineID)
	if err != nil {
		return err
	}
	s.notify(domain.NoticeInfo, "item_removed", fmt.Sprintf("%s removed", line.Name), line.ProductID)
	return nil
}

// MarkAllBagged confirms every line is in the bagging area.
func (s *Session) MarkAllBagged() error {
	if err := s.requireNotPaying(); err != nil {
		return err
	}
	if s.ledger.Len() == 0 {
		return nil
	}
	s.ledger.MarkAllBagged()
	s.notify(domain.NoticeSuccess, "all_items_bagged", "All items confirmed in the bagging area", "")
	return nil
}

// ClearTray empties the ledger, discards any open gate, forgets age
// approvals and stops scanning.
func (s *Session) ClearTray() error {
	if err := s.requireNotPaying(); err != nil {
		return err
	}
	s.ledger.Clear()
	s.closeGate()
	s.approvedAge = ""
	s.scanningActive = false
	s.notify(domain.NoticeInfo, "tray_cleared", "Tray cleared", "")
	s.setState(domain.StateIdle)
	return nil
}

// RequestAssistance records a call for the lane attendant.
func (s *Session) RequestAssistance() {
	s.notify(domain.NoticeWarning, "assistance_requested", "An attendant has been called and will be with you shortly", "")
}

// CanProceedToPayment returns nil when the checkout may proceed, otherwise
// the reason it may not.
func (s *Session) CanProceedToPayment() error {
	switch {
	case s.state == domain.StatePaymentProcessing:
		return domain.ErrPaymentInProgress
	case s.gate != nil || s.state.IsGate():
		return domain.ErrGateOpen
	case s.ledger.Len() == 0:
		return domain.ErrLedgerEmpty
	case !s.ledger.AllBagged():
		return domain.ErrItemsNotBagged
	}
	return nil
}

// BeginPayment stops scanning, enters PaymentProcessing and returns the
// ledger projected into one entry per physical unit.
func (s *Session) BeginPayment(discountCents int64, method string) (domain.PaymentRequest, error) {
	method = strings.TrimSpace(method)
	if discountCents < 0 || method == "" {
		return domain.PaymentRequest{}, domain.ErrInvalidRequest
	}
	if err := s.CanProceedToPayment(); err != nil {
		return domain.PaymentRequest{}, err
	}

	request := domain.PaymentRequest{
		ID:            uuid.NewString(),
		SessionID:     s.id,
		Items:         s.ledger.CheckoutItems(),
		DiscountCents: discountCents,
		PaymentMethod: method,
		Totals:        ComputeTotals(s.ledger.Subtotal(), discountCents, s.config.TaxRate),
		CreatedAt:     s.config.Now(),
	}
	s.payment = &request
	s.scanningActive = false
	s.notify(domain.NoticeInfo, "payment_started", "Proceeding to payment", "")
	s.setState(domain.StatePaymentProcessing)
	return request, nil
}

// CompletePayment clears the session after a successful payment.
func (s *Session) CompletePayment(paymentID string) error {
	if s.payment == nil || s.payment.ID != paymentID {
		return domain.ErrNoPaymentPending
	}
	s.payment = nil
	s.ledger.Clear()
	s.notify(domain.NoticeSuccess, "payment_confirmed", "Payment confirmed, thank you", "")
	s.setState(domain.StateIdle)
	return nil
}

// CancelPayment returns to Idle keeping the ledger.
func (s *Session) CancelPayment(paymentID string) error {
	if s.payment == nil || s.payment.ID != paymentID {
		return domain.ErrNoPaymentPending
	}
	s.payment = nil
	s.notify(domain.NoticeInfo, "payment_cancelled", "Payment cancelled, your items are kept", "")
	s.setState(domain.StateIdle)
	return nil
}

// Snapshot copies the session for the UI.
func (s *Session) Snapshot() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		ID:             s.id,
		State:          s.state,
		ScanningActive: s.scanningActive,
		Gate:           domain.NewGateView(s.gate),
		Lines:          s.ledger.Lines(),
		Totals:         s.ledger.Totals(s.config.TaxRate),
		Notices:        append([]domain.Notice(nil), s.notices...),
	}
	if err := s.CanProceedToPayment(); err != nil {
		snap.BlockedReason = err.Error()
	} else {
		snap.CanProceedToPayment = true
	}
	if s.payment != nil {
		snap.PendingPaymentID = s.payment.ID
	}
	return snap
}

// DrainEvents returns and forgets the events recorded since the last call.
func (s *Session) DrainEvents() []domain.Event {
	events := s.outbox
	s.outbox = nil
	return events
}

// apply opens the gate chosen by the classifier or accepts the product.
func (s *Session) apply(outcome Outcome) {
	if outcome.Gate != nil {
		s.gate = outcome.Gate
		s.gateConfidence = outcome.Confidence
		s.notify(domain.NoticeInfo, "gate_"+string(outcome.Gate.Kind()),
			gateMessage(outcome.Gate), outcome.Product.ID)
		s.setState(outcome.Gate.Kind().State())
		return
	}

	if outcome.LowConfidenceAccept {
		s.notify(domain.NoticeWarning, "added_low_confidence",
			fmt.Sprintf("%s added with low confidence, please check your items", outcome.Product.Name), outcome.Product.ID)
	}
	s.accept(outcome.Product, nil)
	s.setState(s.restingState())
}

// accept adds one unit to the ledger. A line at its quantity cap drops the
// unit with a warning and returns the zero line.
func (s *Session) accept(product domain.Product, weight *float64) domain.RecognitionLine {
	approved := s.approvedAge == product.ID
	s.approvedAge = ""
	if !s.ledger.CanAdd(product.ID, weight, 1) {
		s.notify(domain.NoticeWarning, "quantity_limit",
			fmt.Sprintf("%s was not added, a line holds at most %d units", product.Name, s.ledger.MaxQuantity()), product.ID)
		return domain.RecognitionLine{}
	}

	verified := product.RequiresAgeVerification && (approved || s.ledger.AgeVerified(product.ID))
	line, created := s.ledger.Upsert(product, 1, weight)
	if verified {
		line, _ = s.ledger.MarkAgeVerified(line.ID)
	}
	if created {
		s.notify(domain.NoticeSuccess, "item_added", fmt.Sprintf("%s added", product.Name), product.ID)
	} else {
		s.notify(domain.NoticeSuccess, "item_updated", fmt.Sprintf("%s quantity is now %d", product.Name, line.Quantity), product.ID)
	}
	return line
}

func (s *Session) closeGate() {
	s.gate = nil
	s.gateConfidence = 0
}

func (s *Session) restingState() domain.SessionState {
	if s.scanningActive {
		return domain.StateScanning
	}
	return domain.StateIdle
}

func (s *Session) setState(next domain.SessionState) {
	if next == s.state {
		return
	}
	s.state = next
	s.epoch++
	s.outbox = append(s.outbox, domain.Event{
		SessionID: s.id,
		Type:      "state_changed",
		State:     next,
		At:        s.config.Now(),
	})
}

func (s *Session) notify(level domain.NoticeLevel, code, message, productID string) {
	notice := domain.Notice{
		Level:     level,
		Code:      code,
		Message:   message,
		ProductID: productID,
		At:        s.config.Now(),
	}
	s.notices = append(s.notices, notice)
	if over := len(s.notices) - s.config.MaxNotices; over > 0 {
		s.notices = append([]domain.Notice(nil), s.notices[over:]...)
	}
	s.outbox = append(s.outbox, domain.Event{
		SessionID: s.id,
		Type:      code,
		State:     s.state,
		ProductID: productID,
		Message:   message,
		At:        notice.At,
	})
}

// isAgeApproved holds while a ledger line of the product carries an
// attendant approval, so removing the line revokes it.
func (s *Session) isAgeApproved(productID string) bool {
	if s.config.ReverifyAgePerUnit {
		return false
	}
	return s.ledger.AgeVerified(productID)
}

func (s *Session) requireNotPaying() error {
	if s.state == domain.StatePaymentProcessing {
		return domain.ErrPaymentInProgress
	}
	return nil
}

func (s *Session) requireNoGate() error {
	if err := s.requireNotPaying(); err != nil {
		return err
	}
	if s.gate != nil {
		return domain.ErrGateOpen
	}
	return nil
}

func gateMessage(gate domain.GateRequest) string {
	product := gate.Subject()
	switch req := gate.(type) {
	case domain.AgeRequest:
		return fmt.Sprintf("%s requires age verification by an attendant", product.Name)
	case domain.WeightRequest:
		return fmt.Sprintf("Please weigh %s and enter the weight in %s", product.Name, product.DisplayUnit())
	case domain.AmbiguityRequest:
		switch req.Reason {
		case domain.ReasonLowConfidence:
			return fmt.Sprintf("Low confidence detecting %s, please confirm the product", product.Name)
		case domain.ReasonMisidentified:
			return fmt.Sprintf("%s may have been misidentified, please confirm the product", product.Name)
		}
		return fmt.Sprintf("Please confirm the detected product %s", product.Name)
	}
	return product.Name
}

// ParseWeight accepts a positive, finite decimal number.
func ParseWeight(input string) (float64, error) {
	weight, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidWeight, input)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidWeight, input)
	}
	return weight, nil
}

// IsValidationError reports whether err leaves the open gate in place for a retry.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidWeight) ||
		errors.Is(err, domain.ErrNoSelection) ||
		errors.Is(err, domain.ErrInvalidSelection) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidRequest)
}
