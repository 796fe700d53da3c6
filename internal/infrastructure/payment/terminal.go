package payment

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/visionlane/backend/internal/domain"
)

// pendingPayment is a transaction waiting for the customer at the terminal
type pendingPayment struct {
	request   domain.PaymentRequest
	callbacks domain.PaymentCallbacks
}

// Terminal is a simulated payment terminal driven by the kiosk UI. It holds
// each request until Complete or Cancel is called for it.
type Terminal struct {
	methods map[string]bool
	logger  *zap.Logger

	pending map[string]pendingPayment
	mutex   sync.Mutex
}

// NewTerminal creates a terminal accepting the given payment methods
func NewTerminal(methods []string, logger *zap.Logger) *Terminal {
	if logger == nil {
		logger = zap.NewNop()
	}
	accepted := make(map[string]bool, len(methods))
	for _, m := range methods {
		accepted[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return &Terminal{
		methods: accepted,
		logger:  logger,
		pending: make(map[string]pendingPayment),
	}
}

// Begin records a payment. Callbacks fire later from Complete or Cancel.
func (t *Terminal) Begin(ctx context.Context, request domain.PaymentRequest, callbacks domain.PaymentCallbacks) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "payment: begin")
	}
	if !t.methods[strings.ToLower(request.PaymentMethod)] {
		return eris.Wrapf(domain.ErrUnsupportedPaymentMethod, "payment: method %q", request.PaymentMethod)
	}
	if request.ID == "" || len(request.Items) == 0 {
		return eris.Wrap(domain.ErrInvalidRequest, "payment: empty request")
	}

	t.mutex.Lock()
	t.pending[request.ID] = pendingPayment{request: request, callbacks: callbacks}
	t.mutex.Unlock()

	t.logger.Info("payment awaiting customer",
		zap.String("payment_id", request.ID),
		zap.String("method", request.PaymentMethod),
		zap.Int64("grand_total_cents", request.Totals.GrandTotalCents),
	)
	return nil
}

// Complete reports success for a pending payment
func (t *Terminal) Complete(id string) error {
	p, err := t.take(id)
	if err != nil {
		return err
	}
	if p.callbacks.OnSuccess != nil {
		p.callbacks.OnSuccess()
	}
	return nil
}

// Cancel reports cancellation for a pending payment
func (t *Terminal) Cancel(id string) error {
	p, err := t.take(id)
	if err != nil {
		return err
	}
	if p.callbacks.OnCancel != nil {
		p.callbacks.OnCancel()
	}
	return nil
}

// Pending lists open payment requests, oldest first
func (t *Terminal) Pending() []domain.PaymentRequest {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	out := make([]domain.PaymentRequest, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p.request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// take removes a pending payment so each one resolves exactly once
func (t *Terminal) take(id string) (pendingPayment, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return pendingPayment{}, eris.Wrapf(domain.ErrNoPaymentPending, "payment: %s", id)
	}
	delete(t.pending, id)
	return p, nil
}
