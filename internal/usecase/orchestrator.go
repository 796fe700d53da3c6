package usecase

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/visionlane/backend/internal/domain"
)

const defaultQueueSize = 64

// OrchestratorConfig holds configuration for the orchestrator
type OrchestratorConfig struct {
	LaneID    string
	QueueSize int
}

// Orchestrator owns a Session and serializes every mutation through a
// single queue drained by Run. It keeps the detection source running exactly
// while the session is Scanning.
type Orchestrator struct {
	session *Session
	source  domain.DetectionSource
	handoff domain.CheckoutHandoff
	emitter domain.EventEmitter
	logger  *zap.Logger

	queue   chan func()
	done    chan struct{}
	runCtx  context.Context
	started chan struct{}

	sourceRunning bool
	sourceEpoch   uint64
}

// NewOrchestrator creates an orchestrator. source, emitter and logger may be nil.
func NewOrchestrator(
	session *Session,
	source domain.DetectionSource,
	handoff domain.CheckoutHandoff,
	emitter domain.EventEmitter,
	logger *zap.Logger,
	config OrchestratorConfig,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Orchestrator{
		session: session,
		source:  source,
		handoff: handoff,
		emitter: emitter,
		logger:  logger.With(zap.String("lane_id", config.LaneID), zap.String("session_id", session.ID())),
		queue:   make(chan func(), queueSize),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled. It must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	close(o.started)
	defer close(o.done)
	defer o.stopSource()

	o.logger.Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return nil
		case fn := <-o.queue:
			fn()
			o.settle()
		}
	}
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error { return nil })
}

// StartScanning switches the camera scan on.
func (o *Orchestrator) StartScanning(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, o.session.StartScanning)
}

// StopScanning switches the camera scan off.
func (o *Orchestrator) StopScanning(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, o.session.StopScanning)
}

// ConfirmAge resolves the age gate as verified by an attendant.
func (o *Orchestrator) ConfirmAge(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error {
		outcome, err := o.session.ConfirmAge()
		if err == nil {
			o.logOutcome("age verified", outcome)
		}
		return err
	})
}

// ConfirmWeight resolves the weight gate with the entered weight.
func (o *Orchestrator) ConfirmWeight(ctx context.Context, weight string) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error {
		line, err := o.session.ConfirmWeight(weight)
		if err != nil {
			return err
		}
		o.logger.Info("weighed item accepted",
			zap.String("product_id", line.ProductID),
			zap.Int("quantity", line.Quantity),
			zap.Int64("calculated_price_cents", line.CalculatedPriceCents),
		)
		return nil
	})
}

// ConfirmAmbiguity resolves the ambiguity gate with the selected product.
func (o *Orchestrator) ConfirmAmbiguity(ctx context.Context, productID string) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error {
		outcome, err := o.session.ConfirmAmbiguity(productID)
		if err == nil {
			o.logOutcome("ambiguity resolved", outcome)
		}
		return err
	})
}

// CancelGate closes the open gate of the given kind.
func (o *Orchestrator) CancelGate(ctx context.Context, kind domain.GateKind) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error { return o.session.CancelGate(kind) })
}

// UpdateQuantity changes a line's quantity.
func (o *Orchestrator) UpdateQuantity(ctx context.Context, lineID string, quantity int) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error {
		_, err := o.session.UpdateQuantity(lineID, quantity)
		return err
	})
}

// RemoveLine deletes a ledger line.
func (o *Orchestrator) RemoveLine(ctx context.Context, lineID string) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error { return o.session.RemoveLine(lineID) })
}

// MarkAllBagged confirms bagging of every line.
func (o *Orchestrator) MarkAllBagged(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, o.session.MarkAllBagged)
}

// ClearTray resets the ledger and stops scanning.
func (o *Orchestrator) ClearTray(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, o.session.ClearTray)
}

// RequestAssistance calls the lane attendant.
func (o *Orchestrator) RequestAssistance(ctx context.Context) (domain.SessionSnapshot, error) {
	return o.exec(ctx, func() error {
		o.session.RequestAssistance()
		o.logger.Warn("assistance requested")
		return nil
	})
}

// ProceedToPayment hands the finalized ledger to the checkout handoff.
func (o *Orchestrator) ProceedToPayment(ctx context.Context, discountCents int64, method string) (domain.PaymentRequest, domain.SessionSnapshot, error) {
	var request domain.PaymentRequest
	snap, err := o.exec(ctx, func() error {
		req, err := o.session.BeginPayment(discountCents, method)
		if err != nil {
			return err
		}

		paymentID := req.ID
		callbacks := domain.PaymentCallbacks{
			OnSuccess: func() { o.paymentResult(paymentID, true) },
			OnCancel:  func() { o.paymentResult(paymentID, false) },
		}
		if err := o.handoff.Begin(ctx, req, callbacks); err != nil {
			_ = o.session.CancelPayment(paymentID)
			return eris.Wrap(err, "orchestrator: begin payment")
		}

		o.logger.Info("payment started",
			zap.String("payment_id", paymentID),
			zap.Int("units", len(req.Items)),
			zap.Int64("grand_total_cents", req.Totals.GrandTotalCents),
		)
		request = req
		return nil
	})
	return request, snap, err
}

// Submit enqueues a detection without waiting. It is the sink handed to the
// detection source.
func (o *Orchestrator) Submit(det domain.Detection) {
	fn := func() {
		outcome, err := o.session.HandleDetection(det)
		if err != nil {
			if errors.Is(err, domain.ErrStaleDetection) {
				o.logger.Debug("discarding stale detection",
					zap.String("product_id", det.Product.ID),
					zap.Uint64("epoch", det.Epoch),
					zap.Error(err),
				)
				return
			}
			o.logger.Error("detection failed", zap.String("product_id", det.Product.ID), zap.Error(err))
			return
		}
		o.logOutcome("detection processed", outcome)
	}

	select {
	case o.queue <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) paymentResult(paymentID string, success bool) {
	ctx := context.Background()
	select {
	case <-o.started:
		ctx = o.runCtx
	default:
	}

	var err error
	if success {
		_, err = o.exec(ctx, func() error { return o.session.CompletePayment(paymentID) })
	} else {
		_, err = o.exec(ctx, func() error { return o.session.CancelPayment(paymentID) })
	}
	if err != nil {
		o.logger.Warn("payment result ignored",
			zap.String("payment_id", paymentID),
			zap.Bool("success", success),
			zap.Error(err),
		)
		return
	}
	o.logger.Info("payment finished", zap.String("payment_id", paymentID), zap.Bool("success", success))
}

// exec runs fn on the orchestrator goroutine and returns the snapshot taken
// right after it.
func (o *Orchestrator) exec(ctx context.Context, fn func() error) (domain.SessionSnapshot, error) {
	type result struct {
		snap domain.SessionSnapshot
		err  error
	}
	reply := make(chan result, 1)
	task := func() {
		err := fn()
		if err != nil {
			o.logRejection(err)
		}
		o.settle()
		reply <- result{snap: o.session.Snapshot(), err: err}
	}

	select {
	case o.queue <- task:
	case <-o.done:
		return domain.SessionSnapshot{}, domain.ErrOrchestratorStopped
	case <-ctx.Done():
		return domain.SessionSnapshot{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.snap, r.err
	case <-o.done:
		return domain.SessionSnapshot{}, domain.ErrOrchestratorStopped
	case <-ctx.Done():
		return domain.SessionSnapshot{}, ctx.Err()
	}
}

// settle brings the detection source and the emitter in line with the
// session after a mutation.
func (o *Orchestrator) settle() {
	o.syncSource()
	o.flushEvents()
}

// syncSource starts a new detection run whenever the session enters a new
// Scanning epoch and stops it in every other state.
func (o *Orchestrator) syncSource() {
	if o.source == nil {
		return
	}
	scanning := o.session.State() == domain.StateScanning
	epoch := o.session.Epoch()

	switch {
	case scanning && (!o.sourceRunning || o.sourceEpoch != epoch):
		o.source.Start(epoch, o.Submit)
		o.sourceRunning = true
		o.sourceEpoch = epoch
		o.logger.Debug("detection source started", zap.Uint64("epoch", epoch))
	case !scanning && o.sourceRunning:
		o.stopSource()
	}
}

func (o *Orchestrator) stopSource() {
	if o.source == nil || !o.sourceRunning {
		return
	}
	o.source.Stop()
	o.sourceRunning = false
	o.logger.Debug("detection source stopped", zap.Uint64("epoch", o.sourceEpoch))
}

func (o *Orchestrator) flushEvents() {
	events := o.session.DrainEvents()
	if o.emitter == nil {
		return
	}
	for _, event := range events {
		o.emitter.Emit(event)
	}
}

// logRejection keeps input mistakes at debug; precondition failures are
// worth seeing at info.
func (o *Orchestrator) logRejection(err error) {
	if IsValidationError(err) {
		o.logger.Debug("input rejected", zap.Error(err))
		return
	}
	o.logger.Info("operation rejected", zap.String("state", string(o.session.State())), zap.Error(err))
}

func (o *Orchestrator) logOutcome(msg string, outcome Outcome) {
	fields := []zap.Field{
		zap.String("product_id", outcome.Product.ID),
		zap.Float64("confidence", outcome.Confidence),
		zap.Bool("accepted", outcome.Accepted()),
		zap.String("state", string(o.session.State())),
	}
	if outcome.Gate != nil {
		fields = append(fields, zap.String("gate", string(outcome.Gate.Kind())))
	}
	o.logger.Info(msg, fields...)
}
