package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/visionlane/backend/internal/domain"
	"github.com/visionlane/backend/internal/usecase"
)

const (
	serviceName    = "visionlane-backend"
	serviceVersion = "1.0.0"
)

// PaymentTerminal is the kiosk-facing side of the checkout handoff
type PaymentTerminal interface {
	Complete(id string) error
	Cancel(id string) error
	Pending() []domain.PaymentRequest
}

// StatusFunc reports the live counters of a lane component
type StatusFunc func() interface{}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	orchestrator *usecase.Orchestrator
	catalog      domain.CatalogRepository
	terminal     PaymentTerminal
	logger       *zap.Logger
	components   map[string]StatusFunc
}

// NewHandler creates a new HTTP handler. Nil dependencies make the matching
// endpoints answer 503.
func NewHandler(orchestrator *usecase.Orchestrator, catalog domain.CatalogRepository, terminal PaymentTerminal, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		catalog:      catalog,
		terminal:     terminal,
		logger:       logger,
		components:   make(map[string]StatusFunc),
	}
}

// RegisterStatus adds a component to the health report. It must be called
// before the router starts serving.
func (h *Handler) RegisterStatus(name string, fn StatusFunc) {
	h.components[name] = fn
}

// weightRequest accepts the weight as a JSON number or numeric string
type weightRequest struct {
	Weight json.Number `json:"weight"`
}

type selectionRequest struct {
	ProductID string `json:"productId"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type checkoutRequest struct {
	DiscountCents int64  `json:"discountCents"`
	PaymentMethod string `json:"paymentMethod"`
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	}
	if len(h.components) > 0 {
		components := make(gin.H, len(h.components))
		for name, fn := range h.components {
			components[name] = fn()
		}
		body["components"] = components
	}
	c.JSON(http.StatusOK, body)
}

// ListCatalog returns every product of the lane catalog
func (h *Handler) ListCatalog(c *gin.Context) {
	if h.catalog == nil {
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": h.catalog.All()})
}

// GetProduct returns one catalog product
func (h *Handler) GetProduct(c *gin.Context) {
	if h.catalog == nil {
		h.unavailable(c)
		return
	}
	product, ok := h.catalog.Product(c.Param("id"))
	if !ok {
		h.writeError(c, domain.ErrProductNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// GetSession returns the current session snapshot
func (h *Handler) GetSession(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.Snapshot(c.Request.Context())
	})
}

// StartScan switches scanning on
func (h *Handler) StartScan(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.StartScanning(c.Request.Context())
	})
}

// StopScan switches scanning off
func (h *Handler) StopScan(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.StopScanning(c.Request.Context())
	})
}

// VerifyAge resolves the age gate after attendant approval
func (h *Handler) VerifyAge(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.ConfirmAge(c.Request.Context())
	})
}

// ConfirmWeight resolves the weight gate
func (h *Handler) ConfirmWeight(c *gin.Context) {
	var req weightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.withSnapshot(c, domain.ErrInvalidWeight)
		return
	}
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.ConfirmWeight(c.Request.Context(), req.Weight.String())
	})
}

// ConfirmAmbiguity resolves the ambiguity gate with the chosen product
func (h *Handler) ConfirmAmbiguity(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.withSnapshot(c, domain.ErrNoSelection)
		return
	}
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.ConfirmAmbiguity(c.Request.Context(), req.ProductID)
	})
}

// CancelGate closes the gate named in the path
func (h *Handler) CancelGate(c *gin.Context) {
	kind, ok := domain.ParseGateKind(c.Param("kind"))
	if !ok {
		h.withSnapshot(c, domain.ErrNoGateOpen)
		return
	}
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.CancelGate(c.Request.Context(), kind)
	})
}

// UpdateLine changes the quantity of a recognized item
func (h *Handler) UpdateLine(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		h.withSnapshot(c, domain.ErrInvalidQuantity)
		return
	}
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.UpdateQuantity(c.Request.Context(), c.Param("id"), *req.Quantity)
	})
}

// RemoveLine deletes a recognized item
func (h *Handler) RemoveLine(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.RemoveLine(c.Request.Context(), c.Param("id"))
	})
}

// ConfirmBagging marks every recognized item as bagged
func (h *Handler) ConfirmBagging(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.MarkAllBagged(c.Request.Context())
	})
}

// ClearTray empties the tray
func (h *Handler) ClearTray(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.ClearTray(c.Request.Context())
	})
}

// RequestAssistance calls the lane attendant
func (h *Handler) RequestAssistance(c *gin.Context) {
	h.session(c, func(o *usecase.Orchestrator) (domain.SessionSnapshot, error) {
		return o.RequestAssistance(c.Request.Context())
	})
}

// Checkout proceeds to payment
func (h *Handler) Checkout(c *gin.Context) {
	if h.orchestrator == nil {
		h.unavailable(c)
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.withSnapshot(c, domain.ErrInvalidRequest)
		return
	}

	payment, snap, err := h.orchestrator.ProceedToPayment(c.Request.Context(), req.DiscountCents, req.PaymentMethod)
	if err != nil {
		h.writeError(c, err, &snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment, "session": snap})
}

// ListPayments returns the payments waiting at the terminal
func (h *Handler) ListPayments(c *gin.Context) {
	if h.terminal == nil {
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": h.terminal.Pending()})
}

// CompletePayment reports a successful payment from the terminal
func (h *Handler) CompletePayment(c *gin.Context) {
	h.resolvePayment(c, func(t PaymentTerminal, id string) error { return t.Complete(id) })
}

// CancelPayment reports a cancelled payment from the terminal
func (h *Handler) CancelPayment(c *gin.Context) {
	h.resolvePayment(c, func(t PaymentTerminal, id string) error { return t.Cancel(id) })
}

func (h *Handler) resolvePayment(c *gin.Context, resolve func(PaymentTerminal, string) error) {
	if h.terminal == nil || h.orchestrator == nil {
		h.unavailable(c)
		return
	}
	if err := resolve(h.terminal, c.Param("id")); err != nil {
		h.withSnapshot(c, err)
		return
	}
	h.GetSession(c)
}

type orchestratorFunc func(*usecase.Orchestrator) (domain.SessionSnapshot, error)

func (h *Handler) session(c *gin.Context, fn orchestratorFunc) {
	if h.orchestrator == nil {
		h.unavailable(c)
		return
	}
	snap, err := fn(h.orchestrator)
	if err != nil {
		h.writeError(c, err, &snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

// withSnapshot reports err together with the current session
func (h *Handler) withSnapshot(c *gin.Context, err error) {
	if h.orchestrator == nil {
		h.writeError(c, err, nil)
		return
	}
	snap, snapErr := h.orchestrator.Snapshot(c.Request.Context())
	if snapErr != nil {
		h.writeError(c, err, nil)
		return
	}
	h.writeError(c, err, &snap)
}

func (h *Handler) unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "checkout lane not configured",
		"code":  "unavailable",
	})
}

func (h *Handler) writeError(c *gin.Context, err error, snap *domain.SessionSnapshot) {
	status, code := classifyError(err)
	body := gin.H{"error": errorMessage(err), "code": code}
	if snap != nil && snap.ID != "" {
		body["session"] = snap
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

// errorKinds maps sentinel errors to HTTP status and a stable code
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidWeight, http.StatusUnprocessableEntity, "invalid_weight"},
	{domain.ErrNoSelection, http.StatusUnprocessableEntity, "no_selection"},
	{domain.ErrInvalidSelection, http.StatusUnprocessableEntity, "invalid_selection"},
	{domain.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
	{domain.ErrInvalidRequest, http.StatusUnprocessableEntity, "invalid_request"},
	{domain.ErrLedgerEmpty, http.StatusConflict, "ledger_empty"},
	{domain.ErrItemsNotBagged, http.StatusConflict, "items_not_bagged"},
	{domain.ErrGateOpen, http.StatusConflict, "gate_open"},
	{domain.ErrNoGateOpen, http.StatusConflict, "no_gate_open"},
	{domain.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{domain.ErrNoPaymentPending, http.StatusConflict, "no_payment_pending"},
	{domain.ErrUnsupportedPaymentMethod, http.StatusUnprocessableEntity, "unsupported_payment_method"},
	{domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{domain.ErrLineNotFound, http.StatusNotFound, "line_not_found"},
	{domain.ErrOrchestratorStopped, http.StatusServiceUnavailable, "unavailable"},
}

func classifyError(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// errorMessage returns the user-facing sentence for known errors
func errorMessage(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.err.Error()
		}
	}
	return "internal error"
}
