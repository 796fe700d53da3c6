package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlane/backend/config"
	"github.com/visionlane/backend/internal/domain"
	"github.com/visionlane/backend/internal/infrastructure/catalog"
	"github.com/visionlane/backend/internal/infrastructure/payment"
	"github.com/visionlane/backend/internal/usecase"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	// Set Gin to test mode once for all tests
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:*"},
		},
	}
}

// manualSource hands detections to the orchestrator on demand
type manualSource struct {
	mu    sync.Mutex
	epoch uint64
	sink  func(domain.Detection)
}

func (s *manualSource) Start(epoch uint64, sink func(domain.Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = epoch
	s.sink = sink
}

func (s *manualSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
}

func (s *manualSource) detect(t *testing.T, catalog domain.CatalogRepository, id string) {
	t.Helper()
	product, ok := catalog.Product(id)
	require.True(t, ok, "unknown product %s", id)

	s.mu.Lock()
	sink, epoch := s.sink, s.epoch
	s.mu.Unlock()
	require.NotNil(t, sink, "detection source is not running")
	sink(domain.Detection{Product: product, Confidence: 0.95, Epoch: epoch})
}

type lane struct {
	router  *gin.Engine
	source  *manualSource
	catalog *catalog.MemoryCatalog
}

// setupLane wires a running orchestrator behind the router
func setupLane(t *testing.T) *lane {
	t.Helper()

	products, err := catalog.LoadDefault()
	require.NoError(t, err)

	session := usecase.NewSession(products, usecase.SessionConfig{
		TaxRate: 0.06,
		Rand:    rand.New(rand.NewPCG(5, 6)),
	})
	terminal := payment.NewTerminal([]string{"cash", "card"}, nil)
	source := &manualSource{}
	orchestrator := usecase.NewOrchestrator(session, source, terminal, nil, nil, usecase.OrchestratorConfig{LaneID: "lane-test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orchestrator.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	handler := NewHandler(orchestrator, products, terminal, nil)
	return &lane{
		router:  SetupRouter(testConfig(), handler, nil),
		source:  source,
		catalog: products,
	}
}

type sessionResponse struct {
	Session domain.SessionSnapshot `json:"session"`
	Payment *domain.PaymentRequest `json:"payment"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
}

func (l *lane) do(t *testing.T, method, path string, body interface{}) (int, sessionResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	l.router.ServeHTTP(w, req)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w.Code, resp
}

// TestHealthCheckEndpoint tests the health check endpoint
func TestHealthCheckEndpoint(t *testing.T) {
	router := SetupRouter(testConfig(), NewHandler(nil, nil, nil, nil), nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "visionlane-backend", response["service"])
	assert.Equal(t, "1.0.0", response["version"])
}

func TestHealthCheckReportsComponents(t *testing.T) {
	handler := NewHandler(nil, nil, nil, nil)
	handler.RegisterStatus("detector", func() interface{} {
		return map[string]uint64{"fired": 4, "discarded": 1}
	})
	router := SetupRouter(testConfig(), handler, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Components map[string]map[string]uint64 `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, uint64(4), response.Components["detector"]["fired"])
	assert.Equal(t, uint64(1), response.Components["detector"]["discarded"])
}

func TestUnconfiguredHandler(t *testing.T) {
	router := SetupRouter(testConfig(), NewHandler(nil, nil, nil, nil), nil)

	paths := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/session"},
		{"GET", "/api/v1/catalog"},
		{"POST", "/api/v1/session/scan/start"},
		{"POST", "/api/v1/session/checkout"},
		{"GET", "/api/v1/payments"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := httptest.NewRequest(p.method, p.path, bytes.NewReader([]byte("{}")))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}

func TestCatalogEndpoints(t *testing.T) {
	l := setupLane(t)

	req := httptest.NewRequest("GET", "/api/v1/catalog", nil)
	w := httptest.NewRecorder()
	l.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Products []domain.Product `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Products, 16)
	assert.Equal(t, "P001", list.Products[0].ID)

	req = httptest.NewRequest("GET", "/api/v1/catalog/P005", nil)
	w = httptest.NewRecorder()
	l.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unitName":"kg"`)

	req = httptest.NewRequest("GET", "/api/v1/catalog/P999", nil)
	w = httptest.NewRecorder()
	l.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "product_not_found")
}

func TestCheckoutFlow(t *testing.T) {
	l := setupLane(t)

	status, resp := l.do(t, "POST", "/api/v1/session/scan/start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateScanning, resp.Session.State)

	for i := 0; i < 3; i++ {
		l.source.detect(t, l.catalog, "P001")
	}

	status, resp = l.do(t, "GET", "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Session.Lines, 1)
	assert.Equal(t, 3, resp.Session.Lines[0].Quantity)
	assert.Equal(t, domain.Totals{SubtotalCents: 750, TaxCents: 45, GrandTotalCents: 795}, resp.Session.Totals)
	assert.False(t, resp.Session.CanProceedToPayment)

	status, resp = l.do(t, "POST", "/api/v1/session/checkout", map[string]interface{}{"paymentMethod": "cash"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "items_not_bagged", resp.Code)
	assert.Equal(t, domain.StateScanning, resp.Session.State)

	status, resp = l.do(t, "POST", "/api/v1/session/bagging/confirm", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Session.CanProceedToPayment)

	status, resp = l.do(t, "POST", "/api/v1/session/checkout", map[string]interface{}{"paymentMethod": "cash"})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, domain.StatePaymentProcessing, resp.Session.State)
	assert.Len(t, resp.Payment.Items, 3)
	paymentID := resp.Payment.ID

	req := httptest.NewRequest("GET", "/api/v1/payments", nil)
	w := httptest.NewRecorder()
	l.router.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), paymentID)

	status, resp = l.do(t, "POST", "/api/v1/payments/"+paymentID+"/complete", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateIdle, resp.Session.State)
	assert.Empty(t, resp.Session.Lines)

	status, resp = l.do(t, "POST", "/api/v1/payments/"+paymentID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_payment_pending", resp.Code)
}

func TestWeightGateEndpoints(t *testing.T) {
	l := setupLane(t)

	_, _ = l.do(t, "POST", "/api/v1/session/scan/start", nil)
	l.source.detect(t, l.catalog, "P005")

	status, resp := l.do(t, "GET", "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Session.Gate)
	assert.Equal(t, domain.GateWeight, resp.Session.Gate.Kind)
	assert.Equal(t, "kg", resp.Session.Gate.UnitName)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "zero", body: map[string]interface{}{"weight": 0}},
		{name: "negative", body: map[string]interface{}{"weight": -1.5}},
		{name: "not a number", body: map[string]interface{}{"weight": "heavy"}},
		{name: "missing", body: map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := l.do(t, "POST", "/api/v1/session/gates/weight/confirm", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Equal(t, "invalid_weight", resp.Code)
			assert.Equal(t, domain.StateWeightCheck, resp.Session.State, "gate stays open")
		})
	}

	status, resp = l.do(t, "POST", "/api/v1/session/gates/weight/confirm", map[string]interface{}{"weight": "0.4"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateScanning, resp.Session.State)
	require.Len(t, resp.Session.Lines, 1)
	assert.Equal(t, int64(200), resp.Session.Lines[0].CalculatedPriceCents)
}

func TestAgeAndAmbiguityGateEndpoints(t *testing.T) {
	l := setupLane(t)
	_, _ = l.do(t, "POST", "/api/v1/session/scan/start", nil)

	l.source.detect(t, l.catalog, "P007")
	status, resp := l.do(t, "POST", "/api/v1/session/gates/age/verify", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Session.Gate)
	assert.Equal(t, domain.GateWeight, resp.Session.Gate.Kind, "age approval chains into weighing")

	status, resp = l.do(t, "POST", "/api/v1/session/gates/age/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_gate_open", resp.Code)

	status, resp = l.do(t, "POST", "/api/v1/session/gates/weight/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateScanning, resp.Session.State)
	assert.Empty(t, resp.Session.Lines)

	l.source.detect(t, l.catalog, "P008")
	status, resp = l.do(t, "GET", "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Session.Gate)
	assert.Equal(t, domain.GateAmbiguity, resp.Session.Gate.Kind)
	require.Len(t, resp.Session.Gate.Candidates, 3)
	assert.Equal(t, "P008", resp.Session.Gate.Candidates[0].ID)

	status, resp = l.do(t, "POST", "/api/v1/session/gates/ambiguity/confirm", map[string]string{"productId": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "no_selection", resp.Code)

	status, resp = l.do(t, "POST", "/api/v1/session/gates/ambiguity/confirm", map[string]string{"productId": "P001"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_selection", resp.Code)

	status, resp = l.do(t, "POST", "/api/v1/session/gates/ambiguity/confirm", map[string]string{"productId": "P010"})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Session.Lines, 1)
	assert.Equal(t, "P010", resp.Session.Lines[0].ProductID)

	status, resp = l.do(t, "POST", "/api/v1/session/gates/bogus/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_gate_open", resp.Code)
}

func TestLineEndpoints(t *testing.T) {
	l := setupLane(t)
	_, _ = l.do(t, "POST", "/api/v1/session/scan/start", nil)
	l.source.detect(t, l.catalog, "P002")

	_, resp := l.do(t, "GET", "/api/v1/session", nil)
	require.Len(t, resp.Session.Lines, 1)
	lineID := resp.Session.Lines[0].ID

	status, resp := l.do(t, "PATCH", "/api/v1/session/lines/"+lineID, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1260), resp.Session.Lines[0].CalculatedPriceCents)

	status, resp = l.do(t, "PATCH", "/api/v1/session/lines/"+lineID, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_quantity", resp.Code)

	status, resp = l.do(t, "PATCH", "/api/v1/session/lines/"+lineID, map[string]int{"quantity": 2000000000})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_quantity", resp.Code)
	assert.Equal(t, 3, resp.Session.Lines[0].Quantity)

	status, resp = l.do(t, "PATCH", "/api/v1/session/lines/missing", map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "line_not_found", resp.Code)

	status, resp = l.do(t, "DELETE", "/api/v1/session/lines/"+lineID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Session.Lines)
}

func TestClearAndAssistanceEndpoints(t *testing.T) {
	l := setupLane(t)
	_, _ = l.do(t, "POST", "/api/v1/session/scan/start", nil)
	l.source.detect(t, l.catalog, "P003")

	status, resp := l.do(t, "POST", "/api/v1/session/assistance", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp.Session.Notices)
	assert.Equal(t, "assistance_requested", resp.Session.Notices[len(resp.Session.Notices)-1].Code)

	status, resp = l.do(t, "POST", "/api/v1/session/clear", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateIdle, resp.Session.State)
	assert.False(t, resp.Session.ScanningActive)
	assert.Empty(t, resp.Session.Lines)
}

func TestPaymentCancelAndUnsupportedMethod(t *testing.T) {
	l := setupLane(t)
	_, _ = l.do(t, "POST", "/api/v1/session/scan/start", nil)
	l.source.detect(t, l.catalog, "P001")
	_, _ = l.do(t, "POST", "/api/v1/session/bagging/confirm", nil)

	status, resp := l.do(t, "POST", "/api/v1/session/checkout", map[string]interface{}{"paymentMethod": "barter"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "unsupported_payment_method", resp.Code)
	assert.Equal(t, domain.StateIdle, resp.Session.State)

	status, resp = l.do(t, "POST", "/api/v1/session/checkout", map[string]interface{}{"paymentMethod": "card", "discountCents": 50})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, int64(212), resp.Payment.Totals.GrandTotalCents)

	status, resp = l.do(t, "POST", "/api/v1/session/clear", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "payment_in_progress", resp.Code)

	status, resp = l.do(t, "POST", "/api/v1/payments/"+resp.Session.PendingPaymentID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StateIdle, resp.Session.State)
	assert.Len(t, resp.Session.Lines, 1, "cancelled payment keeps the items")
}

func TestCORSIntegration(t *testing.T) {
	router := SetupRouter(testConfig(), NewHandler(nil, nil, nil, nil), nil)

	req := httptest.NewRequest("OPTIONS", "/api/v1/session/checkout", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrInvalidWeight, http.StatusUnprocessableEntity, "invalid_weight"},
		{domain.ErrLedgerEmpty, http.StatusConflict, "ledger_empty"},
		{domain.ErrLineNotFound, http.StatusNotFound, "line_not_found"},
		{domain.ErrOrchestratorStopped, http.StatusServiceUnavailable, "unavailable"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
