package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/service"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewaySecret = "gw_secret"

type nopPublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *nopPublisher) PublishEvent(_ context.Context, _ string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type memKV struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memKV) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memKV) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memKV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return "", false, nil
	}
	m.keys[key] = token
	return token, true, nil
}

func (m *memKV) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == token {
		delete(m.keys, key)
	}
	return nil
}

type testServer struct {
	router *gin.Engine
	issuer *auth.Issuer
	store  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount  int64  `json:"amount"`
			Receipt string `json:"receipt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(gateway.Intent{
			ID: "order_" + body.Receipt, Amount: body.Amount, Currency: "INR", Status: "created",
		})
	}))
	t.Cleanup(gw.Close)

	kv := &memKV{keys: map[string]string{}}
	events := broker.NewEventPublisher(&nopPublisher{})
	settings := service.NewSettingsService(st)
	emitter := notify.NewEmitter(events, settings)
	ledger := service.NewStockLedger(st)
	settler := service.NewSettler(st, ledger, events, emitter)
	gwClient := gateway.NewClient(gateway.Config{BaseURL: gw.URL, KeyID: "key_test", KeySecret: gatewaySecret, Timeout: time.Second})
	payments := service.NewPaymentService(st, gwClient, kv, settler, "INR", time.Minute)
	issuer := auth.NewIssuer("jwt-secret", "storefront", time.Hour)

	svc := Services{
		Orders:   service.NewOrderService(st, kv, events, emitter, settler, ledger, payments, settings, service.OrderOptions{}),
		Payments: payments,
		Cart:     service.NewCartService(st, settings),
		Catalog:  service.NewCatalogService(st),
		Reviews:  service.NewReviewService(st),
		Settings: settings,
		Stock:    ledger,
	}

	router := gin.New()
	NewHandler(svc, issuer, 1000, 1000, map[string]Pinger{"database": st}).SetupRoutes(router)
	return &testServer{router: router, issuer: issuer, store: st}
}

func (s *testServer) token(t *testing.T, userID int64, role string) string {
	tok, _, err := s.issuer.Issue(userID, role, "+919812345678")
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

var address = map[string]string{
	"full_name": "Asha Rao", "phone": "+919812345678", "line1": "12 MG Road",
	"city": "Pune", "state": "MH", "postal_code": "411001",
}

func (s *testServer) createProduct(t *testing.T, admin string, stock int) int64 {
	w := s.do(t, http.MethodPost, "/api/v1/admin/products", admin, map[string]interface{}{
		"title": "Linen Kurta", "price": "1000", "discount": "10", "gst": "9", "cgst": "9",
		"stock": stock, "is_active": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Product
	decode(t, w, &p)
	return p.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/cart", "", nil).Code)
	customer := s.token(t, 1, models.RoleCustomer)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/admin/orders", customer, nil).Code)
}

func TestCODCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, 100, models.RoleAdmin)
	buyer := s.token(t, 1, models.RoleCustomer)
	pid := s.createProduct(t, admin, 3)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{"product_id": pid, "quantity": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/checkout", buyer,
		map[string]interface{}{"payment_method": "cod", "address": address}, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp service.CheckoutResponse
	decode(t, w, &resp)
	assert.Equal(t, models.OrderStatusPending, resp.Order.OrderStatus)
	assert.True(t, resp.Order.GrandTotal.Equal(decimal.NewFromInt(3186)), resp.Order.GrandTotal.String())

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/invoice", resp.Order.ID), buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Grand total: 3186.00 INR")

	s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{"product_id": pid, "quantity": 1})
	w = s.do(t, http.MethodPost, "/api/v1/checkout", buyer, map[string]interface{}{"payment_method": "cod", "address": address})
	assert.Equal(t, http.StatusConflict, w.Code, "sold out")

	other := s.token(t, 2, models.RoleCustomer)
	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", resp.Order.ID), other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOnlinePaymentFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, 100, models.RoleAdmin)
	buyer := s.token(t, 1, models.RoleCustomer)
	pid := s.createProduct(t, admin, 5)

	s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{"product_id": pid, "quantity": 2})
	w := s.do(t, http.MethodPost, "/api/v1/checkout", buyer, map[string]interface{}{"payment_method": "online", "address": address})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp service.CheckoutResponse
	decode(t, w, &resp)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, int64(212400), resp.Payment.Amount)
	gwID := resp.Payment.GatewayOrderID

	w = s.do(t, http.MethodPost, "/api/v1/payments/verify", buyer, map[string]string{
		"gateway_order_id": gwID, "gateway_payment_id": "pay_1", "signature": gateway.Sign(gatewaySecret, gwID, "pay_2"),
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/payments/verify", buyer, map[string]string{
		"gateway_order_id": gwID, "gateway_payment_id": "pay_1", "signature": gateway.Sign(gatewaySecret, gwID, "pay_1"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusConfirmed, order.OrderStatus)
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
}

func TestAdminStatusUpdate(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, 100, models.RoleAdmin)
	buyer := s.token(t, 1, models.RoleCustomer)
	pid := s.createProduct(t, admin, 5)

	s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{"product_id": pid, "quantity": 1})
	w := s.do(t, http.MethodPost, "/api/v1/checkout", buyer, map[string]interface{}{"payment_method": "cod", "address": address})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp service.CheckoutResponse
	decode(t, w, &resp)
	path := fmt.Sprintf("/api/v1/admin/orders/%d/status", resp.Order.ID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path, admin, map[string]string{"status": "lost"}).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPatch, path, admin, map[string]string{"status": "delivered"}).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, path, admin, map[string]string{"status": "processing"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path, admin, map[string]string{"status": "shipped"}).Code)

	w = s.do(t, http.MethodPatch, path, admin, map[string]string{"status": "cancelled", "reason": "address unreachable"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/stock", admin, map[string]interface{}{"product_id": pid, "stock": 0})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/orders?status=cancelled", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Orders []models.Order `json:"orders"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Orders, 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("x", "bad"), http.StatusBadRequest},
		{&apperr.InsufficientStockError{ProductID: 1}, http.StatusConflict},
		{apperr.Conflict("dup"), http.StatusConflict},
		{&apperr.SignatureVerificationError{}, http.StatusPaymentRequired},
		{&apperr.GatewayTimeoutError{Op: "create_order"}, http.StatusGatewayTimeout},
		{&apperr.GatewayError{Op: "create_order"}, http.StatusBadGateway},
		{fmt.Errorf("checkout: %w", &apperr.GatewayTimeoutError{Op: "create_order"}), http.StatusGatewayTimeout},
		{&apperr.NotificationError{Channel: "sms"}, http.StatusBadGateway},
		{apperr.NotFound("order", 1), http.StatusNotFound},
		{&apperr.RateLimitError{}, http.StatusTooManyRequests},
		{fmt.Errorf("wrapped: %w", apperr.NotFound("order", 1)), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRateLimiter(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	now := time.Now()

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now))
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))

	l.Sweep(now.Add(time.Hour))
	assert.Empty(t, l.clients)
}
