package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testGatewaySecret = "gw_secret"

type fakeEvents struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	settled []*models.OrderSettledEvent
	changed []*models.OrderStatusChangedEvent
}

func (f *fakeEvents) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakeEvents) PublishOrderSettled(_ context.Context, e *models.OrderSettledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, e)
	return nil
}

func (f *fakeEvents) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, e)
	return nil
}

type cancelNotice struct {
	orderID   int64
	restocked bool
	reason    string
}

type fakeEmitter struct {
	mu       sync.Mutex
	invoices []int64
	cancels  []cancelNotice
	err      error
}

func (f *fakeEmitter) IssueInvoice(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invoices = append(f.invoices, o.ID)
	return nil
}

func (f *fakeEmitter) NotifyCancelled(_ context.Context, o *models.Order, restocked bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancels = append(f.cancels, cancelNotice{o.ID, restocked, reason})
	return nil
}

type fakeGateway struct {
	mu      sync.Mutex
	amounts []int64
	err     error
}

func (f *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.amounts = append(f.amounts, amountMinor)
	return &gateway.Intent{
		ID:       fmt.Sprintf("order_%d", len(f.amounts)),
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (f *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return gateway.VerifySignature(testGatewaySecret, orderID, paymentID, signature)
}

func (f *fakeGateway) KeyID() string { return "key_test" }

// memKV stands in for Redis in idempotency and lock tests
type memKV struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemKV() *memKV { return &memKV{keys: map[string]string{}} }

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

func (m *memKV) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
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

func (m *memKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

type fakeOTPs struct {
	throttled map[string]bool
	codes     map[string]string
}

func newFakeOTPs() *fakeOTPs {
	return &fakeOTPs{throttled: map[string]bool{}, codes: map[string]string{}}
}

func (f *fakeOTPs) ThrottleOTP(_ context.Context, phone string, _ time.Duration) (bool, error) {
	if f.throttled[phone] {
		return false, nil
	}
	f.throttled[phone] = true
	return true, nil
}

func (f *fakeOTPs) SaveOTP(_ context.Context, phone, code string, _ time.Duration) error {
	f.codes[phone] = code
	return nil
}

func (f *fakeOTPs) ConsumeOTP(_ context.Context, phone, code string) (redisclient.OTPResult, error) {
	stored, ok := f.codes[phone]
	if !ok {
		return redisclient.OTPMissing, nil
	}
	if stored != code {
		return redisclient.OTPMismatch, nil
	}
	delete(f.codes, phone)
	return redisclient.OTPAccepted, nil
}

type sentMessage struct{ phone, body string }

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, phone, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{phone, body})
	return nil
}

type fakeTokens struct{}

func (fakeTokens) Issue(userID int64, role, phone string) (string, time.Time, error) {
	return fmt.Sprintf("token-%d-%s", userID, role), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

type testEnv struct {
	store    *store.Store
	events   *fakeEvents
	emitter  *fakeEmitter
	gateway  *fakeGateway
	kv       *memKV
	settings *SettingsService
	ledger   *StockLedger
	settler  *Settler
	payments *PaymentService
	orders   *OrderService
	cart     *CartService
	catalog  *CatalogService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		store:   st,
		events:  &fakeEvents{},
		emitter: &fakeEmitter{},
		gateway: &fakeGateway{},
		kv:      newMemKV(),
	}
	env.settings = NewSettingsService(st)
	env.ledger = NewStockLedger(st)
	env.settler = NewSettler(st, env.ledger, env.events, env.emitter)
	env.payments = NewPaymentService(st, env.gateway, env.kv, env.settler, "INR", time.Minute)
	env.orders = NewOrderService(st, env.kv, env.events, env.emitter, env.settler, env.ledger,
		env.payments, env.settings, OrderOptions{})
	env.cart = NewCartService(st, env.settings)
	env.catalog = NewCatalogService(st)
	return env
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// product seeds a 1000 INR product with 10% discount and 9%+9% tax
func (e *testEnv) product(t *testing.T, stock int, variants ...models.VariantStock) *models.Product {
	t.Helper()
	p := &models.Product{
		Title:    "Linen Kurta",
		Price:    dec("1000"),
		Discount: dec("10"),
		GST:      dec("9"),
		CGST:     dec("9"),
		Stock:    stock,
		IsActive: true,
		Variants: variants,
	}
	if len(variants) > 0 {
		p.Sizes = []string{"M", "L"}
		p.Colors = []string{"indigo", "ochre"}
	}
	require.NoError(t, e.catalog.CreateProduct(context.Background(), p))
	return p
}

func (e *testEnv) addToCart(t *testing.T, userID, productID int64, qty int, size, color string) {
	t.Helper()
	_, err := e.cart.AddItem(context.Background(), userID, &AddItemRequest{
		ProductID: productID, Quantity: qty, Size: size, Color: color,
	})
	require.NoError(t, err)
}

func (e *testEnv) stock(t *testing.T, productID int64, size, color string) int {
	t.Helper()
	n, err := e.ledger.Level(context.Background(), productID, size, color)
	require.NoError(t, err)
	return n
}

func testAddress() *models.ShippingAddress {
	return &models.ShippingAddress{
		FullName:   "Asha Rao",
		Phone:      "+919812345678",
		Line1:      "12 MG Road",
		City:       "Pune",
		State:      "MH",
		PostalCode: "411001",
	}
}

func checkoutReq(method models.PaymentMethod) *CheckoutRequest {
	return &CheckoutRequest{PaymentMethod: string(method), Address: testAddress()}
}
