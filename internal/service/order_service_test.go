package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutCODSettlesAndSellsOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 3)

	env.addToCart(t, 1, p.ID, 3, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	order := resp.Order
	assert.Nil(t, resp.Payment)
	assert.Regexp(t, `^ORD-\d{14}-[0-9a-f]{6}$`, order.OrderNumber)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, order.OrderStatus)
	assert.True(t, order.Settled())
	assert.Equal(t, 0, env.stock(t, p.ID, "", ""))

	items, err := env.store.GetCartItems(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []int64{order.ID}, env.emitter.invoices)
	assert.Len(t, env.events.created, 1)
	assert.Len(t, env.events.settled, 1)

	env.addToCart(t, 1, p.ID, 1, "", "")
	_, err = env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	var serr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, p.ID, serr.ProductID)
}

func TestCheckoutUsesExclusiveTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.settings.Update(ctx, map[string]string{"gst_rate": "12", "cgst_rate": "6"}))
	p := env.product(t, 5)

	env.addToCart(t, 1, p.ID, 2, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	o := resp.Order
	assert.True(t, o.Subtotal.Equal(dec("2000")), o.Subtotal.String())
	assert.True(t, o.DiscountTotal.Equal(dec("200")))
	assert.True(t, o.GSTTotal.Equal(dec("162")))
	assert.True(t, o.CGSTTotal.Equal(dec("162")))
	assert.True(t, o.GrandTotal.Equal(dec("2124")), o.GrandTotal.String())

	require.Len(t, o.Items, 1)
	assert.Equal(t, "Linen Kurta", o.Items[0].Name)
	assert.True(t, o.Items[0].GSTPct.Equal(dec("9")))
	assert.Equal(t, "Pune", o.ShippingAddress.City)
}

func TestOrderSnapshotSurvivesCatalogChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)

	env.addToCart(t, 1, p.ID, 1, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	_, err = env.store.GetDB().ExecContext(ctx, "UPDATE products SET price = '5000', title = 'Renamed'")
	require.NoError(t, err)

	got, err := env.orders.GetUserOrder(ctx, 1, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Linen Kurta", got.Items[0].Name)
	assert.True(t, got.GrandTotal.Equal(dec("1062")))
}

func TestCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 0, models.VariantStock{Size: "M", Color: "indigo", Stock: 5})

	_, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	assert.True(t, apperr.Is[*apperr.ValidationError](err), "empty cart")

	_, err = env.orders.Checkout(ctx, 1, &CheckoutRequest{PaymentMethod: "barter", Address: testAddress()})
	assert.True(t, apperr.Is[*apperr.ValidationError](err), "payment method")

	env.addToCart(t, 1, p.ID, 1, "M", "")
	_, err = env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	assert.True(t, apperr.Is[*apperr.ValidationError](err), "color required")

	incomplete := testAddress()
	incomplete.PostalCode = ""
	_, err = env.orders.Checkout(ctx, 1, &CheckoutRequest{PaymentMethod: "cod", Address: incomplete})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "postal_code")

	_, err = env.orders.Checkout(ctx, 1, &CheckoutRequest{PaymentMethod: "cod"})
	assert.True(t, apperr.Is[*apperr.ValidationError](err), "no address")

	orders, err := env.store.GetOrdersByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutWithSavedAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)

	addr := &models.Address{FullName: "Asha Rao", Phone: "+919812345678", Line1: "12 MG Road",
		City: "Pune", State: "MH", PostalCode: "411001"}
	require.NoError(t, env.catalog.AddAddress(ctx, 1, addr))

	env.addToCart(t, 1, p.ID, 1, "", "")
	_, err := env.orders.Checkout(ctx, 2, &CheckoutRequest{PaymentMethod: "cod", AddressID: addr.ID})
	assert.True(t, apperr.Is[*apperr.NotFoundError](err), "address of another user")

	resp, err := env.orders.Checkout(ctx, 1, &CheckoutRequest{PaymentMethod: "cod", AddressID: addr.ID})
	require.NoError(t, err)
	assert.Equal(t, "IN", resp.Order.ShippingAddress.Country)
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)

	req := checkoutReq(models.PaymentMethodCOD)
	req.IdempotencyKey = "k1"

	_, err := env.orders.Checkout(ctx, 1, req)
	assert.True(t, apperr.Is[*apperr.ValidationError](err))
	assert.False(t, env.kv.has("checkout:1:k1"), "failed checkout releases its key")

	env.addToCart(t, 1, p.ID, 1, "", "")
	_, err = env.orders.Checkout(ctx, 1, req)
	require.NoError(t, err)

	env.addToCart(t, 1, p.ID, 1, "", "")
	_, err = env.orders.Checkout(ctx, 1, req)
	assert.True(t, apperr.Is[*apperr.ConflictError](err))
	assert.Equal(t, 4, env.stock(t, p.ID, "", ""))
}

func TestCreateOrderRetriesOrderNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 1, "", "")
	lines, err := env.store.GetCartLines(ctx, 1)
	require.NoError(t, err)

	numbers := []string{"ORD-A", "ORD-A", "ORD-B"}
	env.orders.orderNumber = func() string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}

	first, err := env.orders.CreateOrder(ctx, 1, lines, *testAddress(), models.PaymentMethodCOD)
	require.NoError(t, err)
	assert.Equal(t, "ORD-A", first.OrderNumber)

	second, err := env.orders.CreateOrder(ctx, 1, lines, *testAddress(), models.PaymentMethodCOD)
	require.NoError(t, err)
	assert.Equal(t, "ORD-B", second.OrderNumber)

	env.orders.orderNumber = func() string { return "ORD-A" }
	_, err = env.orders.CreateOrder(ctx, 1, lines, *testAddress(), models.PaymentMethodCOD)
	assert.Error(t, err)
}

func TestSettlementRollsBackEveryLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, 5)
	b := env.product(t, 5)

	env.addToCart(t, 1, a.ID, 2, "", "")
	env.addToCart(t, 1, b.ID, 2, "", "")
	lines, err := env.store.GetCartLines(ctx, 1)
	require.NoError(t, err)
	order, err := env.orders.CreateOrder(ctx, 1, lines, *testAddress(), models.PaymentMethodCOD)
	require.NoError(t, err)

	require.NoError(t, env.ledger.SetStock(ctx, b.ID, "", "", 1))

	_, err = env.settler.Settle(ctx, order, "")
	assert.True(t, apperr.Is[*apperr.InsufficientStockError](err))

	assert.Equal(t, 5, env.stock(t, a.ID, "", ""))
	assert.Equal(t, 1, env.stock(t, b.ID, "", ""))
	got, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.Settled())
	items, err := env.store.GetCartItems(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Empty(t, env.emitter.invoices)
}

func TestSettleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 2, "", "")

	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	again, err := env.settler.Settle(ctx, resp.Order, "")
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, again.ID)
	assert.Equal(t, 3, env.stock(t, p.ID, "", ""))
	assert.Len(t, env.emitter.invoices, 1)
}

func TestConcurrentCheckoutsTakeLastUnitOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 1)

	const buyers = 8
	orders := make([]*models.Order, buyers)
	for i := 0; i < buyers; i++ {
		user := int64(i + 1)
		env.addToCart(t, user, p.ID, 1, "", "")
		lines, err := env.store.GetCartLines(ctx, user)
		require.NoError(t, err)
		orders[i], err = env.orders.CreateOrder(ctx, user, lines, *testAddress(), models.PaymentMethodCOD)
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		shortages int
	)
	for _, o := range orders {
		wg.Add(1)
		go func(o *models.Order) {
			defer wg.Done()
			_, err := env.settler.Settle(ctx, o, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.Is[*apperr.InsufficientStockError](err):
				shortages++
			}
		}(o)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, buyers-1, shortages)
	assert.Equal(t, 0, env.stock(t, p.ID, "", ""))
}

func TestVariantCheckoutOnlyTouchesItsBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 10,
		models.VariantStock{Size: "M", Color: "indigo", Stock: 2},
		models.VariantStock{Size: "L", Color: "indigo", Stock: 4})

	env.addToCart(t, 1, p.ID, 2, "M", "indigo")
	_, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	assert.Equal(t, 0, env.stock(t, p.ID, "M", "indigo"))
	assert.Equal(t, 4, env.stock(t, p.ID, "L", "indigo"))
	assert.Equal(t, 10, env.stock(t, p.ID, "", ""))
}

func TestNotificationFailureDoesNotUndoSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.emitter.err = &apperr.NotificationError{Channel: "event_bus", Err: errors.New("broker down")}
	p := env.product(t, 2)

	env.addToCart(t, 1, p.ID, 1, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)
	assert.True(t, resp.Order.Settled())
	assert.Equal(t, 1, env.stock(t, p.ID, "", ""))
}

// stalledEvents never acknowledges a publish until its context gives up
type stalledEvents struct {
	mu   sync.Mutex
	errs []error
}

func (f *stalledEvents) wait(ctx context.Context) error {
	<-ctx.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, ctx.Err())
	return ctx.Err()
}

func (f *stalledEvents) PublishOrderCreated(ctx context.Context, _ *models.OrderCreatedEvent) error {
	return f.wait(ctx)
}

func (f *stalledEvents) PublishOrderSettled(ctx context.Context, _ *models.OrderSettledEvent) error {
	return f.wait(ctx)
}

func (f *stalledEvents) PublishOrderStatusChanged(ctx context.Context, _ *models.OrderStatusChangedEvent) error {
	return f.wait(ctx)
}

func TestStalledBrokerDoesNotHoldCheckout(t *testing.T) {
	env := newTestEnv(t)
	events := &stalledEvents{}
	env.settler = NewSettler(env.store, env.ledger, events, env.emitter)
	env.settler.notifyTimeout = 50 * time.Millisecond
	env.orders = NewOrderService(env.store, env.kv, events, env.emitter, env.settler, env.ledger,
		env.payments, env.settings, OrderOptions{NotifyTimeout: 50 * time.Millisecond})

	p := env.product(t, 2)
	env.addToCart(t, 1, p.ID, 1, "", "")

	start := time.Now()
	resp, err := env.orders.Checkout(context.Background(), 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, resp.Order.Settled())
	assert.Equal(t, 1, env.stock(t, p.ID, "", ""))
	assert.Equal(t, []int64{resp.Order.ID}, env.emitter.invoices)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.errs, 2)
	for _, e := range events.errs {
		assert.ErrorIs(t, e, context.DeadlineExceeded)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 1, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)
	id := resp.Order.ID

	_, err = env.orders.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.OrderStatusConfirmed})
	assert.True(t, apperr.Is[*apperr.ConflictError](err), "confirmed is reserved for payment")

	_, err = env.orders.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.OrderStatusProcessing})
	require.NoError(t, err)

	_, err = env.orders.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.OrderStatusShipped})
	assert.True(t, apperr.Is[*apperr.ValidationError](err), "tracking required")

	shipped, err := env.orders.UpdateStatus(ctx, id, models.StatusUpdate{
		Status: models.OrderStatusShipped, TrackingNumber: "TRK1", CourierName: "BlueDart",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRK1", shipped.TrackingNumber)
	assert.True(t, shipped.UpdatedAt.After(resp.Order.UpdatedAt) || shipped.UpdatedAt.Equal(resp.Order.UpdatedAt))

	delivered, err := env.orders.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.OrderStatus)

	_, err = env.orders.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.OrderStatusCancelled})
	assert.True(t, apperr.Is[*apperr.ConflictError](err), "delivered is terminal")

	require.Len(t, env.events.changed, 3)
	assert.Equal(t, models.OrderStatusShipped, env.events.changed[1].To)
	assert.Equal(t, "BlueDart", env.events.changed[1].CourierName)
}

func TestCancelRestocksOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 3, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)
	require.Equal(t, 2, env.stock(t, p.ID, "", ""))

	cancelled, err := env.orders.UpdateStatus(ctx, resp.Order.ID, models.StatusUpdate{
		Status: models.OrderStatusCancelled, Reason: "customer request",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.OrderStatus)
	assert.True(t, cancelled.StockRestored)
	assert.Equal(t, 5, env.stock(t, p.ID, "", ""))

	require.Len(t, env.emitter.cancels, 1)
	assert.True(t, env.emitter.cancels[0].restocked)
	assert.Equal(t, "customer request", env.emitter.cancels[0].reason)

	_, err = env.orders.UpdateStatus(ctx, resp.Order.ID, models.StatusUpdate{Status: models.OrderStatusCancelled})
	assert.True(t, apperr.Is[*apperr.ConflictError](err))
	assert.Equal(t, 5, env.stock(t, p.ID, "", ""))
}

func TestCancelUnsettledOrderDoesNotRestock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 2, "", "")

	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodOnline))
	require.NoError(t, err)

	cancelled, err := env.orders.UpdateStatus(ctx, resp.Order.ID, models.StatusUpdate{Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.False(t, cancelled.StockRestored)
	assert.Equal(t, 5, env.stock(t, p.ID, "", ""))
	require.Len(t, env.emitter.cancels, 1)
	assert.False(t, env.emitter.cancels[0].restocked)
}

func TestUserOrdersAreScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 1, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	_, err = env.orders.GetUserOrder(ctx, 2, resp.Order.ID)
	assert.True(t, apperr.Is[*apperr.NotFoundError](err))

	mine, err := env.orders.ListUserOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	invoice, err := env.orders.Invoice(ctx, 1, resp.Order.ID)
	require.NoError(t, err)
	assert.Contains(t, invoice, resp.Order.OrderNumber)
	assert.Contains(t, invoice, "Grand total: 1062.00 INR")
}

func TestDeleteOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, 5)
	env.addToCart(t, 1, p.ID, 1, "", "")
	resp, err := env.orders.Checkout(ctx, 1, checkoutReq(models.PaymentMethodCOD))
	require.NoError(t, err)

	_, err = env.orders.DeleteOrders(ctx, nil)
	assert.True(t, apperr.Is[*apperr.ValidationError](err))

	n, err := env.orders.DeleteOrders(ctx, []int64{resp.Order.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
