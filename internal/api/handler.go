package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the business services the handlers call
type Services struct {
	Orders   *service.OrderService
	Payments *service.PaymentService
	Cart     *service.CartService
	Catalog  *service.CatalogService
	Reviews  *service.ReviewService
	Settings *service.SettingsService
	Stock    *service.StockLedger
	OTP      *service.OTPService
}

// Handler contains HTTP handlers
type Handler struct {
	svc     Services
	auth    *auth.Issuer
	limiter *ipRateLimiter
	checks  map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, issuer *auth.Issuer, rps float64, burst int, checks map[string]Pinger) *Handler {
	return &Handler{
		svc:     svc,
		auth:    issuer,
		limiter: newIPRateLimiter(rps, burst),
		checks:  checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.limiter.middleware())
	{
		v1.POST("/auth/otp", h.requestOTP)
		v1.POST("/auth/otp/verify", h.verifyOTP)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/reviews", h.listReviews)
	}

	user := v1.Group("", h.auth.Middleware())
	{
		user.GET("/cart", h.getCart)
		user.POST("/cart/items", h.addCartItem)
		user.PATCH("/cart/items/:id", h.updateCartItem)
		user.DELETE("/cart/items/:id", h.removeCartItem)
		user.DELETE("/cart", h.clearCart)

		user.GET("/addresses", h.listAddresses)
		user.POST("/addresses", h.addAddress)

		user.POST("/checkout", h.checkout)
		user.POST("/payments/verify", h.verifyPayment)

		user.GET("/orders", h.listMyOrders)
		user.GET("/orders/:id", h.getOrder)
		user.POST("/orders/:id/payment", h.createPayment)
		user.GET("/orders/:id/invoice", h.getInvoice)

		user.POST("/products/:id/reviews", h.submitReview)
	}

	admin := v1.Group("/admin", h.auth.Middleware(), auth.RequireRole(models.RoleAdmin))
	{
		admin.GET("/orders", h.adminListOrders)
		admin.GET("/orders/:id", h.adminGetOrder)
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)
		admin.POST("/orders/delete", h.deleteOrders)

		admin.POST("/products", h.createProduct)
		admin.PUT("/stock", h.setStock)

		admin.GET("/reviews/pending", h.listPendingReviews)
		admin.PATCH("/reviews/:id", h.moderateReview)

		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
	}
}

// SweepLimiters drops idle rate limiter buckets until ctx is done
func (h *Handler) SweepLimiters(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			h.limiter.Sweep(now)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
