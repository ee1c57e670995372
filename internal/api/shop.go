package api

import (
	"net/http"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

type otpRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type otpVerifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (h *Handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.OTP.RequestOTP(c.Request.Context(), req.Phone); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.svc.OTP.VerifyOTP(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.svc.Catalog.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.svc.Catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) listReviews(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	reviews, err := h.svc.Reviews.ListApproved(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *Handler) submitReview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	review, err := h.svc.Reviews.Submit(c.Request.Context(), auth.UserID(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.svc.Cart.GetCart(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.svc.Cart.AddItem(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type quantityRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Cart.UpdateQuantity(c.Request.Context(), auth.UserID(c), id, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Cart.RemoveItem(c.Request.Context(), auth.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.svc.Cart.Clear(c.Request.Context(), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAddresses(c *gin.Context) {
	addrs, err := h.svc.Catalog.ListAddresses(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addrs})
}

func (h *Handler) addAddress(c *gin.Context) {
	var addr models.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		badRequest(c, err)
		return
	}
	addr.ID = 0
	if err := h.svc.Catalog.AddAddress(c.Request.Context(), auth.UserID(c), &addr); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, addr)
}

// checkout handles order placement. The optional Idempotency-Key header
// guards against double submission.
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.svc.Orders.Checkout(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) createPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	intent, err := h.svc.Payments.CreatePaymentIntent(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.svc.Payments.VerifyPayment(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	orders, err := h.svc.Orders.ListUserOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Orders.GetUserOrder(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	invoice, err := h.svc.Orders.Invoice(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, invoice)
}
