package api

import (
	"net/http"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
)

func (h *Handler) adminListOrders(c *gin.Context) {
	filter := store.OrderFilter{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if s := c.Query("status"); s != "" {
		status, err := models.ParseOrderStatus(s)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Status = status
	}

	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) adminGetOrder(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
	CourierName    string `json:"courier_name"`
	Reason         string `json:"reason"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.svc.Orders.UpdateStatus(c.Request.Context(), id, models.StatusUpdate{
		Status:         status,
		TrackingNumber: req.TrackingNumber,
		CourierName:    req.CourierName,
		Reason:         req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type deleteOrdersRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

func (h *Handler) deleteOrders(c *gin.Context) {
	var req deleteOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.svc.Orders.DeleteOrders(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) createProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = 0
	if err := h.svc.Catalog.CreateProduct(c.Request.Context(), &p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type stockRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Stock     *int   `json:"stock" binding:"required"`
}

func (h *Handler) setStock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.Stock.SetStock(ctx, req.ProductID, req.Size, req.Color, *req.Stock); err != nil {
		respondError(c, err)
		return
	}
	level, err := h.svc.Stock.Level(ctx, req.ProductID, req.Size, req.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": req.ProductID, "size": req.Size, "color": req.Color, "stock": level})
}

func (h *Handler) listPendingReviews(c *gin.Context) {
	reviews, err := h.svc.Reviews.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

type moderateRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) moderateReview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	review, err := h.svc.Reviews.Moderate(c.Request.Context(), id, models.ReviewStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *Handler) getSettings(c *gin.Context) {
	settings, err := h.svc.Settings.All(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Settings.Update(c.Request.Context(), values); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
