package api

import (
	"errors"
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	var (
		validation *apperr.ValidationError
		stock      *apperr.InsufficientStockError
		conflict   *apperr.ConflictError
		signature  *apperr.SignatureVerificationError
		timeout    *apperr.GatewayTimeoutError
		gateway    *apperr.GatewayError
		notify     *apperr.NotificationError
		notFound   *apperr.NotFoundError
		limited    *apperr.RateLimitError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &stock), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &signature):
		return http.StatusPaymentRequired
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &gateway), errors.As(err, &notify):
		return http.StatusBadGateway
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Internal errors are logged and their
// details are not returned.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var validation *apperr.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body["field"] = validation.Field
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
