package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/craftscribe/craftscribe/pkg/auth"
	"github.com/craftscribe/craftscribe/pkg/billing"
	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/craftscribe/craftscribe/pkg/storage"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/webhook"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// response is the success envelope.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// errorResponse is the failure envelope. Error carries only the generic
// category message; full detail lives in the server log keyed by ErrorID.
type errorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	ErrorID    string `json:"error_id"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, response{Success: true, Data: data})
}

func okMessage(c *gin.Context, status int, message string, data any) {
	c.JSON(status, response{Success: true, Message: message, Data: data})
}

// fail terminates the request with the category mapped from err. The raw
// error text never reaches the client.
func fail(c *gin.Context, err error) {
	status, message := classify(err)
	errID := uuid.NewString()

	slog.Error("Request failed",
		slog.String("errorId", errID),
		slog.Int("status", status),
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.String("requestId", c.GetString(requestIDKey)),
		slog.String("error", err.Error()),
	)

	c.AbortWithStatusJSON(status, errorResponse{
		Success:    false,
		Error:      message,
		StatusCode: status,
		ErrorID:    errID,
	})
}

// classify maps the closed error taxonomy onto HTTP statuses and generic
// client messages. Anything unrecognized is a 500.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrKeySetUnavailable):
		return http.StatusServiceUnavailable, "authentication temporarily unavailable"

	case errors.Is(err, webhook.ErrMissingSecret):
		// Deployment defect, not a client error.
		return http.StatusInternalServerError, "webhook not configured"
	case errors.Is(err, webhook.ErrMissingSignature):
		return http.StatusBadRequest, "missing signature"
	case errors.Is(err, webhook.ErrMalformedSignature):
		return http.StatusBadRequest, "malformed signature"
	case errors.Is(err, webhook.ErrSignatureMismatch):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, webhook.ErrTimestampTooOld):
		return http.StatusBadRequest, "signature timestamp outside tolerance"

	case errors.Is(err, supabase.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrInsufficientCredits):
		return http.StatusForbidden, "insufficient credits"

	case errors.Is(err, billing.ErrInvalidPlan):
		return http.StatusBadRequest, "invalid plan"
	case errors.Is(err, billing.ErrNoCustomer):
		return http.StatusBadRequest, "no billing account"
	case errors.Is(err, marketplace.ErrNoShop):
		return http.StatusBadRequest, "no etsy shop"
	case errors.Is(err, marketplace.ErrInvalidState):
		return http.StatusBadRequest, "invalid oauth state"
	case errors.Is(err, storage.ErrImageTooLarge):
		return http.StatusBadRequest, "image too large"
	case errors.Is(err, storage.ErrUnsupportedImage):
		return http.StatusBadRequest, "unsupported image format"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad request"

	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
