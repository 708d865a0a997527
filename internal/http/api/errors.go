package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// StatusFor maps a ledger error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInsufficientFunds), errors.Is(err, apperr.ErrBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrInvalidCredential), errors.Is(err, apperr.ErrMismatch):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error response. Unclassified errors are logged and
// reported without detail.
func WriteError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if retryAfter, ok := apperr.RetryAfter(err); ok {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		body["retry_after_seconds"] = seconds
	}
	c.JSON(status, body)
}
