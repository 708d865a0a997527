package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad phone"), http.StatusBadRequest},
		{fmt.Errorf("x: %w", apperr.ErrNotFound), http.StatusNotFound},
		{apperr.ErrConflict, http.StatusConflict},
		{apperr.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{apperr.ErrBelowMinimum, http.StatusUnprocessableEntity},
		{&apperr.RateLimitedError{RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{apperr.ErrExpired, http.StatusGone},
		{apperr.ErrTransport, http.StatusBadGateway},
		{apperr.ErrInvalidCredential, http.StatusUnauthorized},
		{apperr.ErrMismatch, http.StatusUnauthorized},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/limited", func(c *gin.Context) {
		WriteError(c, &apperr.RateLimitedError{Key: "k", RetryAfter: 90*time.Second + time.Millisecond})
	})
	router.GET("/broken", func(c *gin.Context) {
		WriteError(c, fmt.Errorf("select failed: connection reset"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "91" {
		t.Fatalf("unexpected response %d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/broken", nil))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusInternalServerError || body["error"] != "internal error" {
		t.Fatalf("internal errors must not leak detail: %d %v", rec.Code, body)
	}
}
