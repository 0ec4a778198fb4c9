package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123", "T1")
	c.csrf = ""

	res := c.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{CashierName: "Sari"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	c.csrf = "not-a-token"
	res = c.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{CashierName: "Sari"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	// reads do not need it
	res = c.do(http.MethodGet, "/api/v1/products", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, handler: api.Handler()}

	res := c.do(http.MethodGet, "/api/v1/shifts/active", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	c.token = "garbage"
	res = c.do(http.MethodGet, "/api/v1/shifts/active", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123", "T1")

	res := c.do(http.MethodPost, "/api/v1/totals", map[string]any{"items": []any{}, "coupon": "X"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", store.ErrNotFound), http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{session.ErrClosed, http.StatusUnauthorized},
		{store.ErrConflict, http.StatusConflict},
		{service.ErrNoOpenShift, http.StatusConflict},
		{service.ErrShiftAlreadyOpen, http.StatusConflict},
		{service.ErrShiftClosed, http.StatusConflict},
		{service.ErrPurchaseLocked, http.StatusConflict},
		{service.ErrInsufficientPayment, http.StatusUnprocessableEntity},
		{service.ErrInvalidPayment, http.StatusUnprocessableEntity},
		{service.ErrNotesRequired, http.StatusUnprocessableEntity},
		{store.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: name", store.ErrInvalidTransaction), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: relation users does not exist"))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.NotContains(t, res.Body.String(), "relation")
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
}

func TestParseTimeParam(t *testing.T) {
	at, err := parseTimeParam("2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 19, at.Day())

	at, err = parseTimeParam("")
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	_, err = parseTimeParam("19/10/2026")
	require.Error(t, err)
}
