package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoku/internal/domain"
	"tokoku/internal/service"
	"tokoku/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "http://127.0.0.1:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodOptions, "/api/v1/sales", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	e := newTestEnv(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		e.handler.ServeHTTP(res, req)

		if i < 5 {
			assert.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	e := newTestEnv(t)
	veryLong := strings.Repeat("a", maxJSONBody+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	e.handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t, "admin", testAdminPassword)

	body, _ := json.Marshal(domain.BulkDeleteRequest{SaleIDs: []string{"sale_missing"}, ManagerPIN: "000000"})
	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/bulk-delete", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		e.handler.ServeHTTP(res, req)

		if i < 8 {
			require.Equal(t, http.StatusForbidden, res.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, fmt.Errorf("query products: %w", fmt.Errorf("pq: relation missing")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := map[error]int{
		store.ErrInvalidInput:                     http.StatusBadRequest,
		fmt.Errorf("wrap: %w", store.ErrNotFound): http.StatusNotFound,
		store.ErrDuplicateNumber:                  http.StatusConflict,
		service.ErrPriceChanged:                   http.StatusConflict,
		store.ErrInsufficientStock:                http.StatusUnprocessableEntity,
		store.ErrInactiveProduct:                  http.StatusUnprocessableEntity,
		service.ErrForbidden:                      http.StatusForbidden,
		service.ErrInvalidManagerPIN:              http.StatusForbidden,
		fmt.Errorf("disk full"):                   http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("-3", 50, 200))
}
