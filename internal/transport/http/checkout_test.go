package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/auth"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withClaims(r *http.Request, userID, role string) *http.Request {
	claims := auth.Claims{UserID: userID, Role: role}
	return r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:             "order-1",
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		Currency:       "usd",
		ShippingCost:   decimal.RequireFromString("5.00"),
		TaxAmount:      decimal.RequireFromString("1.50"),
		DiscountAmount: decimal.RequireFromString("2.00"),
		TotalPrice:     decimal.RequireFromString("24.50"),
		IdempotencyKey: "key-1",
		Items: []domain.OrderItem{
			{ProductID: "p1", ProductName: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHandleCheckout(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		header     string
		res        app.CheckoutResult
		err        error
		wantStatus int
		wantCode   string
		wantResult string
	}{
		{
			name:       "created",
			body:       `{"shipping_cost":"5.00","tax_amount":"1.50"}`,
			header:     "key-1",
			res:        app.CheckoutResult{Order: sampleOrder(), Created: true, ClientSecret: "pi_secret"},
			wantStatus: http.StatusCreated,
			wantResult: "created",
		},
		{
			name:       "replayed",
			body:       `{"idempotency_key":"key-1"}`,
			res:        app.CheckoutResult{Order: sampleOrder()},
			wantStatus: http.StatusOK,
			wantResult: "replayed",
		},
		{
			name:       "empty body",
			header:     "key-1",
			res:        app.CheckoutResult{Order: sampleOrder(), Created: true},
			wantStatus: http.StatusCreated,
			wantResult: "created",
		},
		{
			name:       "key mismatch",
			body:       `{"idempotency_key":"other"}`,
			header:     "key-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   "idempotency_key_mismatch",
			wantResult: "validation",
		},
		{
			name:       "unknown field",
			body:       `{"coupon":"X"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequestBody,
		},
		{
			name:       "empty cart",
			body:       `{}`,
			err:        domain.ErrCartEmpty,
			wantStatus: http.StatusBadRequest,
			wantCode:   "cart_empty",
			wantResult: "validation",
		},
		{
			name:       "out of stock",
			body:       `{}`,
			err:        domain.ErrInsufficientInventory,
			wantStatus: http.StatusConflict,
			wantCode:   "insufficient_inventory",
			wantResult: "conflict",
		},
		{
			name:       "provider down",
			body:       `{}`,
			err:        domain.ErrPaymentUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "payment_unavailable",
			wantResult: "external_service",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubCheckout{res: tt.res, err: tt.err}
			m := metrics.New()
			handler := HandleCheckout(svc, m, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set(idempotencyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withClaims(req, "user-1", auth.RoleCustomer))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				var resp errorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantCode, resp.Code)
			}
			if tt.wantResult != "" {
				assert.Contains(t, scrape(t, m), `checkout_checkout_total{result="`+tt.wantResult+`"} 1`)
			}
		})
	}
}

func TestHandleCheckout_PassesInput(t *testing.T) {
	svc := &stubCheckout{res: app.CheckoutResult{Order: sampleOrder(), Created: true, ClientSecret: "pi_secret"}}
	handler := HandleCheckout(svc, nil, discardLogger())

	body := `{"currency":"USD","shipping_cost":"5.00","discount_code":"SAVE10","is_gift":true,"gift_message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set(idempotencyHeader, "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withClaims(req, "user-1", auth.RoleCustomer))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", svc.last.UserID)
	assert.Equal(t, "key-1", svc.last.IdempotencyKey)
	assert.Equal(t, "USD", svc.last.Currency)
	assert.True(t, svc.last.ShippingCost.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, svc.last.TaxAmount.IsZero())
	assert.Equal(t, "SAVE10", svc.last.DiscountCode)
	assert.True(t, svc.last.IsGift)

	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pi_secret", resp.ClientSecret)
	assert.Equal(t, "order-1", resp.Order.ID)
	assert.Equal(t, "20.00", resp.Order.Subtotal)
	assert.Equal(t, "24.50", resp.Order.TotalPrice)
	require.Len(t, resp.Order.Items, 1)
	assert.Equal(t, "20.00", resp.Order.Items[0].LineTotal)
}

func TestHandleCheckout_RequiresClaimsAndPost(t *testing.T) {
	handler := HandleCheckout(&stubCheckout{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
