package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/metrics"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

// Checkouter is the minimal interface needed to check out a cart.
type Checkouter interface {
	Checkout(ctx context.Context, in app.CheckoutInput) (app.CheckoutResult, error)
}

type checkoutRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	Currency       string           `json:"currency"`
	ShippingCost   *decimal.Decimal `json:"shipping_cost"`
	TaxAmount      *decimal.Decimal `json:"tax_amount"`
	DiscountCode   string           `json:"discount_code"`
	IsGift         bool             `json:"is_gift"`
	GiftMessage    string           `json:"gift_message"`
}

// idempotencyKey resolves the header and body keys. Both may be set only if
// they agree.
func (req checkoutRequest) idempotencyKey(header string) (string, error) {
	switch {
	case header == "":
		return req.IdempotencyKey, nil
	case req.IdempotencyKey == "" || req.IdempotencyKey == header:
		return header, nil
	default:
		return "", domain.ErrIdempotencyKeyMismatch
	}
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	Subtotal        string              `json:"subtotal"`
	ShippingCost    string              `json:"shipping_cost"`
	TaxAmount       string              `json:"tax_amount"`
	DiscountAmount  string              `json:"discount_amount"`
	TotalPrice      string              `json:"total_price"`
	DiscountCode    string              `json:"discount_code,omitempty"`
	PaymentIntentID string              `json:"payment_intent_id,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key,omitempty"`
	IsGift          bool                `json:"is_gift"`
	GiftMessage     string              `json:"gift_message,omitempty"`
	ShippedDate     *time.Time          `json:"shipped_date,omitempty"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
}

type checkoutResponse struct {
	Order        orderResponse `json:"order"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal().StringFixed(2),
		})
	}
	return orderResponse{
		ID:              o.ID,
		Status:          string(o.Status),
		Currency:        o.Currency,
		Subtotal:        o.Subtotal().StringFixed(2),
		ShippingCost:    o.ShippingCost.StringFixed(2),
		TaxAmount:       o.TaxAmount.StringFixed(2),
		DiscountAmount:  o.DiscountAmount.StringFixed(2),
		TotalPrice:      o.TotalPrice.StringFixed(2),
		DiscountCode:    o.DiscountCode,
		PaymentIntentID: o.PaymentIntentID,
		IdempotencyKey:  o.IdempotencyKey,
		IsGift:          o.IsGift,
		GiftMessage:     o.GiftMessage,
		ShippedDate:     o.ShippedDate,
		Items:           items,
		CreatedAt:       o.CreatedAt,
	}
}

// HandleCheckout returns the checkout handler: 201 for a new order, 200 for
// an idempotent replay.
func HandleCheckout(svc Checkouter, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}

		var req checkoutRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		key, err := req.idempotencyKey(r.Header.Get(idempotencyHeader))
		if err != nil {
			m.Checkout(string(domain.KindValidation))
			writeDomainError(w, r, logger, err)
			return
		}

		in := app.CheckoutInput{
			UserID:         claims.UserID,
			IdempotencyKey: key,
			Currency:       req.Currency,
			ShippingCost:   decimal.Zero,
			TaxAmount:      decimal.Zero,
			DiscountCode:   req.DiscountCode,
			IsGift:         req.IsGift,
			GiftMessage:    req.GiftMessage,
		}
		if req.ShippingCost != nil {
			in.ShippingCost = *req.ShippingCost
		}
		if req.TaxAmount != nil {
			in.TaxAmount = *req.TaxAmount
		}

		res, err := svc.Checkout(r.Context(), in)
		if err != nil {
			m.Checkout(string(domain.KindOf(err)))
			writeDomainError(w, r, logger, err)
			return
		}

		status := http.StatusOK
		result := "replayed"
		if res.Created {
			status = http.StatusCreated
			result = "created"
		}
		m.Checkout(result)
		writeJSON(w, status, checkoutResponse{
			Order:        newOrderResponse(res.Order),
			ClientSecret: res.ClientSecret,
		})
	}
}
