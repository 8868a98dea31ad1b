package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cimillas/checkout-engine/internal/domain"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeValidation         = "validation_error"
	codeConflict           = "conflict"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeInvalidSignature   = "invalid_signature"
	codeStaleTimestamp     = "stale_timestamp"
	codeUnavailable        = "service_unavailable"
	codeNotConfigured      = "not_configured"
	codeInternalError      = "internal_error"
)

// sentinelCodes gives callers a stable machine code for the failures they
// are expected to branch on.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{domain.ErrIdempotencyKeyMismatch, "idempotency_key_mismatch"},
	{domain.ErrCartEmpty, "cart_empty"},
	{domain.ErrCartNotFound, "cart_not_found"},
	{domain.ErrMixedCurrencies, "mixed_currencies"},
	{domain.ErrCurrencyMismatch, "currency_mismatch"},
	{domain.ErrProductUnavailable, "product_unavailable"},
	{domain.ErrInvalidQuantity, "invalid_quantity"},
	{domain.ErrInvalidAmount, "invalid_amount"},
	{domain.ErrNonPositiveTotal, "non_positive_total"},
	{domain.ErrGiftMessageTooLong, "gift_message_too_long"},
	{domain.ErrInsufficientInventory, "insufficient_inventory"},
	{domain.ErrCartChanged, "cart_changed"},
	{domain.ErrDiscountInvalid, "discount_invalid"},
	{domain.ErrDiscountMinimum, "discount_minimum_not_met"},
	{domain.ErrDiscountUserLimit, "discount_user_limit"},
	{domain.ErrDiscountNotApplicable, "discount_not_applicable"},
	{domain.ErrDiscountNotFound, "discount_not_found"},
	{domain.ErrIllegalTransition, "illegal_transition"},
	{domain.ErrOrderNotFound, "order_not_found"},
	{domain.ErrInvalidID, "invalid_id"},
	{domain.ErrInvalidStatus, "invalid_status"},
	{domain.ErrInvalidPayload, "invalid_payload"},
	{domain.ErrMissingSignature, "missing_signature"},
	{domain.ErrInvalidSignature, codeInvalidSignature},
	{domain.ErrStaleTimestamp, codeStaleTimestamp},
	{domain.ErrNotClaimable, "not_claimable"},
	{domain.ErrGiftCardExists, "gift_card_exists"},
	{domain.ErrNotConfigured, codeNotConfigured},
	{domain.ErrPaymentUnavailable, "payment_unavailable"},
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindReplay:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthenticity:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeForError(err error, kind domain.Kind) string {
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	switch kind {
	case domain.KindValidation:
		return codeValidation
	case domain.KindConflict:
		return codeConflict
	case domain.KindAuthenticity:
		return codeInvalidSignature
	case domain.KindReplay:
		return codeStaleTimestamp
	case domain.KindNotFound:
		return codeNotFound
	case domain.KindExternalService:
		return codeUnavailable
	default:
		return codeInternalError
	}
}

// writeDomainError renders err in the error envelope. Internal and provider
// failures are logged and their detail is not returned.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	code := codeForError(err, kind)

	msg := err.Error()
	switch kind {
	case domain.KindInternal:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	case domain.KindExternalService:
		logger.Warn("dependency unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "service unavailable"
	}
	writeError(w, status, code, msg)
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
