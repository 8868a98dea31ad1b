package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cimillas/checkout-engine/internal/domain"
)

// OrderCanceler is the minimal interface needed to cancel an order.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
}

// HandleCancelOrder serves POST /orders/{id}/cancel for the order's owner.
func HandleCancelOrder(svc OrderCanceler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := parseCancelOrderPath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}

		order, err := svc.CancelOrder(r.Context(), claims.UserID, orderID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

func parseCancelOrderPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 {
		return "", false
	}
	if parts[0] != "orders" || parts[2] != "cancel" {
		return "", false
	}
	if parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
