package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// GiftCardIssuer is the minimal interface needed to issue and redeem cards.
type GiftCardIssuer interface {
	IssueGiftCard(ctx context.Context, in app.IssueGiftCardInput) (domain.GiftCard, error)
	RedeemGiftCard(ctx context.Context, userID, code string) (domain.GiftCard, error)
}

type issueGiftCardRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type redeemGiftCardRequest struct {
	Code string `json:"code"`
}

type giftCardResponse struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	Amount     string     `json:"amount"`
	Balance    string     `json:"balance"`
	Currency   string     `json:"currency"`
	IsActive   bool       `json:"is_active"`
	RedeemedBy string     `json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type redeemGiftCardResponse struct {
	Code     string `json:"code"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// HandleIssueGiftCard serves POST /giftcards. It must be wrapped with
// RequireRole(auth.RoleAdmin).
func HandleIssueGiftCard(svc GiftCardIssuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		var req issueGiftCardRequest
		if !decodeBody(w, r, &req) {
			return
		}

		card, err := svc.IssueGiftCard(r.Context(), app.IssueGiftCardInput{
			Amount:   req.Amount,
			Currency: req.Currency,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, giftCardResponse{
			ID:         card.ID,
			Code:       card.Code,
			Amount:     card.Amount.StringFixed(2),
			Balance:    card.Balance.StringFixed(2),
			Currency:   card.Currency,
			IsActive:   card.IsActive,
			RedeemedBy: card.RedeemedBy,
			RedeemedAt: card.RedeemedAt,
			CreatedAt:  card.CreatedAt,
		})
	}
}

// HandleRedeemGiftCard serves POST /giftcards/redeem. A card that is unknown
// or already drained answers 404.
func HandleRedeemGiftCard(svc GiftCardIssuer, logger *slog.Logger) http.HandlerFunc {
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
		var req redeemGiftCardRequest
		if !decodeBody(w, r, &req) {
			return
		}

		card, err := svc.RedeemGiftCard(r.Context(), claims.UserID, req.Code)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, redeemGiftCardResponse{
			Code:     card.Code,
			Amount:   card.Amount.StringFixed(2),
			Currency: card.Currency,
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}
