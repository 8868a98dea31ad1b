package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/metrics"
)

// PaymentWebhookHandler is the minimal interface needed for provider events.
type PaymentWebhookHandler interface {
	HandlePaymentEvent(ctx context.Context, payload []byte, signatureHeader string) (app.WebhookOutcome, error)
}

// ShipmentWebhookHandler is the minimal interface needed for carrier events.
type ShipmentWebhookHandler interface {
	HandleShipmentEvent(ctx context.Context, body []byte, signature, timestamp string) (app.WebhookOutcome, error)
}

// WebhookHeaders names the headers each webhook reads its signature from.
type WebhookHeaders struct {
	Signature string
	Timestamp string
}

type webhookResponse struct {
	Status string `json:"status"`
}

// HandlePaymentWebhook serves the payment provider callback. Duplicates and
// ignored events answer 200 so the provider stops retrying.
func HandlePaymentWebhook(svc PaymentWebhookHandler, signatureHeader string, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readWebhookBody(w, r)
		if !ok {
			return
		}
		outcome, err := svc.HandlePaymentEvent(r.Context(), body, r.Header.Get(signatureHeader))
		finishWebhook(w, r, logger, m, string(domain.WebhookSourcePayment), outcome, err)
	}
}

// HandleShipmentWebhook serves the carrier callback.
func HandleShipmentWebhook(svc ShipmentWebhookHandler, headers WebhookHeaders, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readWebhookBody(w, r)
		if !ok {
			return
		}
		outcome, err := svc.HandleShipmentEvent(r.Context(), body, r.Header.Get(headers.Signature), r.Header.Get(headers.Timestamp))
		finishWebhook(w, r, logger, m, string(domain.WebhookSourceShipment), outcome, err)
	}
}

// readWebhookBody keeps the raw bytes; signatures cover them exactly.
func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return nil, false
	}
	return body, true
}

func finishWebhook(w http.ResponseWriter, r *http.Request, logger *slog.Logger, m *metrics.Metrics, source string, outcome app.WebhookOutcome, err error) {
	if err != nil {
		kind := domain.KindOf(err)
		m.Webhook(source, "rejected")
		if kind != domain.KindInternal && kind != domain.KindExternalService {
			logger.Warn("webhook rejected", "source", source, "error", err)
		}
		writeDomainError(w, r, logger, err)
		return
	}
	m.Webhook(source, string(outcome))
	if outcome == app.OutcomeDuplicate {
		logger.Info("webhook duplicate", "source", source)
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: string(outcome)})
}
