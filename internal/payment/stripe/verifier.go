package stripe

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Verifier authenticates webhook bodies with the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

var _ app.PaymentEventVerifier = (*Verifier)(nil)

func (v *Verifier) Verify(payload []byte, signatureHeader string) (app.PaymentEvent, error) {
	if signatureHeader == "" {
		return app.PaymentEvent{}, domain.ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return app.PaymentEvent{}, mapWebhookError(err)
	}

	out := app.PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	switch out.Type {
	case app.EventPaymentSucceeded, app.EventPaymentFailed:
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return app.PaymentEvent{}, domain.ErrInvalidPayload
	}
	out.IntentID = pi.ID
	out.Amount = pi.Amount
	out.Currency = string(pi.Currency)
	out.OrderID = pi.Metadata["order_id"]
	return out, nil
}

func mapWebhookError(err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader):
		return domain.ErrMissingSignature
	case errors.Is(err, webhook.ErrTooOld):
		return domain.ErrStaleTimestamp
	case errors.Is(err, webhook.ErrNoValidSignature):
		return domain.ErrInvalidSignature
	default:
		return domain.ErrInvalidPayload
	}
}
