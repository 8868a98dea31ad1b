// Package stripe adapts the Stripe API to the checkout payment port.
package stripe

import (
	"context"
	"errors"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// Provider creates and manages payment intents.
type Provider struct {
	client paymentintent.Client
}

// NewProvider uses the default API backend.
func NewProvider(secretKey string) *Provider {
	return NewProviderWithBackend(secretKey, stripe.GetBackend(stripe.APIBackend))
}

func NewProviderWithBackend(secretKey string, backend stripe.Backend) *Provider {
	return &Provider{client: paymentintent.Client{B: backend, Key: secretKey}}
}

var _ app.PaymentProvider = (*Provider)(nil)

func (p *Provider) CreateIntent(ctx context.Context, in app.CreateIntentInput) (app.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if in.IdempotencyToken != "" {
		params.SetIdempotencyKey(in.IdempotencyToken)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.client.New(params)
	if err != nil {
		return app.PaymentIntent{}, mapError("create payment intent", err)
	}
	return toIntent(pi), nil
}

// CancelIntent treats an already canceled intent as success.
func (p *Provider) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.client.Cancel(intentID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return nil
		}
		return mapError("cancel payment intent", err)
	}
	return nil
}

func (p *Provider) UpdateMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if _, err := p.client.Update(intentID, params); err != nil {
		return mapError("update payment intent", err)
	}
	return nil
}

func toIntent(pi *stripe.PaymentIntent) app.PaymentIntent {
	return app.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Canceled:     pi.Status == stripe.PaymentIntentStatusCanceled,
	}
}

// mapError turns provider failures into ExternalService errors.
func mapError(op string, err error) error {
	msg := "payment provider unavailable"
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		msg = stripeErr.Msg
	}
	return domain.ExternalService(op+": "+msg, err)
}
