package http

import (
	"context"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/domain"
)

type stubCheckout struct {
	res  app.CheckoutResult
	err  error
	last app.CheckoutInput
}

func (s *stubCheckout) Checkout(_ context.Context, in app.CheckoutInput) (app.CheckoutResult, error) {
	s.last = in
	return s.res, s.err
}

type stubOrders struct {
	order         domain.Order
	err           error
	user, orderID string
}

func (s *stubOrders) CancelOrder(_ context.Context, userID, orderID string) (domain.Order, error) {
	s.user, s.orderID = userID, orderID
	return s.order, s.err
}

type stubGiftCards struct {
	card   domain.GiftCard
	err    error
	issued app.IssueGiftCardInput
	user   string
	code   string
}

func (s *stubGiftCards) IssueGiftCard(_ context.Context, in app.IssueGiftCardInput) (domain.GiftCard, error) {
	s.issued = in
	return s.card, s.err
}

func (s *stubGiftCards) RedeemGiftCard(_ context.Context, userID, code string) (domain.GiftCard, error) {
	s.user, s.code = userID, code
	return s.card, s.err
}

type stubWebhooks struct {
	outcome app.WebhookOutcome
	err     error

	payload   []byte
	signature string
	timestamp string
}

func (s *stubWebhooks) HandlePaymentEvent(_ context.Context, payload []byte, sig string) (app.WebhookOutcome, error) {
	s.payload, s.signature = payload, sig
	return s.outcome, s.err
}

func (s *stubWebhooks) HandleShipmentEvent(_ context.Context, body []byte, sig, ts string) (app.WebhookOutcome, error) {
	s.payload, s.signature, s.timestamp = body, sig, ts
	return s.outcome, s.err
}
