package http

import (
	"log/slog"
	"net/http"

	"github.com/cimillas/checkout-engine/internal/auth"
	"github.com/cimillas/checkout-engine/internal/metrics"
)

// RouterDeps wires services into the HTTP surface. Nil webhook services
// answer 503 until their secrets are configured.
type RouterDeps struct {
	Checkout        Checkouter
	Orders          OrderCanceler
	GiftCards       GiftCardIssuer
	PaymentWebhook  PaymentWebhookHandler
	ShipmentWebhook ShipmentWebhookHandler

	PaymentSignatureHeader string
	ShipmentHeaders        WebhookHeaders

	Tokens      TokenValidator
	DB          Pinger
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter builds the full handler chain: CORS inside request logging.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics

	user := func(h http.Handler) http.Handler { return RequireUser(deps.Tokens, h) }
	admin := func(h http.Handler) http.Handler {
		return RequireUser(deps.Tokens, RequireRole(auth.RoleAdmin, h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	if deps.DB != nil {
		mux.Handle("/ready", HandleReady(deps.DB))
	}
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	mux.Handle("/checkout", user(HandleCheckout(deps.Checkout, m, logger)))
	mux.Handle("/orders/", user(HandleCancelOrder(deps.Orders, logger)))
	mux.Handle("/giftcards", admin(HandleIssueGiftCard(deps.GiftCards, logger)))
	mux.Handle("/giftcards/redeem", user(HandleRedeemGiftCard(deps.GiftCards, logger)))

	if deps.PaymentWebhook != nil {
		mux.Handle("/webhooks/payment", HandlePaymentWebhook(deps.PaymentWebhook, deps.PaymentSignatureHeader, m, logger))
	} else {
		mux.Handle("/webhooks/payment", notConfigured("payment webhook"))
	}
	if deps.ShipmentWebhook != nil {
		mux.Handle("/webhooks/shipment", HandleShipmentWebhook(deps.ShipmentWebhook, deps.ShipmentHeaders, m, logger))
	} else {
		mux.Handle("/webhooks/shipment", notConfigured("shipment webhook"))
	}
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(CORS(deps.CORSOrigins, mux), logger, m)
}

func notConfigured(what string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, codeNotConfigured, what+" not configured")
	})
}
