package domain

import "time"

// WebhookSource distinguishes the two dedup ledgers.
type WebhookSource string

const (
	WebhookSourcePayment  WebhookSource = "payment"
	WebhookSourceShipment WebhookSource = "shipment"
)

// WebhookEvent is written once per external event id and never updated.
type WebhookEvent struct {
	EventID    string
	Source     WebhookSource
	Type       string
	OrderID    string
	ReceivedAt time.Time
}
