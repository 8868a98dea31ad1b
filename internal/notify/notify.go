// Package notify publishes committed order status changes.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
)

// StatusMessage is the payload every channel receives.
type StatusMessage struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	From      string    `json:"from"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

func newStatusMessage(c app.StatusChange) StatusMessage {
	return StatusMessage{
		OrderID:   c.OrderID,
		UserID:    c.UserID,
		From:      string(c.From),
		Status:    string(c.To),
		ChangedAt: c.ChangedAt.UTC(),
	}
}

// DefaultPublishTimeout bounds one dispatch. Dispatch runs after commit on
// the request goroutine, so a dead broker must not hold the response.
const DefaultPublishTimeout = 2 * time.Second

// Dispatcher fans a change out to every notifier and joins their errors.
type Dispatcher struct {
	notifiers []app.Notifier
	logger    *slog.Logger
	timeout   time.Duration
}

func NewDispatcher(logger *slog.Logger, notifiers ...app.Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, logger: logger, timeout: DefaultPublishTimeout}
}

// WithTimeout replaces the per-dispatch deadline. Non-positive values are
// ignored.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

var _ app.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) OrderStatusChanged(ctx context.Context, change app.StatusChange) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, n := range d.notifiers {
		if err := n.OrderStatusChanged(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Debug("status change published", "order_id", change.OrderID, "status", change.To, "channels", len(d.notifiers))
	return nil
}
