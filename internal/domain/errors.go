package domain

import "errors"

// Kind classifies a failure by who caused it and whether a retry can help.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindAuthenticity    Kind = "authenticity"
	KindReplay          Kind = "replay"
	KindNotFound        Kind = "not_found"
	KindExternalService Kind = "external_service"
	KindInternal        Kind = "internal"
)

// Error is a classified domain failure. Sentinels below are *Error values and
// compare with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil && e.Msg == "" {
		return e.err.Error()
	}
	if e.err != nil {
		return e.Msg + ": " + e.err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Conflict reclassifies err as a conflict. Used when a check that passed
// optimistically fails again once rows are locked.
func Conflict(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindConflict, err: err}
}

// ExternalService wraps a payment provider or other remote failure.
func ExternalService(msg string, err error) error {
	return &Error{Kind: KindExternalService, Msg: msg, err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

var (
	ErrInvalidID              = newError(KindValidation, "invalid id")
	ErrIdempotencyKeyMismatch = newError(KindValidation, "idempotency key in header and body differ")
	ErrCartEmpty              = newError(KindValidation, "cart is empty")
	ErrMixedCurrencies        = newError(KindValidation, "cart contains items in multiple currencies")
	ErrCurrencyMismatch       = newError(KindValidation, "cart currency does not match requested currency")
	ErrProductUnavailable     = newError(KindValidation, "product is not available")
	ErrInvalidQuantity        = newError(KindValidation, "invalid quantity")
	ErrInvalidAmount          = newError(KindValidation, "invalid amount")
	ErrNonPositiveTotal       = newError(KindValidation, "order total must be greater than zero")
	ErrGiftMessageTooLong     = newError(KindValidation, "gift message is too long")
	ErrDiscountInvalid        = newError(KindValidation, "discount code is invalid or expired")
	ErrDiscountMinimum        = newError(KindValidation, "order does not meet discount minimum")
	ErrDiscountUserLimit      = newError(KindValidation, "discount usage limit reached")
	ErrDiscountNotApplicable  = newError(KindValidation, "discount does not apply to cart items")
	ErrInvalidStatus          = newError(KindValidation, "invalid order status")
	ErrInvalidPayload         = newError(KindValidation, "invalid webhook payload")
	ErrMissingSignature       = newError(KindValidation, "missing or malformed signature headers")

	ErrInsufficientInventory = newError(KindConflict, "insufficient inventory")
	ErrCartChanged           = newError(KindConflict, "cart changed during checkout, retry")
	ErrIllegalTransition     = newError(KindConflict, "illegal order status transition")
	ErrAlreadyRedeemed       = newError(KindConflict, "discount already redeemed for order")
	ErrDuplicateOrder        = newError(KindConflict, "order already exists for idempotency key")
	ErrGiftCardExists        = newError(KindConflict, "gift card code already exists")

	ErrInvalidSignature = newError(KindAuthenticity, "invalid webhook signature")
	ErrStaleTimestamp   = newError(KindReplay, "webhook timestamp outside tolerance")

	ErrCartNotFound     = newError(KindNotFound, "cart not found")
	ErrOrderNotFound    = newError(KindNotFound, "order not found")
	ErrDiscountNotFound = newError(KindNotFound, "discount not found")
	ErrGiftCardNotFound = newError(KindNotFound, "gift card not found")
	ErrNotClaimable     = newError(KindNotFound, "not found or already redeemed")

	ErrPaymentUnavailable = newError(KindExternalService, "payment provider unavailable")
	ErrNotConfigured      = newError(KindExternalService, "service not configured")
)
