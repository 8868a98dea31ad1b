// Package webhook verifies HMAC-signed callbacks from shipping carriers.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// Verifier checks HMAC-SHA256 over "{timestamp}.{body}" and rejects
// timestamps outside the tolerance window.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secret string, tolerance time.Duration, clk clock.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, clock: clk}
}

func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return domain.ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrMissingSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(v.secret, timestamp, body)) {
		return domain.ErrInvalidSignature
	}

	// Whole seconds on int64: time.Duration saturates for far-off timestamps.
	skew := v.clock.Now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew < 0 || skew > int64(v.tolerance/time.Second) {
		return domain.ErrStaleTimestamp
	}
	return nil
}

// Sign returns the hex signature a sender attaches for body at timestamp.
func Sign(secret string, timestamp int64, body []byte) string {
	return hex.EncodeToString(mac([]byte(secret), strconv.FormatInt(timestamp, 10), body))
}

func mac(secret []byte, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}
