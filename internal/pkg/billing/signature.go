package billing

import (
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature marks a webhook call whose signature header is missing
// or does not match the payload. Verification fails closed.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyWebhookSignature checks the Stripe-Signature header (HMAC-SHA256
// over the timestamped payload) against the shared signing secret and
// returns the verified event envelope.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) (*stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}
