package controllers

import (
	"strings"

	"billingbridge/internal/pkg/billing"
	"billingbridge/internal/pkg/broker"
	"billingbridge/internal/pkg/env"
	"billingbridge/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// NewStripeWebhookHandler returns the Stripe webhook endpoint. The response
// never waits on the broker: Stripe's own retry policy governs webhook
// redelivery, and a slow response here would trigger provider-side retries.
func NewStripeWebhookHandler(publisher *broker.Publisher, decoder *billing.Decoder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
		if secret == "" {
			log.Error("[Webhook] STRIPE_WEBHOOK_SECRET is not configured")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
		}

		rawBody := append([]byte(nil), c.BodyRaw()...)
		signature := strings.TrimSpace(c.Get("Stripe-Signature"))
		_ = counter.Add(counter.WebhooksReceived)

		stripeEvent, err := billing.VerifyWebhookSignature(rawBody, signature, secret)
		if err != nil {
			_ = counter.Add(counter.WebhooksRejected)
			log.Warnf("[Webhook] rejected call: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}

		events, err := decoder.Decode(string(stripeEvent.Type), stripeEvent.Data.Raw)
		if err != nil {
			// The call is authentic but the payload shape is unknown.
			// Stripe redelivery would not fare better, so acknowledge.
			log.Errorf("[Webhook] cannot decode %s: %v", stripeEvent.Type, err)
			return c.JSON(fiber.Map{"received": true})
		}

		for _, ev := range events {
			if ev.Kind == billing.EventCheckoutCompleted {
				log.Infof("[Webhook] checkout session completed (mode=%s, subscription=%q)", ev.Description, ev.StripeSubscriptionID)
				continue
			}
			switch publisher.Publish(c.UserContext(), ev) {
			case broker.OutcomeEnqueued:
				_ = counter.Add(counter.EventsPublished)
			case broker.OutcomeDroppedNoConnection:
				_ = counter.Add(counter.EventsDropped)
			}
		}

		return c.JSON(fiber.Map{"received": true})
	}
}
