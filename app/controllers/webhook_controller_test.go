package controllers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billingbridge/internal/pkg/billing"
	"billingbridge/internal/pkg/broker"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const webhookPath = "/api/v1/billing/webhook/stripe"

// newWebhookApp wires the handler with a publisher that never reaches a
// broker. The response contract must not depend on broker availability.
func newWebhookApp() *fiber.App {
	dial := func(url string) (broker.Connection, error) {
		return nil, errors.New("no broker in tests")
	}
	publisher := broker.NewPublisherWithDialer(broker.Config{URL: "amqp://test", Exchange: "billing.events"}, dial)

	app := fiber.New()
	app.Post(webhookPath, NewStripeWebhookHandler(publisher, billing.NewDecoder("USD")))
	return app
}

func stripeSignature(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, webhookPath, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestWebhookFailsWithoutConfiguredSecret(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	app := newWebhookApp()

	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.created","data":{"object":{"id":"sub_1"}}}`)
	resp := postWebhook(t, app, payload, "")
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_controller_test")
	app := newWebhookApp()
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.created","data":{"object":{"id":"sub_1"}}}`)

	resp := postWebhook(t, app, payload, "t=1,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Missing header fails closed too.
	resp = postWebhook(t, app, payload, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhookAcknowledgesVerifiedEvent(t *testing.T) {
	secret := "whsec_controller_test"
	t.Setenv("STRIPE_WEBHOOK_SECRET", secret)
	app := newWebhookApp()

	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.created","data":{"object":{"id":"sub_1","status":"active","metadata":{"userId":"7","planId":"1"}}}}`)
	resp := postWebhook(t, app, payload, stripeSignature(t, payload, secret))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["received"])
}

func TestWebhookAcknowledgesUndecodablePayload(t *testing.T) {
	secret := "whsec_controller_test"
	t.Setenv("STRIPE_WEBHOOK_SECRET", secret)
	app := newWebhookApp()

	// Authentic call, but the invoice carries no subscription reference in
	// any known shape. Redelivery would not fare better, so it is a 200.
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1"}}}`)
	resp := postWebhook(t, app, payload, stripeSignature(t, payload, secret))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["received"])
}
