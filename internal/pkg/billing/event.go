package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies one of the domain events derived from payment
// processor webhooks.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription.created"
	EventSubscriptionUpdated  EventKind = "subscription.updated"
	EventSubscriptionRenewed  EventKind = "subscription.renewed"
	EventSubscriptionCanceled EventKind = "subscription.canceled"
	EventPaymentSucceeded     EventKind = "payment.succeeded"
	EventPaymentFailed        EventKind = "payment.failed"
	// EventCheckoutCompleted is logged at ingress only; the authoritative
	// state change arrives via the subscription.* events.
	EventCheckoutCompleted EventKind = "checkout.completed"
)

const routingKeyPrefix = "billing."

// Publishable reports whether the kind is carried over the broker.
func (k EventKind) Publishable() bool {
	switch k {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionRenewed,
		EventSubscriptionCanceled, EventPaymentSucceeded, EventPaymentFailed:
		return true
	default:
		return false
	}
}

// RoutingKey returns the topic routing key for a publishable kind, or ""
// for kinds that never leave the billing process.
func (k EventKind) RoutingKey() string {
	if !k.Publishable() {
		return ""
	}
	return routingKeyPrefix + string(k)
}

// KindFromRoutingKey maps a broker routing key back to an event kind.
func KindFromRoutingKey(key string) (EventKind, bool) {
	k := EventKind(strings.TrimPrefix(key, routingKeyPrefix))
	if !k.Publishable() {
		return "", false
	}
	return k, true
}

// RoutingKeys lists every routing key the consumer queue binds to.
func RoutingKeys() []string {
	kinds := []EventKind{
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionRenewed,
		EventSubscriptionCanceled,
		EventPaymentSucceeded,
		EventPaymentFailed,
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, k.RoutingKey())
	}
	return keys
}

// Event is the normalized fact derived from a processor webhook. Field
// names are the broker wire contract; everything is optional except the
// identifying reference for the event kind.
type Event struct {
	Kind EventKind `json:"-"`

	UserID               uint            `json:"userId,omitempty"`
	PlanID               uint            `json:"planId,omitempty"`
	StripePriceID        string          `json:"stripePriceId,omitempty"`
	StripeSubscriptionID string          `json:"stripeSubscriptionId,omitempty"`
	StripeInvoiceID      string          `json:"stripeInvoiceId,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency,omitempty"`
	Status               string          `json:"status,omitempty"`
	Description          string          `json:"description,omitempty"`
	PaidAt               *time.Time      `json:"paidAt,omitempty"`
	CurrentPeriodStart   *time.Time      `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time      `json:"currentPeriodEnd,omitempty"`
	CanceledAt           *time.Time      `json:"canceledAt,omitempty"`
	EndedAt              *time.Time      `json:"endedAt,omitempty"`
}
