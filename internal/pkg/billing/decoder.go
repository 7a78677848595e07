package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownPayloadShape is returned when none of the known payload shapes
// for a value match the webhook body.
var ErrUnknownPayloadShape = errors.New("no known payload shape matched")

const billingReasonSubscriptionCycle = "subscription_cycle"

// Decoder maps raw Stripe webhook objects into domain events.
type Decoder struct {
	defaultCurrency string
}

func NewDecoder(defaultCurrency string) *Decoder {
	cur := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if cur == "" {
		cur = "USD"
	}
	return &Decoder{defaultCurrency: cur}
}

// Decode turns one verified webhook call into zero or more domain events.
// Unknown event types are out of scope and yield no events and no error.
func (d *Decoder) Decode(eventType string, data []byte) ([]Event, error) {
	switch eventType {
	case "customer.subscription.created":
		return d.decodeSubscription(EventSubscriptionCreated, data)
	case "customer.subscription.updated":
		return d.decodeSubscription(EventSubscriptionUpdated, data)
	case "customer.subscription.deleted":
		return d.decodeSubscription(EventSubscriptionCanceled, data)
	case "invoice.payment_succeeded":
		return d.decodeInvoice(EventPaymentSucceeded, data)
	case "invoice.payment_failed":
		return d.decodeInvoice(EventPaymentFailed, data)
	case "checkout.session.completed":
		return d.decodeCheckoutSession(data)
	default:
		return nil, nil
	}
}

// idRef is a reference that Stripe serializes either as a bare id string or
// as an expanded object carrying an id. Shapes are tried in that order.
type idRef string

func (r *idRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = idRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*r = idRef(obj.ID)
		return nil
	}
	return ErrUnknownPayloadShape
}

type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	EndedAt            int64             `json:"ended_at"`
	Currency           string            `json:"currency"`
	Metadata           map[string]string `json:"metadata"`
	Plan               struct {
		ID string `json:"id"`
	} `json:"plan"`
	Items struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Plan struct {
				ID string `json:"id"`
			} `json:"plan"`
		} `json:"data"`
	} `json:"items"`
}

// priceID resolves the processor price reference, trying the current item
// price shape first and falling back to the legacy plan shapes.
func (p *subscriptionPayload) priceID() string {
	if len(p.Items.Data) > 0 {
		if id := p.Items.Data[0].Price.ID; id != "" {
			return id
		}
		if id := p.Items.Data[0].Plan.ID; id != "" {
			return id
		}
	}
	return p.Plan.ID
}

func (d *Decoder) decodeSubscription(kind EventKind, data []byte) ([]Event, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("subscription payload: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("subscription payload missing id: %w", ErrUnknownPayloadShape)
	}

	ev := Event{
		Kind:                 kind,
		UserID:               metadataUint(sub.Metadata, "userId"),
		PlanID:               metadataUint(sub.Metadata, "planId"),
		StripePriceID:        sub.priceID(),
		StripeSubscriptionID: sub.ID,
		Currency:             d.normalizeCurrency(sub.Currency),
		Status:               sub.Status,
		CurrentPeriodStart:   epochToTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     epochToTime(sub.CurrentPeriodEnd),
		CanceledAt:           epochToTime(sub.CanceledAt),
		EndedAt:              epochToTime(sub.EndedAt),
	}
	if kind == EventSubscriptionCanceled && ev.Status == "" {
		ev.Status = "canceled"
	}
	return []Event{ev}, nil
}

type invoicePayload struct {
	ID           string `json:"id"`
	Subscription idRef  `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription idRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid        int64  `json:"amount_paid"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	BillingReason     string `json:"billing_reason"`
	Description       string `json:"description"`
	Created           int64  `json:"created"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Description  string `json:"description"`
			Subscription idRef  `json:"subscription"`
			Price        struct {
				ID string `json:"id"`
			} `json:"price"`
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionRef resolves the invoice's subscription reference, trying each
// known shape in priority order: the top-level field, the newer parent
// details block, then the first invoice line.
func (p *invoicePayload) subscriptionRef() (string, error) {
	if p.Subscription != "" {
		return string(p.Subscription), nil
	}
	if p.Parent.SubscriptionDetails.Subscription != "" {
		return string(p.Parent.SubscriptionDetails.Subscription), nil
	}
	if len(p.Lines.Data) > 0 && p.Lines.Data[0].Subscription != "" {
		return string(p.Lines.Data[0].Subscription), nil
	}
	return "", fmt.Errorf("invoice subscription reference: %w", ErrUnknownPayloadShape)
}

func (d *Decoder) decodeInvoice(kind EventKind, data []byte) ([]Event, error) {
	var inv invoicePayload
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("invoice payload: %w", err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("invoice payload missing id: %w", ErrUnknownPayloadShape)
	}
	subRef, err := inv.subscriptionRef()
	if err != nil {
		return nil, err
	}

	minor := inv.AmountPaid
	if kind == EventPaymentFailed {
		minor = inv.AmountDue
	}

	ev := Event{
		Kind:                 kind,
		StripeSubscriptionID: subRef,
		StripeInvoiceID:      inv.ID,
		Amount:               minorUnitsToDecimal(minor),
		Currency:             d.normalizeCurrency(inv.Currency),
		Description:          inv.Description,
	}
	if kind == EventPaymentSucceeded {
		paidAt := inv.StatusTransitions.PaidAt
		if paidAt == 0 {
			paidAt = inv.Created
		}
		ev.PaidAt = epochToTime(paidAt)
	}
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if ev.Description == "" {
			ev.Description = line.Description
		}
		ev.StripePriceID = line.Price.ID
		ev.CurrentPeriodStart = epochToTime(line.Period.Start)
		ev.CurrentPeriodEnd = epochToTime(line.Period.End)
	}

	events := []Event{ev}

	// A paid renewal invoice also advances the subscription's billing
	// period, so it carries an explicit renewed event over the broker.
	if kind == EventPaymentSucceeded &&
		inv.BillingReason == billingReasonSubscriptionCycle &&
		ev.CurrentPeriodStart != nil && ev.CurrentPeriodEnd != nil {
		events = append(events, Event{
			Kind:                 EventSubscriptionRenewed,
			StripeSubscriptionID: subRef,
			StripePriceID:        ev.StripePriceID,
			Status:               "active",
			CurrentPeriodStart:   ev.CurrentPeriodStart,
			CurrentPeriodEnd:     ev.CurrentPeriodEnd,
		})
	}
	return events, nil
}

type checkoutSessionPayload struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription idRef             `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func (d *Decoder) decodeCheckoutSession(data []byte) ([]Event, error) {
	var sess checkoutSessionPayload
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("checkout session payload: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("checkout session missing id: %w", ErrUnknownPayloadShape)
	}
	return []Event{{
		Kind:                 EventCheckoutCompleted,
		UserID:               metadataUint(sess.Metadata, "userId"),
		PlanID:               metadataUint(sess.Metadata, "planId"),
		StripeSubscriptionID: string(sess.Subscription),
		Description:          sess.Mode,
	}}, nil
}

func metadataUint(meta map[string]string, key string) uint {
	raw, ok := meta[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}

func minorUnitsToDecimal(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}

func epochToTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func (d *Decoder) normalizeCurrency(cur string) string {
	cur = strings.ToUpper(strings.TrimSpace(cur))
	if cur == "" {
		return d.defaultCurrency
	}
	return cur
}
