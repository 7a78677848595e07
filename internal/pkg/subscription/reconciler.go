package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"billingbridge/app/models"
	"billingbridge/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Reconciler applies domain events to the relational store. Every
// operation is idempotent and tolerates out-of-order delivery: the final
// state converges regardless of duplicates or reordering.
type Reconciler struct {
	repo Repository
}

// NewReconciler creates a reconciler from an injected repository.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo}
}

// NewReconcilerFromDB creates a reconciler from a GORM DB handle.
func NewReconcilerFromDB(db *gorm.DB) *Reconciler {
	return NewReconciler(NewRepository(db))
}

// Apply dispatches one event. A nil return means the event is settled —
// applied, deduplicated, or deliberately dropped with a warning. Errors are
// returned only for store failures worth surfacing to the consumer loop.
func (r *Reconciler) Apply(ctx context.Context, kind billing.EventKind, ev billing.Event) error {
	_ = ctx
	switch kind {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		return r.upsertSubscription(kind, ev)
	case billing.EventSubscriptionRenewed:
		return r.renewSubscription(ev)
	case billing.EventSubscriptionCanceled:
		return r.cancelSubscription(ev)
	case billing.EventPaymentSucceeded:
		return r.recordPayment(ev, models.PaymentStatusPaid)
	case billing.EventPaymentFailed:
		return r.recordPayment(ev, models.PaymentStatusFailed)
	case billing.EventCheckoutCompleted:
		log.Infof("[Reconciler] checkout completed for subscription %q, awaiting subscription events", ev.StripeSubscriptionID)
		return nil
	default:
		log.Warnf("[Reconciler] dropping event of unknown kind %q", kind)
		return nil
	}
}

// upsertSubscription handles created and updated events with the same
// insert-or-update logic keyed by the external subscription reference, so a
// duplicate created or an updated arriving first both converge.
func (r *Reconciler) upsertSubscription(kind billing.EventKind, ev billing.Event) error {
	if ev.StripeSubscriptionID == "" {
		log.Warnf("[Reconciler] dropping %s without subscription reference", kind)
		return nil
	}

	existing, err := r.findSubscription(ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if existing == nil && ev.UserID == 0 {
		log.Warnf("[Reconciler] dropping %s for %s: no row yet and no user on event", kind, ev.StripeSubscriptionID)
		return nil
	}

	plan := r.resolvePlan(ev)
	if existing == nil && plan == nil {
		log.Warnf("[Reconciler] dropping %s for %s: plan %d / price %q not found", kind, ev.StripeSubscriptionID, ev.PlanID, ev.StripePriceID)
		return nil
	}

	sub := existing
	if sub == nil {
		sub = &models.Subscription{StripeSubscriptionID: ev.StripeSubscriptionID}
	}
	if ev.UserID != 0 {
		sub.UserID = ev.UserID
	}
	if plan != nil {
		sub.PlanID = plan.ID
	}
	sub.Status = MapProcessorStatus(ev.Status)
	sub.CurrentPeriodStart = ev.CurrentPeriodStart
	sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	sub.CanceledAt = ev.CanceledAt
	sub.EndedAt = ev.EndedAt

	return r.repo.UpsertSubscription(sub)
}

// renewSubscription refreshes the billing period of an existing row. A
// renewal arriving before the corresponding created event is a no-op.
func (r *Reconciler) renewSubscription(ev billing.Event) error {
	sub, err := r.findSubscription(ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warnf("[Reconciler] renewal for unknown subscription %q, skipping", ev.StripeSubscriptionID)
		return nil
	}

	sub.Status = models.SubscriptionStatusActive
	if ev.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	sub.CanceledAt = nil
	sub.EndedAt = nil

	return r.repo.SaveSubscription(sub)
}

func (r *Reconciler) cancelSubscription(ev billing.Event) error {
	sub, err := r.findSubscription(ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warnf("[Reconciler] cancellation for unknown subscription %q, skipping", ev.StripeSubscriptionID)
		return nil
	}

	sub.Status = models.SubscriptionStatusCanceled
	if ev.CanceledAt != nil {
		sub.CanceledAt = ev.CanceledAt
	} else {
		now := time.Now().UTC()
		sub.CanceledAt = &now
	}
	if ev.EndedAt != nil {
		sub.EndedAt = ev.EndedAt
	}

	return r.repo.SaveSubscription(sub)
}

// recordPayment inserts one payment row per external invoice reference.
// Duplicate deliveries are detected before insert; the unique constraint
// backstops the race between concurrent deliveries.
func (r *Reconciler) recordPayment(ev billing.Event, status string) error {
	if ev.StripeInvoiceID == "" {
		log.Warnf("[Reconciler] dropping payment event without invoice reference")
		return nil
	}

	sub, err := r.findSubscription(ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warnf("[Reconciler] payment %q references unknown subscription %q, skipping", ev.StripeInvoiceID, ev.StripeSubscriptionID)
		return nil
	}

	exists, err := r.repo.PaymentExists(ev.StripeInvoiceID)
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("[Reconciler] payment %q already recorded", ev.StripeInvoiceID)
	} else {
		payment := &models.PaymentHistory{
			SubscriptionID:  sub.ID,
			StripeInvoiceID: ev.StripeInvoiceID,
			Amount:          ev.Amount,
			Currency:        ev.Currency,
			Status:          status,
			PaidAt:          ev.PaidAt,
		}
		if ev.Description != "" {
			payment.Description = &ev.Description
		}
		if err := r.repo.CreatePayment(payment); err != nil {
			if isDuplicateKey(err) {
				log.Debugf("[Reconciler] payment %q inserted concurrently", ev.StripeInvoiceID)
			} else {
				return err
			}
		}
	}

	// A paid invoice carrying billing-period bounds implies a renewal.
	if status == models.PaymentStatusPaid && ev.CurrentPeriodStart != nil && ev.CurrentPeriodEnd != nil {
		sub.Status = models.SubscriptionStatusActive
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		sub.CanceledAt = nil
		sub.EndedAt = nil
		return r.repo.SaveSubscription(sub)
	}
	return nil
}

// resolvePlan looks the plan up by internal id first, then by the external
// price reference.
func (r *Reconciler) resolvePlan(ev billing.Event) *models.Plan {
	if ev.PlanID != 0 {
		if plan, err := r.repo.FindPlanByID(ev.PlanID); err == nil {
			return plan
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Reconciler] plan lookup by id %d failed: %v", ev.PlanID, err)
		}
	}
	if ev.StripePriceID != "" {
		if plan, err := r.repo.FindPlanByStripePriceID(ev.StripePriceID); err == nil {
			return plan
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Reconciler] plan lookup by price %q failed: %v", ev.StripePriceID, err)
		}
	}
	return nil
}

func (r *Reconciler) findSubscription(stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	sub, err := r.repo.FindSubscriptionByStripeID(stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// MySQL 1062 through drivers that do not translate.
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}
