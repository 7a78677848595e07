package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

// PaymentHistory records one invoice outcome. Rows are insert-only; the
// unique stripe_invoice_id index deduplicates redelivered invoice events.
type PaymentHistory struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID  uint            `gorm:"not null;index" json:"subscription_id"`
	StripeInvoiceID string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_history_stripe_invoice_id" json:"stripe_invoice_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status          string          `gorm:"type:varchar(16);not null" json:"status"`
	Description     *string         `gorm:"type:text" json:"description,omitempty"`
	PaidAt          *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Subscription Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}
