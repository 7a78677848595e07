package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanNameStarter  = "Starter"
	PlanNamePro      = "Pro"
	PlanNameBusiness = "Business"
)

const (
	BillingIntervalMonthly = "monthly"
	BillingIntervalYearly  = "yearly"
)

// Plan is a sellable offering. Plans are written by the admin flow and only
// read by the event pipeline to resolve subscription events.
type Plan struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Name            string          `gorm:"type:varchar(50);not null" json:"name"`
	Price           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	BillingInterval string          `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_interval"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	StripePriceID   string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_plans_stripe_price_id" json:"stripe_price_id"`
	MaxEntitlements int             `gorm:"not null;default:0" json:"max_entitlements"`
	DisplayOrder    int             `gorm:"not null;default:0;index" json:"display_order"`
	Description     *string         `gorm:"type:text" json:"description,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
