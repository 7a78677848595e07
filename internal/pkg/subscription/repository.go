package subscription

import (
	"billingbridge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations the reconciler needs.
type Repository interface {
	FindPlanByID(id uint) (*models.Plan, error)
	FindPlanByStripePriceID(priceID string) (*models.Plan, error)
	ListPlans() ([]models.Plan, error)
	FindSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	PaymentExists(stripeInvoiceID string) (bool, error)
	CreatePayment(payment *models.PaymentHistory) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPlanByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPlanByStripePriceID(priceID string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("stripe_price_id = ?", priceID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListPlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Order("display_order ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) FindSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan_id",
			"status",
			"current_period_start",
			"current_period_end",
			"canceled_at",
			"ended_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) PaymentExists(stripeInvoiceID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentHistory{}).
		Where("stripe_invoice_id = ?", stripeInvoiceID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreatePayment(payment *models.PaymentHistory) error {
	return r.db.Create(payment).Error
}
