package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"billingbridge/app/models"
	"billingbridge/internal/pkg/cache"
	"billingbridge/internal/pkg/subscription"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlanRepo struct {
	subscription.Repository
	plans []models.Plan
	err   error
}

func (s *stubPlanRepo) ListPlans() ([]models.Plan, error) {
	return s.plans, s.err
}

func clearPlanCache() {
	_ = cache.GetClient().Del(context.Background(), planCacheKey).Err()
}

func TestPlanListReturnsCatalog(t *testing.T) {
	clearPlanCache()
	repo := &stubPlanRepo{plans: []models.Plan{
		{ID: 1, Name: models.PlanNameStarter, Price: decimal.NewFromInt(5), StripePriceID: "price_starter"},
		{ID: 2, Name: models.PlanNamePro, Price: decimal.NewFromInt(15), StripePriceID: "price_pro"},
	}}

	app := fiber.New()
	app.Get("/api/v1/plans", NewPlanListHandler(repo))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/plans", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Plans []models.Plan `json:"plans"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Plans, 2)
	assert.Equal(t, models.PlanNameStarter, body.Plans[0].Name)
	assert.Equal(t, models.PlanNamePro, body.Plans[1].Name)
}

func TestPlanListReportsStoreFailure(t *testing.T) {
	clearPlanCache()
	repo := &stubPlanRepo{err: errors.New("db gone")}

	app := fiber.New()
	app.Get("/api/v1/plans", NewPlanListHandler(repo))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/plans", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
