package controllers

import (
	"encoding/json"
	"time"

	"billingbridge/internal/pkg/cache"
	"billingbridge/internal/pkg/subscription"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	planCacheKey = "billing:plans"
	planCacheTTL = 5 * time.Minute
)

// NewPlanListHandler exposes the plan catalog, ordered for display. The
// pipeline only reads plans; writes belong to the admin flow, so the
// response is cached with a short TTL. Cache trouble degrades to a plain
// DB read.
func NewPlanListHandler(repo subscription.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cached, err := cache.Get(planCacheKey); err == nil && cached != "" {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.SendString(cached)
		}

		plans, err := repo.ListPlans()
		if err != nil {
			log.Errorf("[Plans] list failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "plans_unavailable"})
		}

		body, err := json.Marshal(fiber.Map{"plans": plans})
		if err != nil {
			return c.JSON(fiber.Map{"plans": plans})
		}
		if err := cache.Set(planCacheKey, body, planCacheTTL); err != nil {
			log.Debugf("[Plans] cache store failed: %v", err)
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}
}
