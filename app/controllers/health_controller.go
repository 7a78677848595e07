package controllers

import (
	"billingbridge/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
)

// NewHealthHandler reports process liveness, broker connection state and
// the pipeline counter snapshot.
func NewHealthHandler(brokerState func() string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		counters, err := counter.Snapshot()
		if err != nil {
			counters = map[string]int64{}
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"broker":   brokerState(),
			"counters": counters,
		})
	}
}
