package subscription

import (
	"strings"

	"billingbridge/app/models"
)

// MapProcessorStatus collapses processor subscription statuses into the two
// statuses the store models. Only an explicit cancellation maps to
// canceled; grace-period states (past_due, unpaid, incomplete) currently
// count as active. Keeping the policy in one function makes it easy to
// revisit.
func MapProcessorStatus(status string) string {
	if strings.ToLower(strings.TrimSpace(status)) == models.SubscriptionStatusCanceled {
		return models.SubscriptionStatusCanceled
	}
	return models.SubscriptionStatusActive
}
