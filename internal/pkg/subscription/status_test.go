package subscription

import (
	"testing"

	"billingbridge/app/models"
)

func TestMapProcessorStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "canceled", want: models.SubscriptionStatusCanceled},
		{in: "CANCELED", want: models.SubscriptionStatusCanceled},
		{in: " canceled ", want: models.SubscriptionStatusCanceled},
		{in: "active", want: models.SubscriptionStatusActive},
		{in: "past_due", want: models.SubscriptionStatusActive},
		{in: "unpaid", want: models.SubscriptionStatusActive},
		{in: "incomplete", want: models.SubscriptionStatusActive},
		{in: "trialing", want: models.SubscriptionStatusActive},
		{in: "", want: models.SubscriptionStatusActive},
	}

	for _, tt := range tests {
		if got := MapProcessorStatus(tt.in); got != tt.want {
			t.Fatalf("MapProcessorStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
