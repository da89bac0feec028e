package billing

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	sub "github.com/stripe/stripe-go/v74/subscription"
)

// TierResolver answers whether a user is on the paid tier. Premium
// users get an unlimited right-swipe quota.
type TierResolver interface {
	Premium(ctx context.Context, customerID string) (bool, error)
}

// StripeClient is a thin wrapper around stripe-go that treats any
// active subscription as premium.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

func (s *StripeClient) Premium(ctx context.Context, customerID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)
	it := sub.List(params)
	for it.Next() {
		return true, nil
	}
	return false, it.Err()
}

// StaticResolver is used when Stripe is not configured; it resolves
// every lookup to the given answer.
type StaticResolver bool

func (s StaticResolver) Premium(ctx context.Context, customerID string) (bool, error) {
	return bool(s), nil
}
