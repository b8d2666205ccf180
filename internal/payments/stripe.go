package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go for the ride fare flow: a manual-capture hold
// placed at assignment, captured at completion, released on cancellation.
type StripeClient struct{}

// NewStripeClient initializes the stripe client from the STRIPE_API_KEY env
// var. Returns nil when the key is unset so callers can skip payments
// entirely in local setups.
func NewStripeClient() *StripeClient {
	key := os.Getenv("STRIPE_API_KEY")
	if key == "" {
		return nil
	}
	stripe.Key = key
	return &StripeClient{}
}

// HoldFare creates a PaymentIntent with capture_method=manual to hold the
// quoted fare. Returns the PaymentIntent ID.
func (s *StripeClient) HoldFare(ctx context.Context, amountCents int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// CaptureFare finalizes a previously-held PaymentIntent.
func (s *StripeClient) CaptureFare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// ReleaseFare cancels the hold on a PaymentIntent.
func (s *StripeClient) ReleaseFare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
