// Package billing brokers Stripe subscriptions: checkout and portal
// sessions outbound, webhook event application inbound. Profile state is
// the source of truth the rest of the service reads.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
)

var (
	// ErrInvalidPlan is returned for a plan name with no configured price.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrNoCustomer is returned when an operation needs an existing Stripe
	// customer and the profile has none.
	ErrNoCustomer = errors.New("profile has no stripe customer")
)

// Service wraps the Stripe API and the profile store.
type Service struct {
	store          *supabase.Client
	prices         map[string]string // plan name -> price id
	plans          map[string]string // price id -> plan name
	portalConfigID string

	// Seam for tests: webhook handling re-retrieves checkout sessions to
	// expand line items, which would otherwise hit the live API.
	retrieveSession func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	now             func() time.Time
}

func New(store *supabase.Client, cfg *config.Config) *Service {
	stripe.Key = cfg.Stripe.APIKey

	prices := cfg.PlanPrices()
	plans := make(map[string]string, len(prices))
	for plan, price := range prices {
		plans[price] = plan
	}

	return &Service{
		store:           store,
		prices:          prices,
		plans:           plans,
		portalConfigID:  cfg.Stripe.PortalConfigurationID,
		retrieveSession: checkoutsession.Get,
		now:             time.Now,
	}
}

// EnsureCustomer returns the profile's Stripe customer id, creating the
// customer first if the profile has none. userToken scopes the profile
// write to the end user when present; the service role is used otherwise
// (e.g. during signup, before a session exists).
func (s *Service) EnsureCustomer(ctx context.Context, userID, email, name, userToken string) (string, error) {
	store := s.store
	if userToken != "" {
		store = s.store.AsUser(userToken)
	}

	profile, err := store.Profile(ctx, userID)
	if err != nil && !errors.Is(err, supabase.ErrNotFound) {
		return "", err
	}
	if profile != nil && profile.StripeCustomerID != "" {
		return profile.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata("user_id", userID)

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("creating stripe customer: %w", err)
	}

	if err := store.UpdateProfile(ctx, userID, types.ProfilePatch{
		"stripe_customer_id": cust.ID,
	}); err != nil {
		return "", fmt.Errorf("persisting stripe customer id: %w", err)
	}
	return cust.ID, nil
}

// CheckoutURL creates a subscription-mode checkout session for the plan and
// returns the hosted page URL.
func (s *Service) CheckoutURL(ctx context.Context, userID, plan, successURL, cancelURL, userToken string) (string, error) {
	priceID, ok := s.prices[plan]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}

	profile, err := s.store.AsUser(userToken).Profile(ctx, userID)
	if err != nil {
		return "", err
	}

	customerID, err := s.EnsureCustomer(ctx, userID, profile.Email, profile.FullName(), userToken)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata("user_id", userID)
	params.AddMetadata("plan", plan)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("creating checkout session: %w", err)
	}
	return sess.URL, nil
}

// PortalURL creates a customer portal session for subscription management.
func (s *Service) PortalURL(ctx context.Context, userID, returnURL, userToken string) (string, error) {
	profile, err := s.store.AsUser(userToken).Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(profile.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	if s.portalConfigID != "" {
		params.Configuration = stripe.String(s.portalConfigID)
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("creating portal session: %w", err)
	}
	return sess.URL, nil
}

// SubscriptionInfo summarizes the user's current billing state.
func (s *Service) SubscriptionInfo(ctx context.Context, userID, userToken string) (*types.SubscriptionInfo, error) {
	profile, err := s.store.AsUser(userToken).Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := profile.SubscriptionStatus
	if status == "" {
		status = "active"
	}

	return &types.SubscriptionInfo{
		Plan:                  profile.PlanType,
		Status:                status,
		SubscriptionStartDate: profile.SubscriptionStartDate,
		HasStripeCustomer:     profile.StripeCustomerID != "",
	}, nil
}

// CancelSubscription cancels the subscription immediately. Used by account
// deletion, where a failure is logged by the caller rather than fatal.
func (s *Service) CancelSubscription(_ context.Context, subscriptionID string) error {
	_, err := subscription.Cancel(subscriptionID, nil)
	return err
}

// DeleteCustomer removes the Stripe customer record.
func (s *Service) DeleteCustomer(_ context.Context, customerID string) error {
	_, err := customer.Del(customerID, nil)
	return err
}
