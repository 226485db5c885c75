package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/stripe/stripe-go/v76"
)

// HandleEvent dispatches an authenticated webhook event to the matching
// applier. Unhandled event types succeed so the provider stops retrying.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	log := slog.With(
		slog.String("eventId", event.ID),
		slog.String("eventType", string(event.Type)),
	)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decoding checkout session: %w", err)
		}

		// Pricing Table sessions omit line items from the event payload;
		// re-retrieve with line_items expanded so plan resolution works.
		// Fall back to the event payload if the retrieve fails.
		if sess.ID != "" {
			params := &stripe.CheckoutSessionParams{}
			params.AddExpand("line_items")
			if expanded, err := s.retrieveSession(sess.ID, params); err != nil {
				log.Warn("Failed to expand checkout session, using event payload",
					slog.String("error", err.Error()))
			} else {
				sess = *expanded
			}
		}
		return s.applyCheckoutCompleted(ctx, log, &sess)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		return s.applySubscriptionChange(ctx, log, &sub)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decoding invoice: %w", err)
		}
		return s.applyInvoiceFailed(ctx, log, &inv)

	default:
		log.Info("Unhandled webhook event type")
		return nil
	}
}

// applyCheckoutCompleted activates the purchased plan on the buyer's
// profile. Runs with the service role; there is no user session on the
// webhook path.
func (s *Service) applyCheckoutCompleted(ctx context.Context, log *slog.Logger, sess *stripe.CheckoutSession) error {
	userID, err := s.resolveUser(ctx, sess)
	if err != nil {
		return err
	}

	plan, err := s.resolvePlan(sess)
	if err != nil {
		return err
	}

	patch := types.ProfilePatch{
		"plan_type":               plan,
		"subscription_status":     "active",
		"subscription_start_date": s.now().UTC().Format(time.RFC3339),
	}
	if sess.Mode == stripe.CheckoutSessionModeSubscription && sess.Subscription != nil {
		patch["stripe_subscription_id"] = sess.Subscription.ID
		patch["credits_reset_date"] = firstOfNextMonth(s.now()).Format(time.RFC3339)
	}

	if err := s.store.UpdateProfile(ctx, userID, patch); err != nil {
		return fmt.Errorf("activating plan for user %s: %w", userID, err)
	}

	log.Info("Checkout completed",
		slog.String("userId", userID),
		slog.String("plan", plan),
	)
	return nil
}

// applySubscriptionChange mirrors the provider's subscription status onto
// the profile; on an active status it also follows plan changes (upgrades,
// downgrades) via the item price.
func (s *Service) applySubscriptionChange(ctx context.Context, log *slog.Logger, sub *stripe.Subscription) error {
	profile, err := s.store.ProfileBySubscriptionID(ctx, sub.ID)
	if errors.Is(err, supabase.ErrNotFound) {
		log.Warn("No profile for subscription", slog.String("subscriptionId", sub.ID))
		return nil
	}
	if err != nil {
		return err
	}

	patch := types.ProfilePatch{
		"subscription_status": string(sub.Status),
	}

	if sub.Status == stripe.SubscriptionStatusActive {
		if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
			return fmt.Errorf("subscription %s has no item price", sub.ID)
		}
		priceID := sub.Items.Data[0].Price.ID
		plan, ok := s.plans[priceID]
		if !ok {
			log.Error("Unknown price on subscription",
				slog.String("subscriptionId", sub.ID),
				slog.String("priceId", priceID),
			)
			return nil
		}
		patch["plan_type"] = plan
	}

	if err := s.store.UpdateProfile(ctx, profile.ID, patch); err != nil {
		return fmt.Errorf("updating subscription state for user %s: %w", profile.ID, err)
	}

	log.Info("Subscription updated",
		slog.String("userId", profile.ID),
		slog.String("status", string(sub.Status)),
	)
	return nil
}

// applyInvoiceFailed flags the profile past_due. Missing linkage is not an
// error; one-off invoices carry no subscription.
func (s *Service) applyInvoiceFailed(ctx context.Context, log *slog.Logger, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	profile, err := s.store.ProfileBySubscriptionID(ctx, inv.Subscription.ID)
	if errors.Is(err, supabase.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.UpdateProfile(ctx, profile.ID, types.ProfilePatch{
		"subscription_status": "past_due",
	}); err != nil {
		return fmt.Errorf("flagging past_due for user %s: %w", profile.ID, err)
	}

	log.Info("Payment failed, profile flagged past_due", slog.String("userId", profile.ID))
	return nil
}

// resolveUser identifies the buyer from client_reference_id (a customer id
// set by Pricing Table checkouts) or the user_id metadata set by our own
// checkout sessions.
func (s *Service) resolveUser(ctx context.Context, sess *stripe.CheckoutSession) (string, error) {
	if ref := sess.ClientReferenceID; strings.HasPrefix(ref, "cus_") {
		profile, err := s.store.ProfileByCustomerID(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("no profile for customer %s: %w", ref, err)
		}
		return profile.ID, nil
	}
	if userID := sess.Metadata["user_id"]; userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("no user identifier in checkout session %s", sess.ID)
}

// resolvePlan reads the plan from session metadata, falling back to the
// reverse price map over the first line item.
func (s *Service) resolvePlan(sess *stripe.CheckoutSession) (string, error) {
	if plan := sess.Metadata["plan"]; plan != "" {
		return plan, nil
	}
	if sess.LineItems != nil && len(sess.LineItems.Data) > 0 && sess.LineItems.Data[0].Price != nil {
		if plan, ok := s.plans[sess.LineItems.Data[0].Price.ID]; ok {
			return plan, nil
		}
	}
	return "", fmt.Errorf("no plan resolvable in checkout session %s", sess.ID)
}

func firstOfNextMonth(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
