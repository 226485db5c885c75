package types

// Principal is the identity extracted from a verified bearer token.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the principal carries the Supabase service role.
func (p *Principal) IsAdmin() bool {
	return p.Role == "service_role"
}

// Profile is a row of the profiles table. Date fields stay wire strings
// (ISO 8601) so rows round-trip through PostgREST untouched.
type Profile struct {
	ID                    string `json:"id"`
	Email                 string `json:"email,omitempty"`
	FirstName             string `json:"first_name,omitempty"`
	LastName              string `json:"last_name,omitempty"`
	PlanType              string `json:"plan_type,omitempty"`
	SubscriptionStatus    string `json:"subscription_status,omitempty"`
	SubscriptionStartDate string `json:"subscription_start_date,omitempty"`
	StripeCustomerID      string `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string `json:"stripe_subscription_id,omitempty"`
	Credits               int    `json:"credits"`
	CreditsResetDate      string `json:"credits_reset_date,omitempty"`
	EtsyShopID            int64  `json:"etsy_shop_id,omitempty"`
	EtsyAccessToken       string `json:"etsy_access_token,omitempty"`
	EtsyRefreshToken      string `json:"etsy_refresh_token,omitempty"`
	TermsAcceptedAt       string `json:"terms_accepted_at,omitempty"`
	TermsVersion          string `json:"terms_version,omitempty"`
	AvatarURL             string `json:"avatar_url,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

// EtsyConnected reports whether the profile has a usable Etsy connection.
func (p *Profile) EtsyConnected() bool {
	return p.EtsyShopID != 0 && p.EtsyAccessToken != ""
}

// FullName joins first and last name, tolerating either being empty.
func (p *Profile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// ProfilePatch is a partial profiles-table update. Only the named columns
// are touched, which keeps PostgREST PATCH semantics explicit.
type ProfilePatch map[string]any

// SubscriptionInfo is the billing summary returned to the client.
type SubscriptionInfo struct {
	Plan                  string `json:"plan"`
	Status                string `json:"status"`
	SubscriptionStartDate string `json:"subscription_start_date,omitempty"`
	HasStripeCustomer     bool   `json:"has_stripe_customer"`
}

// Generation is a row of the generations table, one per produced
// listing description.
type Generation struct {
	ID          string `json:"id,omitempty"`
	UserID      string `json:"user_id"`
	ListingID   int64  `json:"listing_id"`
	Tone        string `json:"tone,omitempty"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
}
