// Package supabase is a typed REST client for the Supabase data plane:
// PostgREST for table access and the GoTrue admin API for auth operations.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/craftscribe/craftscribe/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("row not found")

// APIError is a decoded PostgREST error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("supabase: %s (http %d)", e.Message, e.StatusCode)
}

// Client talks to one Supabase project. The zero credential mode is
// service-role; AsUser derives a client whose requests run under the end
// user's JWT so row-level security applies.
type Client struct {
	baseURL   string
	secretKey string
	authToken string
	client    *http.Client
}

func New(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		authToken: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// AsUser returns a shallow copy authenticated as the end user.
func (c *Client) AsUser(userJWT string) *Client {
	user := *c
	user.authToken = userJWT
	return &user
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supabase: encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.secretKey)
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotAcceptable {
		// PostgREST answers 406 for a single-object request matching no
		// rows, and 404 for missing resources. Both mean "not there".
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("supabase: decoding response: %w", err)
		}
	}
	return nil
}

// singleObject asks PostgREST for exactly one row.
var singleObject = map[string]string{"Accept": "application/vnd.pgrst.object+json"}

// Profile fetches the profiles row for a user id.
func (c *Client) Profile(ctx context.Context, userID string) (*types.Profile, error) {
	return c.profileBy(ctx, "id", userID)
}

// ProfileByCustomerID fetches the profile owning a Stripe customer.
func (c *Client) ProfileByCustomerID(ctx context.Context, customerID string) (*types.Profile, error) {
	return c.profileBy(ctx, "stripe_customer_id", customerID)
}

// ProfileBySubscriptionID fetches the profile owning a Stripe subscription.
func (c *Client) ProfileBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Profile, error) {
	return c.profileBy(ctx, "stripe_subscription_id", subscriptionID)
}

func (c *Client) profileBy(ctx context.Context, column, value string) (*types.Profile, error) {
	query := url.Values{}
	query.Set(column, "eq."+value)
	query.Set("select", "*")

	var profile types.Profile
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles", query, singleObject, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// InsertProfile creates a profiles row and returns the stored row.
func (c *Client) InsertProfile(ctx context.Context, profile *types.Profile) (*types.Profile, error) {
	headers := map[string]string{
		"Prefer": "return=representation",
		"Accept": "application/vnd.pgrst.object+json",
	}
	var created types.Profile
	if err := c.do(ctx, http.MethodPost, "/rest/v1/profiles", nil, headers, profile, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProfile applies a partial update to a profiles row.
func (c *Client) UpdateProfile(ctx context.Context, userID string, patch types.ProfilePatch) error {
	query := url.Values{}
	query.Set("id", "eq."+userID)
	return c.do(ctx, http.MethodPatch, "/rest/v1/profiles", query, nil, patch, nil)
}

// DeleteProfile removes a profiles row.
func (c *Client) DeleteProfile(ctx context.Context, userID string) error {
	query := url.Values{}
	query.Set("id", "eq."+userID)
	return c.do(ctx, http.MethodDelete, "/rest/v1/profiles", query, nil, nil, nil)
}

// InsertGeneration records a produced description.
func (c *Client) InsertGeneration(ctx context.Context, gen *types.Generation) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/generations", nil, nil, gen, nil)
}

// GenerationsByUser lists a user's generations, newest first.
func (c *Client) GenerationsByUser(ctx context.Context, userID string) ([]types.Generation, error) {
	query := url.Values{}
	query.Set("user_id", "eq."+userID)
	query.Set("select", "*")
	query.Set("order", "created_at.desc")

	generations := []types.Generation{}
	if err := c.do(ctx, http.MethodGet, "/rest/v1/generations", query, nil, nil, &generations); err != nil {
		return nil, err
	}
	return generations, nil
}

// DeleteGenerationsByUser removes all generations of a user.
func (c *Client) DeleteGenerationsByUser(ctx context.Context, userID string) error {
	query := url.Values{}
	query.Set("user_id", "eq."+userID)
	return c.do(ctx, http.MethodDelete, "/rest/v1/generations", query, nil, nil, nil)
}

// ResetMonthlyCredits invokes the reset_monthly_credits database function.
func (c *Client) ResetMonthlyCredits(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/reset_monthly_credits", nil, nil, map[string]any{}, nil)
}

// DeleteAuthUser removes the auth user record. Service-role only.
func (c *Client) DeleteAuthUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, nil, nil, nil)
}

// UpdateUserMetadata patches the auth user's metadata. Service-role only.
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	body := map[string]any{"user_metadata": metadata}
	return c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(userID), nil, nil, body, nil)
}
