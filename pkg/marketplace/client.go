// Package marketplace connects seller accounts to the Etsy v3 API: OAuth
// with PKCE for the connection flow and a thin typed client for shop and
// listing operations.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNoShop is returned when the connected account owns no shop.
	ErrNoShop = errors.New("no active etsy shop")

	// ErrUnauthorized signals an expired or revoked access token; callers
	// refresh and retry once.
	ErrUnauthorized = errors.New("etsy token rejected")
)

// Shop is the subset of an Etsy shop record the service uses.
type Shop struct {
	ShopID   int64  `json:"shop_id"`
	ShopName string `json:"shop_name"`
}

// Listing is the subset of an Etsy listing record the service uses.
type Listing struct {
	ListingID   int64  `json:"listing_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	URL         string `json:"url,omitempty"`
}

// ListingPage is a paged listing response.
type ListingPage struct {
	Count   int       `json:"count"`
	Results []Listing `json:"results"`
}

type shopPage struct {
	Count   int    `json:"count"`
	Results []Shop `json:"results"`
}

// Client calls the Etsy v3 application API on behalf of a seller.
type Client struct {
	apiKey  string // Etsy app client id, sent as x-api-key
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// ActiveShop returns the seller's shop, or ErrNoShop if they have none.
func (c *Client) ActiveShop(ctx context.Context, token string) (*Shop, error) {
	var page shopPage
	if err := c.do(ctx, token, http.MethodGet, "/application/users/me/shops", nil, &page); err != nil {
		return nil, err
	}
	if page.Count == 0 || len(page.Results) == 0 {
		return nil, ErrNoShop
	}
	return &page.Results[0], nil
}

// ShopListings returns the shop's active listings.
func (c *Client) ShopListings(ctx context.Context, token string, shopID int64) (*ListingPage, error) {
	var page ListingPage
	path := fmt.Sprintf("/application/shops/%d/listings/active", shopID)
	if err := c.do(ctx, token, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Listing fetches one listing by id.
func (c *Client) Listing(ctx context.Context, token string, listingID int64) (*Listing, error) {
	var listing Listing
	path := fmt.Sprintf("/application/listings/%d", listingID)
	if err := c.do(ctx, token, http.MethodGet, path, nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// UpdateListingDescription patches the listing's description text.
func (c *Client) UpdateListingDescription(ctx context.Context, token string, shopID, listingID int64, description string) error {
	path := fmt.Sprintf("/application/shops/%d/listings/%d", shopID, listingID)
	body := map[string]string{"description": description}
	return c.do(ctx, token, http.MethodPatch, path, body, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("etsy: encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("etsy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("etsy: %s %s returned %d: %s", method, path, resp.StatusCode, string(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("etsy: decoding response: %w", err)
		}
	}
	return nil
}
