package marketplace_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEtsyServer(t *testing.T, handler http.HandlerFunc) *marketplace.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return marketplace.NewClient("app-client-id", server.URL)
}

func TestActiveShop(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/application/users/me/shops", r.URL.Path)
		assert.Equal(t, "Bearer seller-token", r.Header.Get("Authorization"))
		assert.Equal(t, "app-client-id", r.Header.Get("x-api-key"))
		json.NewEncoder(w).Encode(map[string]any{
			"count":   1,
			"results": []map[string]any{{"shop_id": 777, "shop_name": "WoodAndWool"}},
		})
	})

	shop, err := client.ActiveShop(context.Background(), "seller-token")
	require.NoError(t, err)
	assert.Equal(t, int64(777), shop.ShopID)
	assert.Equal(t, "WoodAndWool", shop.ShopName)
}

func TestActiveShopNoShop(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"count": 0, "results": []any{}})
	})

	_, err := client.ActiveShop(context.Background(), "seller-token")
	assert.ErrorIs(t, err, marketplace.ErrNoShop)
}

func TestRejectedTokenIsUnauthorized(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
	})

	_, err := client.ShopListings(context.Background(), "expired-token", 777)
	assert.ErrorIs(t, err, marketplace.ErrUnauthorized)
}

func TestShopListings(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/application/shops/777/listings/active", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"count": 2,
			"results": []map[string]any{
				{"listing_id": 1, "title": "Walnut board", "state": "active"},
				{"listing_id": 2, "title": "Oak coasters", "state": "active"},
			},
		})
	})

	page, err := client.ShopListings(context.Background(), "seller-token", 777)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "Walnut board", page.Results[0].Title)
}

func TestUpdateListingDescription(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/application/shops/777/listings/42", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "Handmade walnut serving board.", payload["description"])

		w.Write([]byte(`{}`))
	})

	err := client.UpdateListingDescription(context.Background(), "seller-token", 777, 42, "Handmade walnut serving board.")
	assert.NoError(t, err)
}

func TestUpstreamErrorIsSurfaced(t *testing.T) {
	client := newEtsyServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"listing not editable"}`, http.StatusConflict)
	})

	err := client.UpdateListingDescription(context.Background(), "seller-token", 777, 42, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, marketplace.ErrUnauthorized)
	assert.Contains(t, err.Error(), "409")
}
