package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleEtsyConnect(c *gin.Context) {
	principal := principalFrom(c)

	url, err := s.connector.BeginAuth(c.Request.Context(), principal.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"authorization_url": url})
}

// handleEtsyCallback lands the browser redirect from Etsy. It always ends
// in a redirect back to the frontend; errors are flagged in the query
// string, never rendered as API envelopes.
func (s *Server) handleEtsyCallback(c *gin.Context) {
	ctx := c.Request.Context()
	accountURL := s.cfg.FrontendURL + "/account"

	if denied := c.Query("error"); denied != "" {
		slog.Info("Etsy authorization denied", slog.String("reason", denied))
		c.Redirect(http.StatusFound, accountURL+"?etsy_connected=false")
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.Redirect(http.StatusFound, accountURL+"?etsy_connected=false")
		return
	}

	userID, token, err := s.connector.CompleteAuth(ctx, state, code)
	if err != nil {
		slog.Warn("Etsy authorization failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusFound, accountURL+"?etsy_connected=false")
		return
	}

	shop, err := s.etsy.ActiveShop(ctx, token.AccessToken)
	if err != nil {
		slog.Warn("Looking up etsy shop failed",
			slog.String("userId", userID),
			slog.String("error", err.Error()),
		)
		c.Redirect(http.StatusFound, accountURL+"?etsy_connected=false")
		return
	}

	// The browser carries no session here, so the state entry told us the
	// user; the write runs under the service role.
	patch := types.ProfilePatch{
		"etsy_shop_id":       shop.ShopID,
		"etsy_access_token":  token.AccessToken,
		"etsy_refresh_token": token.RefreshToken,
	}
	if err := s.store.UpdateProfile(ctx, userID, patch); err != nil {
		slog.Error("Persisting etsy connection failed",
			slog.String("userId", userID),
			slog.String("error", err.Error()),
		)
		c.Redirect(http.StatusFound, accountURL+"?etsy_connected=false")
		return
	}

	slog.Info("Etsy shop connected",
		slog.String("userId", userID),
		slog.Int64("shopId", shop.ShopID),
	)
	c.Redirect(http.StatusFound, accountURL+"?etsy_connected=true")
}

func (s *Server) handleEtsyListings(c *gin.Context) {
	principal := principalFrom(c)
	ctx := c.Request.Context()

	profile, err := s.store.AsUser(userTokenFrom(c)).Profile(ctx, principal.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if !profile.EtsyConnected() {
		fail(c, marketplace.ErrNoShop)
		return
	}

	var page *marketplace.ListingPage
	err = s.withEtsyRetry(ctx, profile, func(token string) error {
		var callErr error
		page, callErr = s.etsy.ShopListings(ctx, token, profile.EtsyShopID)
		return callErr
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, page)
}

// withEtsyRetry runs fn with the profile's access token and, on a rejected
// token, refreshes the pair once and retries. Etsy rotates refresh tokens,
// so both values are persisted before the retry and the profile is updated
// in place for the caller.
func (s *Server) withEtsyRetry(ctx context.Context, profile *types.Profile, fn func(token string) error) error {
	err := fn(profile.EtsyAccessToken)
	if !errors.Is(err, marketplace.ErrUnauthorized) {
		return err
	}

	if profile.EtsyRefreshToken == "" {
		return err
	}

	token, refreshErr := s.connector.Refresh(ctx, profile.EtsyRefreshToken)
	if refreshErr != nil {
		return fmt.Errorf("%w (refresh failed: %v)", marketplace.ErrUnauthorized, refreshErr)
	}

	patch := types.ProfilePatch{
		"etsy_access_token":  token.AccessToken,
		"etsy_refresh_token": token.RefreshToken,
	}
	if persistErr := s.store.UpdateProfile(ctx, profile.ID, patch); persistErr != nil {
		return persistErr
	}
	profile.EtsyAccessToken = token.AccessToken
	profile.EtsyRefreshToken = token.RefreshToken

	return fn(profile.EtsyAccessToken)
}
