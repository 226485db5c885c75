package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/gin-gonic/gin"
)

const defaultTone = "professional"

type generateRequest struct {
	ListingID int64    `json:"listing_id"`
	Features  []string `json:"features"`
	Tone      string   `json:"tone"`
}

// handleGenerateDescription runs the full generation flow: credit check,
// listing fetch, text generation, listing update, then credit decrement and
// history record. The credit is only spent once the listing is updated.
func (s *Server) handleGenerateDescription(c *gin.Context) {
	principal := principalFrom(c)
	ctx := c.Request.Context()

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.ListingID == 0 {
		fail(c, fmt.Errorf("%w: listing_id is required", errBadRequest))
		return
	}
	if req.Tone == "" {
		req.Tone = defaultTone
	}

	userStore := s.store.AsUser(userTokenFrom(c))
	profile, err := userStore.Profile(ctx, principal.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if profile.Credits < 1 {
		fail(c, ErrInsufficientCredits)
		return
	}
	if !profile.EtsyConnected() {
		fail(c, marketplace.ErrNoShop)
		return
	}

	var listing *marketplace.Listing
	err = s.withEtsyRetry(ctx, profile, func(token string) error {
		var callErr error
		listing, callErr = s.etsy.Listing(ctx, token, req.ListingID)
		return callErr
	})
	if err != nil {
		fail(c, err)
		return
	}

	description, err := s.generator.ProductDescription(ctx, listing.Title, req.Features, req.Tone)
	if err != nil {
		fail(c, err)
		return
	}

	err = s.withEtsyRetry(ctx, profile, func(token string) error {
		return s.etsy.UpdateListingDescription(ctx, token, profile.EtsyShopID, req.ListingID, description)
	})
	if err != nil {
		fail(c, err)
		return
	}

	remaining := profile.Credits - 1
	if err := userStore.UpdateProfile(ctx, principal.UserID, types.ProfilePatch{"credits": remaining}); err != nil {
		fail(c, err)
		return
	}

	gen := &types.Generation{
		UserID:      principal.UserID,
		ListingID:   req.ListingID,
		Tone:        req.Tone,
		Description: description,
	}
	if err := s.store.InsertGeneration(ctx, gen); err != nil {
		// The listing is already updated and the credit spent; a missing
		// history row is not worth failing the request over.
		slog.Warn("Recording generation failed",
			slog.String("userId", principal.UserID),
			slog.Int64("listingId", req.ListingID),
			slog.String("error", err.Error()),
		)
	}

	ok(c, http.StatusOK, gin.H{
		"description":       description,
		"listing_id":        req.ListingID,
		"credits_remaining": remaining,
	})
}
