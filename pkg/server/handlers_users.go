package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/craftscribe/craftscribe/pkg/storage"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleProfile(c *gin.Context) {
	principal := principalFrom(c)

	profile, err := s.store.AsUser(userTokenFrom(c)).Profile(c.Request.Context(), principal.UserID)
	if errors.Is(err, supabase.ErrNotFound) {
		// No row yet (signup race). Answer from the token so the client can
		// render and then call create-profile.
		ok(c, http.StatusOK, &types.Profile{
			ID:    principal.UserID,
			Email: principal.Email,
		})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, profile)
}

func (s *Server) handleCreateProfile(c *gin.Context) {
	principal := principalFrom(c)

	var profile types.Profile
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&profile); err != nil {
			fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}

	// Identity comes from the verified token, never from the body.
	profile.ID = principal.UserID
	profile.Email = principal.Email

	created, err := s.store.AsUser(userTokenFrom(c)).InsertProfile(c.Request.Context(), &profile)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusCreated, created)
}

func (s *Server) handleAcceptTerms(c *gin.Context) {
	principal := principalFrom(c)

	var req struct {
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Version == "" {
		fail(c, fmt.Errorf("%w: version is required", errBadRequest))
		return
	}

	patch := types.ProfilePatch{
		"terms_accepted_at": time.Now().UTC().Format(time.RFC3339),
		"terms_version":     req.Version,
	}
	if err := s.store.AsUser(userTokenFrom(c)).UpdateProfile(c.Request.Context(), principal.UserID, patch); err != nil {
		fail(c, err)
		return
	}

	okMessage(c, http.StatusOK, "terms accepted", nil)
}

func (s *Server) handleUpdateDisplayName(c *gin.Context) {
	principal := principalFrom(c)

	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.FirstName == "" && req.LastName == "" {
		fail(c, fmt.Errorf("%w: a name is required", errBadRequest))
		return
	}

	ctx := c.Request.Context()
	patch := types.ProfilePatch{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	}
	if err := s.store.AsUser(userTokenFrom(c)).UpdateProfile(ctx, principal.UserID, patch); err != nil {
		fail(c, err)
		return
	}

	// Keep the auth record's metadata in step so the name survives token
	// refreshes. Best effort; the profiles row is the source of truth.
	metadata := map[string]any{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	}
	if err := s.store.UpdateUserMetadata(ctx, principal.UserID, metadata); err != nil {
		slog.Warn("Updating auth metadata failed",
			slog.String("userId", principal.UserID),
			slog.String("error", err.Error()),
		)
	}

	okMessage(c, http.StatusOK, "display name updated", nil)
}

func (s *Server) handleCreateStripeCustomer(c *gin.Context) {
	principal := principalFrom(c)
	ctx := c.Request.Context()

	name := ""
	if profile, err := s.store.AsUser(userTokenFrom(c)).Profile(ctx, principal.UserID); err == nil {
		name = profile.FullName()
	}

	customerID, err := s.billing.EnsureCustomer(ctx, principal.UserID, principal.Email, name, userTokenFrom(c))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"customer_id": customerID})
}

// avatarMaxDim is the long-edge pixel limit applied before upload.
const avatarMaxDim = 512

func (s *Server) handleUploadAvatar(c *gin.Context) {
	principal := principalFrom(c)

	if s.blobs == nil {
		fail(c, errors.New("avatar storage is not configured"))
		return
	}

	file, _, err := c.Request.FormFile("avatar")
	if err != nil {
		fail(c, fmt.Errorf("%w: avatar file is required", errBadRequest))
		return
	}
	defer file.Close()

	data, err := readAvatar(file)
	if err != nil {
		fail(c, err)
		return
	}

	normalized, err := storage.NormalizeAvatar(data, avatarMaxDim)
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	key := fmt.Sprintf("avatars/%s/%d.jpg", principal.UserID, time.Now().Unix())
	avatarURL, err := s.blobs.Put(ctx, key, "image/jpeg", normalized)
	if err != nil {
		fail(c, err)
		return
	}

	patch := types.ProfilePatch{"avatar_url": avatarURL}
	if err := s.store.AsUser(userTokenFrom(c)).UpdateProfile(ctx, principal.UserID, patch); err != nil {
		// Orphaned object; remove it so the bucket does not accumulate
		// avatars no profile points at.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			slog.Warn("Removing orphaned avatar failed",
				slog.String("key", key),
				slog.String("error", delErr.Error()),
			)
		}
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"avatar_url": avatarURL})
}

func readAvatar(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, storage.MaxAvatarBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload: %v", errBadRequest, err)
	}
	if len(data) > storage.MaxAvatarBytes {
		return nil, storage.ErrImageTooLarge
	}
	return data, nil
}

// accountExport is the document returned by export-data.
type accountExport struct {
	ExportedAt  string             `json:"exported_at"`
	Profile     *types.Profile     `json:"profile"`
	Generations []types.Generation `json:"generations"`
	Summary     exportSummary      `json:"summary"`
}

type exportSummary struct {
	GenerationCount  int `json:"generation_count"`
	CreditsRemaining int `json:"credits_remaining"`
}

func (s *Server) handleExportData(c *gin.Context) {
	principal := principalFrom(c)
	ctx := c.Request.Context()
	store := s.store.AsUser(userTokenFrom(c))

	profile, err := store.Profile(ctx, principal.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	generations, err := store.GenerationsByUser(ctx, principal.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	export := accountExport{
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Profile:     profile,
		Generations: generations,
		Summary: exportSummary{
			GenerationCount:  len(generations),
			CreditsRemaining: profile.Credits,
		},
	}

	c.Header("Content-Disposition", `attachment; filename="craftscribe-export.json"`)
	c.JSON(http.StatusOK, export)
}

// handleDeleteAccount tears the account down in dependency order: Stripe
// first (best effort), then the data rows, then the auth record. A partial
// failure after the rows are gone still reports success; the remaining
// cleanup is logged for the operator.
func (s *Server) handleDeleteAccount(c *gin.Context) {
	principal := principalFrom(c)
	ctx := c.Request.Context()

	profile, err := s.store.Profile(ctx, principal.UserID)
	if err != nil && !errors.Is(err, supabase.ErrNotFound) {
		fail(c, err)
		return
	}

	if profile != nil {
		if profile.StripeSubscriptionID != "" {
			if err := s.billing.CancelSubscription(ctx, profile.StripeSubscriptionID); err != nil {
				slog.Warn("Cancelling subscription during account deletion failed",
					slog.String("userId", principal.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
		if profile.StripeCustomerID != "" {
			if err := s.billing.DeleteCustomer(ctx, profile.StripeCustomerID); err != nil {
				slog.Warn("Deleting stripe customer during account deletion failed",
					slog.String("userId", principal.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// Row deletion runs under the user's own token so row-level security
	// applies; the service role is the fallback when the user token cannot
	// complete it (e.g. policy gaps on older rows).
	userStore := s.store.AsUser(userTokenFrom(c))
	if err := userStore.DeleteGenerationsByUser(ctx, principal.UserID); err != nil {
		slog.Warn("User-scoped generation delete failed, retrying with service role",
			slog.String("userId", principal.UserID),
			slog.String("error", err.Error()),
		)
		if err := s.store.DeleteGenerationsByUser(ctx, principal.UserID); err != nil {
			fail(c, err)
			return
		}
	}
	if err := userStore.DeleteProfile(ctx, principal.UserID); err != nil {
		slog.Warn("User-scoped profile delete failed, retrying with service role",
			slog.String("userId", principal.UserID),
			slog.String("error", err.Error()),
		)
		if err := s.store.DeleteProfile(ctx, principal.UserID); err != nil {
			fail(c, err)
			return
		}
	}

	if err := s.store.DeleteAuthUser(ctx, principal.UserID); err != nil {
		slog.Warn("Deleting auth user failed",
			slog.String("userId", principal.UserID),
			slog.String("error", err.Error()),
		)
	}

	okMessage(c, http.StatusOK, "account deleted", nil)
}

func (s *Server) handleResetCredits(c *gin.Context) {
	if err := s.scheduler.ResetNow(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	okMessage(c, http.StatusOK, "monthly credits reset", nil)
}
