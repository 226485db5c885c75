// Package server exposes the HTTP API: token-gated user routes, the
// signature-gated Stripe webhook route, and the Etsy OAuth callback.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/craftscribe/craftscribe/pkg/billing"
	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/craftscribe/craftscribe/pkg/descriptions"
	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/craftscribe/craftscribe/pkg/scheduler"
	"github.com/craftscribe/craftscribe/pkg/storage"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/craftscribe/craftscribe/pkg/version"
	"github.com/gin-gonic/gin"
)

// ErrInsufficientCredits is returned when a generation is requested with no
// credits left.
var ErrInsufficientCredits = errors.New("insufficient credits")

// errBadRequest wraps client-side input defects that have no more specific
// category.
var errBadRequest = errors.New("bad request")

// TokenVerifier validates bearer tokens on protected routes.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*types.Principal, error)
}

// WebhookVerifier authenticates webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, header string) error
}

// Server holds the route handlers and their collaborators.
type Server struct {
	cfg       *config.Config
	verifier  TokenVerifier
	webhooks  WebhookVerifier
	store     *supabase.Client
	billing   *billing.Service
	etsy      *marketplace.Client
	connector *marketplace.Connector
	generator *descriptions.Generator
	blobs     *storage.BlobStore // nil when storage is unconfigured
	scheduler *scheduler.Scheduler
}

// Deps bundles the collaborators for New.
type Deps struct {
	Verifier  TokenVerifier
	Webhooks  WebhookVerifier
	Store     *supabase.Client
	Billing   *billing.Service
	Etsy      *marketplace.Client
	Connector *marketplace.Connector
	Generator *descriptions.Generator
	Blobs     *storage.BlobStore
	Scheduler *scheduler.Scheduler
}

func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		verifier:  deps.Verifier,
		webhooks:  deps.Webhooks,
		store:     deps.Store,
		billing:   deps.Billing,
		etsy:      deps.Etsy,
		connector: deps.Connector,
		generator: deps.Generator,
		blobs:     deps.Blobs,
		scheduler: deps.Scheduler,
	}
}

// Router assembles the gin engine with the full middleware chain and routes.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		requestID(),
		requestLogger(),
		recovery(),
		s.corsMiddleware(),
		s.securityHeaders(),
	)

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")

	// The webhook route authenticates by signature, never by bearer token.
	api.POST("/webhooks/stripe", s.handleStripeWebhook)

	// The OAuth callback arrives as a bare browser redirect; the state
	// parameter carries the user association.
	api.GET("/etsy/callback", s.handleEtsyCallback)

	authed := api.Group("", s.authRequired())
	authed.GET("/auth/verify", s.handleAuthVerify)

	billingRoutes := authed.Group("/billing")
	billingRoutes.POST("/:plan/create-checkout-session", s.handleCreateCheckout)
	billingRoutes.POST("/create-portal-session", s.handleCreatePortal)
	billingRoutes.GET("/subscription", s.handleSubscriptionInfo)

	users := authed.Group("/users")
	users.GET("/profile", s.handleProfile)
	users.POST("/create-profile", s.handleCreateProfile)
	users.POST("/accept-terms", s.handleAcceptTerms)
	users.POST("/update-display-name", s.handleUpdateDisplayName)
	users.POST("/create-stripe-customer", s.handleCreateStripeCustomer)
	users.POST("/upload-avatar", s.handleUploadAvatar)
	users.GET("/export-data", s.handleExportData)
	users.DELETE("/delete-account", s.handleDeleteAccount)
	users.POST("/reset-credits", s.adminRequired(), s.handleResetCredits)

	etsy := authed.Group("/etsy")
	etsy.GET("/connect", s.handleEtsyConnect)
	etsy.GET("/listings", s.handleEtsyListings)

	authed.POST("/descriptions/generate", s.handleGenerateDescription)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	info := version.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     info.BinName,
		"version":     info.Version,
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleAuthVerify(c *gin.Context) {
	ok(c, http.StatusOK, principalFrom(c))
}
