package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
)

// maxWebhookBytes bounds the webhook body read. Provider events are small.
const maxWebhookBytes = 1 << 20

type checkoutRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (s *Server) handleCreateCheckout(c *gin.Context) {
	principal := principalFrom(c)
	plan := c.Param("plan")

	var req checkoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if req.SuccessURL == "" {
		req.SuccessURL = s.cfg.FrontendURL + "/account?payment=success"
	}
	if req.CancelURL == "" {
		req.CancelURL = s.cfg.FrontendURL + "/account?payment=cancelled"
	}

	url, err := s.billing.CheckoutURL(c.Request.Context(), principal.UserID, plan, req.SuccessURL, req.CancelURL, userTokenFrom(c))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"checkout_url": url})
}

func (s *Server) handleCreatePortal(c *gin.Context) {
	principal := principalFrom(c)

	var req struct {
		ReturnURL string `json:"return_url"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if req.ReturnURL == "" {
		req.ReturnURL = s.cfg.FrontendURL + "/account"
	}

	url, err := s.billing.PortalURL(c.Request.Context(), principal.UserID, req.ReturnURL, userTokenFrom(c))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"portal_url": url})
}

func (s *Server) handleSubscriptionInfo(c *gin.Context) {
	principal := principalFrom(c)

	info, err := s.billing.SubscriptionInfo(c.Request.Context(), principal.UserID, userTokenFrom(c))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, info)
}

// handleStripeWebhook authenticates the payload signature before anything
// else looks at the body. Signature failures are terminal; the provider
// retries on its own schedule.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		fail(c, fmt.Errorf("%w: reading body: %v", errBadRequest, err))
		return
	}

	if err := s.webhooks.Verify(payload, c.GetHeader("stripe-signature")); err != nil {
		fail(c, err)
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		fail(c, fmt.Errorf("%w: invalid event payload: %v", errBadRequest, err))
		return
	}

	if err := s.billing.HandleEvent(c.Request.Context(), &event); err != nil {
		fail(c, err)
		return
	}

	okMessage(c, http.StatusOK, fmt.Sprintf("webhook %s processed", event.Type), nil)
}
