package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/craftscribe/craftscribe/pkg/statecache"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrInvalidState is returned when a callback arrives with an unknown,
// expired or already-consumed state parameter.
var ErrInvalidState = errors.New("unknown or expired oauth state")

// scopes the connection flow requests from Etsy.
var scopes = []string{"email_r", "listings_w", "listings_r", "shops_r"}

// Connector runs the OAuth authorization-code flow with PKCE. Pending
// states live in the state cache and are single use.
type Connector struct {
	oauth *oauth2.Config
	cache statecache.Cache
	ttl   time.Duration
}

func NewConnector(cfg *config.Config, cache statecache.Cache) *Connector {
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.Etsy.ClientID,
			ClientSecret: cfg.Etsy.ClientSecret,
			RedirectURL:  cfg.Etsy.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Etsy.AuthURL,
				TokenURL: cfg.Etsy.TokenURL,
			},
		},
		cache: cache,
		ttl:   cfg.StateCache.TTL,
	}
}

// BeginAuth stores a fresh state and PKCE verifier for the user and returns
// the authorization URL to redirect them to.
func (c *Connector) BeginAuth(ctx context.Context, userID string) (string, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	entry := statecache.Entry{
		UserID:    userID,
		Verifier:  verifier,
		CreatedAt: time.Now(),
	}
	if err := c.cache.Put(ctx, state, entry, c.ttl); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}

	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteAuth consumes the state and exchanges the authorization code,
// returning the user who started the flow and their token pair.
func (c *Connector) CompleteAuth(ctx context.Context, state, code string) (string, *oauth2.Token, error) {
	entry, err := c.cache.Take(ctx, state)
	if errors.Is(err, statecache.ErrNotFound) {
		return "", nil, ErrInvalidState
	}
	if err != nil {
		return "", nil, err
	}

	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(entry.Verifier))
	if err != nil {
		return "", nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return entry.UserID, token, nil
}

// Refresh obtains a fresh token pair from a refresh token. Etsy rotates
// refresh tokens, so callers must persist both values from the result.
func (c *Connector) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}
