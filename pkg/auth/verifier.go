package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/craftscribe/craftscribe/pkg/utils"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultRole is assumed when a token carries no role claim.
const DefaultRole = "authenticated"

var (
	// ErrInvalidToken covers every client-supplied defect: bad signature,
	// wrong algorithm, unknown or missing kid, audience mismatch,
	// structural corruption, empty subject.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is distinct so callers can answer "session expired"
	// instead of "invalid credentials".
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the strongly-typed shape of a Supabase access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Verifier converts raw bearer tokens into verified principals.
type Verifier struct {
	keys   KeySource
	parser *jwt.Parser
}

// NewVerifier builds a verifier pinned to ES256, the single algorithm the
// issuer is known to use. Leeway must stay small; config caps it at 10s.
func NewVerifier(keys KeySource, audience string, leeway time.Duration) *Verifier {
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify validates the token signature and claims and returns the principal.
// Failures are classified into ErrInvalidToken, ErrTokenExpired and
// ErrKeySetUnavailable; no other error values escape.
func (v *Verifier) Verify(ctx context.Context, token string) (*types.Principal, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, v.keyFor(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ErrKeySetUnavailable):
			return nil, err
		case errors.Is(err, jwt.ErrTokenExpired):
			slog.Debug("Token expired", slog.String("token", utils.RedactToken(token, 6, 4)))
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			slog.Debug("Token rejected",
				slog.String("token", utils.RedactToken(token, 6, 4)),
				slog.String("reason", err.Error()),
			)
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	// An authenticated-but-subjectless token is never valid.
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = DefaultRole
	}

	return &types.Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   role,
	}, nil
}

// keyFor resolves the token's kid against the current key set. A kid with
// no matching key is an untrusted token, not a transient error; callers may
// retry after the cache expires and picks up rotated keys.
func (v *Verifier) keyFor(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing or invalid kid in token header")
		}

		set, err := v.keys.Keys(ctx)
		if err != nil {
			return nil, err
		}

		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, errors.New("signing key not found")
		}

		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("failed to materialize public key: %w", err)
		}
		return raw, nil
	}
}
