// Package webhook verifies signed payment-provider event payloads using the
// Stripe shared-secret HMAC scheme: a header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" over the raw request body.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the timestamp freshness window applied when none is
// configured. Matches the provider's own default.
const DefaultTolerance = 300 * time.Second

var (
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMissingSecret      = errors.New("webhook secret not configured")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrTimestampTooOld    = errors.New("signature timestamp outside tolerance")
)

// signatureHeader is the parsed form of the provider's signature header.
type signatureHeader struct {
	timestamp  time.Time
	signatures [][]byte
}

// Verifier authenticates webhook payloads against a shared secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify confirms the payload was produced by the holder of the shared
// secret and that its timestamp is within the freshness window. It returns
// nil only when both hold; there is nothing to produce on success.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}

	// An empty secret must never degrade into "signature not required".
	if v.secret == "" {
		return ErrMissingSecret
	}

	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := computeSignature(v.secret, parsed.timestamp, payload)

	matched := false
	for _, candidate := range parsed.signatures {
		if hmac.Equal(candidate, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrSignatureMismatch
	}

	// Replay window. A validly signed but old payload is rejected, not
	// merely logged: silent acceptance would defeat replay protection.
	if age := v.now().Sub(parsed.timestamp); age > v.tolerance {
		slog.Warn("Webhook timestamp outside tolerance",
			slog.Duration("age", age),
			slog.Duration("tolerance", v.tolerance),
		)
		return fmt.Errorf("%w: payload is %s old", ErrTimestampTooOld, age.Truncate(time.Second))
	}

	return nil
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of
// "{timestamp}.{payload}" under the given secret. Exported so tests and
// tooling can mint valid headers.
func ComputeSignature(secret string, timestamp time.Time, payload []byte) string {
	return hex.EncodeToString(computeSignature(secret, timestamp, payload))
}

func computeSignature(secret string, timestamp time.Time, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp.Unix())
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseSignatureHeader splits the comma-separated header into one timestamp
// and one or more v1 signature candidates. Unknown schemes (v0, ...) are
// ignored, as the provider documents.
func parseSignatureHeader(header string) (*signatureHeader, error) {
	parsed := &signatureHeader{}
	sawTimestamp := false

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			unix, err := strconv.ParseInt(part[len("t="):], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedSignature)
			}
			parsed.timestamp = time.Unix(unix, 0)
			sawTimestamp = true
		case strings.HasPrefix(part, "v1="):
			sig, err := hex.DecodeString(part[len("v1="):])
			if err != nil {
				// A non-hex candidate can never match; skip it rather
				// than reject a header that also carries a valid one.
				continue
			}
			parsed.signatures = append(parsed.signatures, sig)
		}
	}

	if !sawTimestamp || len(parsed.signatures) == 0 {
		return nil, fmt.Errorf("%w: need a timestamp and at least one v1 signature", ErrMalformedSignature)
	}
	return parsed, nil
}
