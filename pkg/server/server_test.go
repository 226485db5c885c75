package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/craftscribe/craftscribe/pkg/auth"
	"github.com/craftscribe/craftscribe/pkg/billing"
	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/craftscribe/craftscribe/pkg/server"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/craftscribe/craftscribe/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_e2e_test_secret_e2e_test_secret"

// fakeVerifier answers every Verify call with a fixed result.
type fakeVerifier struct {
	principal *types.Principal
	err       error
}

func (f *fakeVerifier) Verify(context.Context, string) (*types.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.principal, nil
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	StatusCode int             `json:"status_code"`
	ErrorID    string          `json:"error_id"`
	Data       json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, verifier server.TokenVerifier, storeURL string) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		FrontendURL: "http://localhost:5173",
	}
	if storeURL == "" {
		storeURL = "http://127.0.0.1:1" // unreachable; routes under test must not touch it
	}
	store := supabase.New(storeURL, "test-service-key-test-service-key-xx")

	srv := server.New(cfg, server.Deps{
		Verifier: verifier,
		Webhooks: webhook.NewVerifier(webhookSecret, 5*time.Minute),
		Store:    store,
		Billing:  billing.New(store, cfg),
	})
	return srv.Router()
}

func doRequest(t *testing.T, router http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if body := rec.Body.Bytes(); len(body) > 0 {
		_ = json.Unmarshal(body, &env)
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")

	rec, _ := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthVerifyWithoutToken(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")

	rec, env := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid credentials", env.Error)
	assert.NotEmpty(t, env.ErrorID)
}

func TestAuthVerifyErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized, "invalid credentials"},
		{"expired token", auth.ErrTokenExpired, http.StatusUnauthorized, "session expired"},
		{"key set down", auth.ErrKeySetUnavailable, http.StatusServiceUnavailable, "authentication temporarily unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeVerifier{err: tt.err}, "")

			req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
			req.Header.Set("Authorization", "Bearer some-token")

			rec, env := doRequest(t, router, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, env.Error)
			assert.Equal(t, tt.wantStatus, env.StatusCode)
		})
	}
}

func TestAuthVerifySuccess(t *testing.T) {
	principal := &types.Principal{UserID: "user-1", Email: "a@b.c", Role: "authenticated"}
	router := newTestRouter(t, &fakeVerifier{principal: principal}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer valid-token")

	rec, env := doRequest(t, router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var got types.Principal
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "user-1", got.UserID)
}

func TestAdminRouteForbiddenForRegularUser(t *testing.T) {
	principal := &types.Principal{UserID: "user-1", Role: "authenticated"}
	router := newTestRouter(t, &fakeVerifier{principal: principal}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/users/reset-credits", nil)
	req.Header.Set("Authorization", "Bearer valid-token")

	rec, env := doRequest(t, router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", env.Error)
}

func TestProfileFallsBackToPrincipal(t *testing.T) {
	// Store answers 406: no profiles row yet.
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no rows"}`, http.StatusNotAcceptable)
	}))
	defer store.Close()

	principal := &types.Principal{UserID: "user-7", Email: "new@user.dev", Role: "authenticated"}
	router := newTestRouter(t, &fakeVerifier{principal: principal}, store.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
	req.Header.Set("Authorization", "Bearer valid-token")

	rec, env := doRequest(t, router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile types.Profile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "user-7", profile.ID)
	assert.Equal(t, "new@user.dev", profile.Email)
}

func webhookRequest(payload []byte, header string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set("stripe-signature", header)
	}
	return req
}

func signPayload(payload []byte, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), webhook.ComputeSignature(webhookSecret, ts, payload))
}

func TestWebhookMissingSignature(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")

	rec, env := doRequest(t, router, webhookRequest([]byte(`{"type":"ping"}`), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing signature", env.Error)
}

func TestWebhookBadSignature(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")
	payload := []byte(`{"type":"ping"}`)

	header := fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), strings.Repeat("ab", 32))
	rec, env := doRequest(t, router, webhookRequest(payload, header))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid signature", env.Error)
}

func TestWebhookStaleSignature(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")
	payload := []byte(`{"type":"ping"}`)

	rec, env := doRequest(t, router, webhookRequest(payload, signPayload(payload, time.Now().Add(-time.Hour))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "signature timestamp outside tolerance", env.Error)
}

func TestWebhookValidSignatureUnhandledType(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")
	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{}}}`)

	rec, env := doRequest(t, router, webhookRequest(payload, signPayload(payload, time.Now())))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestWebhookValidSignatureGarbagePayload(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")
	payload := []byte(`not json at all`)

	rec, env := doRequest(t, router, webhookRequest(payload, signPayload(payload, time.Now())))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad request", env.Error)
}

func TestErrorResponseNeverEchoesInput(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")

	secretPayload := []byte(`{"card":"4242424242424242"}`)
	rec, _ := doRequest(t, router, webhookRequest(secretPayload, "t=bogus"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "4242424242424242")
	assert.NotContains(t, rec.Body.String(), "bogus")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(t, &fakeVerifier{}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	req.Header.Set("X-Request-Id", "trace-123")

	rec, _ := doRequest(t, router, req)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCheckoutRejectsUnknownPlanBeforeStripe(t *testing.T) {
	// The store answers with a minimal profile so plan validation is the
	// first thing that can fail.
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"user-1","email":"a@b.c"}`))
	}))
	defer store.Close()

	principal := &types.Principal{UserID: "user-1", Role: "authenticated"}
	router := newTestRouter(t, &fakeVerifier{principal: principal}, store.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/billing/enterprise/create-checkout-session", nil)
	req.Header.Set("Authorization", "Bearer valid-token")

	rec, env := doRequest(t, router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid plan", env.Error)
}
