package config_test

import (
	"testing"
	"time"

	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "supabase-service-role-key-0123456789abcdef"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CRS_SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("CRS_SUPABASE_SECRET_KEY", validSecret)
}

func TestNewAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "http://localhost:5173", cfg.FrontendURL)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.Equal(t, 10*time.Second, cfg.Auth.Leeway)
	assert.Equal(t, time.Hour, cfg.Supabase.JWKSLifetime)
	assert.Equal(t, 5*time.Second, cfg.Supabase.FetchTimeout)
	assert.Equal(t, 300*time.Second, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, "memory", cfg.StateCache.Type)
	assert.Equal(t, 15*time.Minute, cfg.StateCache.TTL)
	assert.Equal(t, "https://www.etsy.com/oauth/connect", cfg.Etsy.AuthURL)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
}

func TestNewReadsEnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CRS_ENVIRONMENT", "production")
	t.Setenv("CRS_FRONTEND_URL", "https://craftscribe.app")
	t.Setenv("CRS_AUTH_LEEWAY", "5s")
	t.Setenv("CRS_SUPABASE_JWKS_LIFETIME", "30m")
	t.Setenv("CRS_STRIPE_WEBHOOK_TOLERANCE", "120s")

	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "https://craftscribe.app", cfg.FrontendURL)
	assert.Equal(t, 5*time.Second, cfg.Auth.Leeway)
	assert.Equal(t, 30*time.Minute, cfg.Supabase.JWKSLifetime)
	assert.Equal(t, 120*time.Second, cfg.Stripe.WebhookTolerance)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing supabase url",
			env:  map[string]string{"CRS_SUPABASE_URL": "", "CRS_SUPABASE_SECRET_KEY": validSecret},
			want: "supabase url is required",
		},
		{
			name: "plain http supabase url",
			env:  map[string]string{"CRS_SUPABASE_URL": "http://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret},
			want: "must use https",
		},
		{
			name: "short secret key",
			env:  map[string]string{"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": "too-short"},
			want: "at least 32 characters",
		},
		{
			name: "leeway above cap",
			env: map[string]string{
				"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret,
				"CRS_AUTH_LEEWAY": "30s",
			},
			want: "leeway must be between 0 and 10s",
		},
		{
			name: "half-configured price ids",
			env: map[string]string{
				"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret,
				"CRS_STRIPE_PRICE_ID_MAKER": "price_123",
			},
			want: "both plans or neither",
		},
		{
			name: "redis cache without addr",
			env: map[string]string{
				"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret,
				"CRS_STATE_CACHE_TYPE": "redis",
			},
			want: "redis_addr is required",
		},
		{
			name: "unknown cache backend",
			env: map[string]string{
				"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret,
				"CRS_STATE_CACHE_TYPE": "memcached",
			},
			want: "unsupported state cache type",
		},
		{
			name: "production needs frontend url",
			env: map[string]string{
				"CRS_SUPABASE_URL": "https://project.supabase.co", "CRS_SUPABASE_SECRET_KEY": validSecret,
				"CRS_ENVIRONMENT": "production",
			},
			want: "frontend_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.New()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJWKSURL(t *testing.T) {
	cfg := &config.Config{Supabase: config.Supabase{URL: "https://project.supabase.co/"}}
	assert.Equal(t, "https://project.supabase.co/auth/v1/.well-known/jwks.json", cfg.JWKSURL())
}

func TestPlanPrices(t *testing.T) {
	cfg := &config.Config{Stripe: config.Stripe{PriceIDMaker: "price_m", PriceIDStudio: "price_s"}}
	assert.Equal(t, map[string]string{"maker": "price_m", "studio": "price_s"}, cfg.PlanPrices())

	empty := &config.Config{}
	assert.Empty(t, empty.PlanPrices())
}
