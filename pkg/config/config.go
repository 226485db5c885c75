package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/craftscribe/craftscribe/pkg/utils"
	"github.com/spf13/viper"
)

var (
	audience         = "authenticated"  // Default audience of Supabase user tokens
	jwksLifetime     = "1h"             // Default key-set cache lifetime
	fetchTimeout     = "5s"             // Default key-set fetch timeout
	leeway           = "10s"            // Default clock-skew leeway for expiration checks
	webhookTolerance = "300s"           // Default webhook timestamp tolerance
	stateCacheType   = "memory"         // Default OAuth state cache backend
	stateCacheTTL    = "15m"            // Default OAuth state TTL
	openRouterURL    = "https://openrouter.ai/api/v1"
	openRouterModel  = "openai/gpt-3.5-turbo"
	etsyAuthURL      = "https://www.etsy.com/oauth/connect"
	etsyTokenURL     = "https://api.etsy.com/v3/public/oauth/token"
	etsyAPIURL       = "https://api.etsy.com/v3"
)

// Supabase holds the auth/data provider settings
type Supabase struct {
	URL          string        `mapstructure:"url"`           // Project base URL, e.g. https://xyz.supabase.co
	SecretKey    string        `mapstructure:"secret_key"`    // Service-role key (server side only)
	JWKSLifetime time.Duration `mapstructure:"jwks_lifetime"` // Key-set cache lifetime
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"` // Bounded timeout for key-set fetches
}

// Auth holds token verification settings
type Auth struct {
	Audience string        `mapstructure:"audience"` // Expected audience claim
	Leeway   time.Duration `mapstructure:"leeway"`   // Clock-skew leeway for exp checks (capped at 10s)
}

// Stripe holds billing settings
type Stripe struct {
	APIKey                string        `mapstructure:"api_key"`
	WebhookSecret         string        `mapstructure:"webhook_secret"`
	WebhookTolerance      time.Duration `mapstructure:"webhook_tolerance"` // Signature timestamp freshness window
	PriceIDMaker          string        `mapstructure:"price_id_maker"`
	PriceIDStudio         string        `mapstructure:"price_id_studio"`
	PortalConfigurationID string        `mapstructure:"portal_configuration_id"`
}

// Etsy holds the marketplace OAuth application settings
type Etsy struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	APIURL       string `mapstructure:"api_url"`
}

// StateCache holds the OAuth state store settings
type StateCache struct {
	Type          string        `mapstructure:"type"` // "memory" or "redis"
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// OpenRouter holds the description-generation API settings
type OpenRouter struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Referer string `mapstructure:"referer"` // HTTP-Referer header recommended by OpenRouter
	Title   string `mapstructure:"title"`   // X-Title header recommended by OpenRouter
}

// Storage holds the S3-compatible blob storage settings for avatars
type Storage struct {
	Endpoint      string `mapstructure:"endpoint"` // S3-compatible endpoint (Supabase Storage)
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"` // Base URL for public object access
}

type Config struct {
	Environment string   `mapstructure:"environment"`  // "development" or "production"
	FrontendURL string   `mapstructure:"frontend_url"` // Where success/cancel/error redirects land
	CORSOrigins []string `mapstructure:"cors_origins"` // Allowed browser origins

	Supabase   Supabase   `mapstructure:"supabase"`
	Auth       Auth       `mapstructure:"auth"`
	Stripe     Stripe     `mapstructure:"stripe"`
	Etsy       Etsy       `mapstructure:"etsy"`
	StateCache StateCache `mapstructure:"state_cache"`
	OpenRouter OpenRouter `mapstructure:"openrouter"`
	Storage    Storage    `mapstructure:"storage"`
}

// New loads the configuration from file and environment and validates it.
func New() (*Config, error) {
	c := &Config{}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) load() error {
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	v := viper.New()

	// Environment variable handling first
	v.SetEnvPrefix("crs") // ex: CRS_SUPABASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.AddConfigPath("/etc/craftscribe/")
	v.AddConfigPath(configPath)
	v.SetConfigName(configName)

	// Default values
	v.SetDefault("environment", "development")
	v.SetDefault("auth.audience", audience)
	v.SetDefault("auth.leeway", leeway)
	v.SetDefault("supabase.jwks_lifetime", jwksLifetime)
	v.SetDefault("supabase.fetch_timeout", fetchTimeout)
	v.SetDefault("stripe.webhook_tolerance", webhookTolerance)
	v.SetDefault("state_cache.type", stateCacheType)
	v.SetDefault("state_cache.ttl", stateCacheTTL)
	v.SetDefault("openrouter.base_url", openRouterURL)
	v.SetDefault("openrouter.model", openRouterModel)
	v.SetDefault("openrouter.title", "CraftScribe")
	v.SetDefault("etsy.auth_url", etsyAuthURL)
	v.SetDefault("etsy.token_url", etsyTokenURL)
	v.SetDefault("etsy.api_url", etsyAPIURL)
	v.SetDefault("storage.region", "us-east-1")

	// Explicitly bind all config keys to environment variables
	// Core settings
	_ = v.BindEnv("environment")  // CRS_ENVIRONMENT
	_ = v.BindEnv("frontend_url") // CRS_FRONTEND_URL
	_ = v.BindEnv("cors_origins") // CRS_CORS_ORIGINS

	// Supabase settings
	_ = v.BindEnv("supabase.url")           // CRS_SUPABASE_URL
	_ = v.BindEnv("supabase.secret_key")    // CRS_SUPABASE_SECRET_KEY
	_ = v.BindEnv("supabase.jwks_lifetime") // CRS_SUPABASE_JWKS_LIFETIME
	_ = v.BindEnv("supabase.fetch_timeout") // CRS_SUPABASE_FETCH_TIMEOUT

	// Auth settings
	_ = v.BindEnv("auth.audience") // CRS_AUTH_AUDIENCE
	_ = v.BindEnv("auth.leeway")   // CRS_AUTH_LEEWAY

	// Stripe settings
	_ = v.BindEnv("stripe.api_key")                 // CRS_STRIPE_API_KEY
	_ = v.BindEnv("stripe.webhook_secret")          // CRS_STRIPE_WEBHOOK_SECRET
	_ = v.BindEnv("stripe.webhook_tolerance")       // CRS_STRIPE_WEBHOOK_TOLERANCE
	_ = v.BindEnv("stripe.price_id_maker")          // CRS_STRIPE_PRICE_ID_MAKER
	_ = v.BindEnv("stripe.price_id_studio")         // CRS_STRIPE_PRICE_ID_STUDIO
	_ = v.BindEnv("stripe.portal_configuration_id") // CRS_STRIPE_PORTAL_CONFIGURATION_ID

	// Etsy settings
	_ = v.BindEnv("etsy.client_id")     // CRS_ETSY_CLIENT_ID
	_ = v.BindEnv("etsy.client_secret") // CRS_ETSY_CLIENT_SECRET
	_ = v.BindEnv("etsy.redirect_url")  // CRS_ETSY_REDIRECT_URL

	// State cache settings
	_ = v.BindEnv("state_cache.type")           // CRS_STATE_CACHE_TYPE
	_ = v.BindEnv("state_cache.ttl")            // CRS_STATE_CACHE_TTL
	_ = v.BindEnv("state_cache.redis_addr")     // CRS_STATE_CACHE_REDIS_ADDR
	_ = v.BindEnv("state_cache.redis_password") // CRS_STATE_CACHE_REDIS_PASSWORD
	_ = v.BindEnv("state_cache.redis_db")       // CRS_STATE_CACHE_REDIS_DB

	// OpenRouter settings
	_ = v.BindEnv("openrouter.api_key")  // CRS_OPENROUTER_API_KEY
	_ = v.BindEnv("openrouter.base_url") // CRS_OPENROUTER_BASE_URL
	_ = v.BindEnv("openrouter.model")    // CRS_OPENROUTER_MODEL
	_ = v.BindEnv("openrouter.referer")  // CRS_OPENROUTER_REFERER
	_ = v.BindEnv("openrouter.title")    // CRS_OPENROUTER_TITLE

	// Storage settings
	_ = v.BindEnv("storage.endpoint")        // CRS_STORAGE_ENDPOINT
	_ = v.BindEnv("storage.region")          // CRS_STORAGE_REGION
	_ = v.BindEnv("storage.access_key")      // CRS_STORAGE_ACCESS_KEY
	_ = v.BindEnv("storage.secret_key")      // CRS_STORAGE_SECRET_KEY
	_ = v.BindEnv("storage.bucket")          // CRS_STORAGE_BUCKET
	_ = v.BindEnv("storage.public_base_url") // CRS_STORAGE_PUBLIC_BASE_URL

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and environment
		} else {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return errors.New("supabase url is required")
	}
	if !strings.HasPrefix(c.Supabase.URL, "https://") {
		return errors.New("supabase url must use https")
	}
	if len(c.Supabase.SecretKey) < 32 {
		return errors.New("supabase secret key must be at least 32 characters")
	}

	if c.Supabase.JWKSLifetime <= 0 {
		return errors.New("supabase jwks lifetime must be positive")
	}
	if c.Supabase.FetchTimeout <= 0 {
		return errors.New("supabase fetch timeout must be positive")
	}

	if c.Auth.Audience == "" {
		return errors.New("auth audience is required")
	}
	if c.Auth.Leeway < 0 || c.Auth.Leeway > 10*time.Second {
		return errors.New("auth leeway must be between 0 and 10s")
	}

	if c.Stripe.WebhookTolerance <= 0 {
		return errors.New("stripe webhook tolerance must be positive")
	}
	// Plan price IDs come as a pair or not at all: a half-configured
	// price map silently breaks plan resolution in webhook handling.
	if (c.Stripe.PriceIDMaker == "") != (c.Stripe.PriceIDStudio == "") {
		return errors.New("stripe price ids must be configured for both plans or neither")
	}

	switch c.StateCache.Type {
	case "memory":
	case "redis":
		if c.StateCache.RedisAddr == "" {
			return errors.New("state cache redis_addr is required for redis backend")
		}
	default:
		return fmt.Errorf("unsupported state cache type: %s", c.StateCache.Type)
	}
	if c.StateCache.TTL <= 0 {
		return errors.New("state cache ttl must be positive")
	}

	if c.FrontendURL == "" {
		if c.Environment == "development" {
			c.FrontendURL = "http://localhost:5173"
		} else {
			return errors.New("frontend_url is required outside development")
		}
	}

	return nil
}

// JWKSURL returns the well-known key-set endpoint of the Supabase project.
func (c *Config) JWKSURL() string {
	return strings.TrimRight(c.Supabase.URL, "/") + "/auth/v1/.well-known/jwks.json"
}

// PlanPrices maps plan names to Stripe price IDs. Empty entries are omitted.
func (c *Config) PlanPrices() map[string]string {
	prices := make(map[string]string, 2)
	if c.Stripe.PriceIDMaker != "" {
		prices["maker"] = c.Stripe.PriceIDMaker
	}
	if c.Stripe.PriceIDStudio != "" {
		prices["studio"] = c.Stripe.PriceIDStudio
	}
	return prices
}
