// Package config loads the server configuration from environment variables.
//
// Every tunable that used to be ambient (cookie name, session TTL, reward
// amounts, provider credentials) lives here as an explicit field and is
// passed into the components that need it.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Addr   string `env:"ADDR" env-default:":4000"`
	Env    string `env:"APP_ENV" env-default:"development"`
	DBPath string `env:"DB_PATH" env-default:"data/mintair.db"`

	AppBaseURL string `env:"APP_BASE_URL" env-default:"http://localhost:3000"`

	SessionSecret     string `env:"SESSION_SECRET" env-default:""`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" env-default:"mintair_session"`
	SessionTTLHours   int    `env:"SESSION_TTL_HOURS" env-default:"168"`
	// CookieCrossOrigin switches the session cookie to SameSite=None for
	// deployments where the frontend is served from another origin.
	// Requires HTTPS (the Secure flag is set alongside it).
	CookieCrossOrigin bool `env:"COOKIE_CROSS_ORIGIN" env-default:"false"`

	BcryptCost int `env:"BCRYPT_COST" env-default:"12"`

	ReferralRewardUSD       string `env:"REFERRAL_REWARD_USD" env-default:"25.00"`
	DefaultCreditUSD        string `env:"DEFAULT_CREDIT_USD" env-default:"100.00"`
	TopUpCancelCooldownMins int    `env:"TOPUP_CANCEL_COOLDOWN_MIN" env-default:"15"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" env-default:""`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" env-default:""`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL" env-default:""`

	CopperxAPIKey        string `env:"COPPERX_API_KEY" env-default:""`
	CopperxAPIBaseURL    string `env:"COPPERX_API_BASE_URL" env-default:"https://api.copperx.io"`
	CopperxWebhookSecret string `env:"COPPERX_WEBHOOK_SECRET" env-default:""`
	CopperxSuccessURL    string `env:"COPPERX_CHECKOUT_SUCCESS_URL" env-default:""`
	CopperxCancelURL     string `env:"COPPERX_CHECKOUT_CANCEL_URL" env-default:""`
	CopperxAllowFiat     bool   `env:"COPPERX_ALLOW_FIAT" env-default:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}

	if _, err := decimal.NewFromString(cfg.ReferralRewardUSD); err != nil {
		return nil, fmt.Errorf("invalid REFERRAL_REWARD_USD %q: %w", cfg.ReferralRewardUSD, err)
	}
	if _, err := decimal.NewFromString(cfg.DefaultCreditUSD); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CREDIT_USD %q: %w", cfg.DefaultCreditUSD, err)
	}
	if cfg.BcryptCost < 10 || cfg.BcryptCost > 14 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 10 and 14, got %d", cfg.BcryptCost)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode. It gates
// the Secure cookie flag and makes a missing webhook secret a hard error.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReferralReward returns the configured referral reward as a decimal amount.
// Load has already validated the string, so parsing cannot fail here.
func (c *Config) ReferralReward() decimal.Decimal {
	return decimal.RequireFromString(c.ReferralRewardUSD)
}

// StarterCredit returns the signup credit granted to every new account.
func (c *Config) StarterCredit() decimal.Decimal {
	return decimal.RequireFromString(c.DefaultCreditUSD)
}
