/*
Package config loads service configuration.

SOURCES (later wins):
  1. Built-in defaults (setDefaults)
  2. Optional YAML file passed with --config
  3. .env file in the working directory (never overrides real env vars)
  4. Environment variables prefixed BILLING_, dots become underscores:
     billing.grace_days -> BILLING_BILLING_GRACE_DAYS
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/billing-engine/billing"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "BILLING"

// Config holds all settings for the billing service.
type Config struct {
	HTTP struct {
		Port           int      `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"http"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Stripe struct {
		SecretKey     string `mapstructure:"secret_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
		Currency      string `mapstructure:"currency"`
	} `mapstructure:"stripe"`

	FrontendURL string `mapstructure:"frontend_url"`

	Billing struct {
		Timezone             string `mapstructure:"timezone"`
		GraceDays            int    `mapstructure:"grace_days"`
		DefaultMonthlyBill   string `mapstructure:"default_monthly_bill"`
		DefaultLateSurcharge string `mapstructure:"default_late_surcharge"`
	} `mapstructure:"billing"`

	Schedule struct {
		Invoices   string `mapstructure:"invoices"`
		Surcharges string `mapstructure:"surcharges"`
	} `mapstructure:"schedule"`

	Timeouts struct {
		Gateway time.Duration `mapstructure:"gateway"`
		Job     time.Duration `mapstructure:"job"`
		Request time.Duration `mapstructure:"request"`
	} `mapstructure:"timeouts"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("db.path", "billing.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.currency", "pkr")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("billing.timezone", "Local")
	v.SetDefault("billing.grace_days", billing.DefaultGraceDays)
	v.SetDefault("billing.default_monthly_bill", "100")
	v.SetDefault("billing.default_late_surcharge", "10")
	v.SetDefault("schedule.invoices", "0 0 1 * *")
	v.SetDefault("schedule.surcharges", "0 0 * * *")
	v.SetDefault("timeouts.gateway", billing.DefaultGatewayTimeout)
	v.SetDefault("timeouts.job", 5*time.Minute)
	v.SetDefault("timeouts.request", 30*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. configFile may be empty. envFiles default to
// ".env"; missing env files are ignored.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Billing.GraceDays < 0 {
		errs = append(errs, fmt.Errorf("billing.grace_days must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DefaultPrices(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", billing.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Location resolves billing.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Billing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("billing.timezone %q: %w", c.Billing.Timezone, err)
	}
	return loc, nil
}

// DefaultPrices returns the fallback price per category.
func (c *Config) DefaultPrices() (map[billing.Category]decimal.Decimal, error) {
	monthly, err := parseAmount("billing.default_monthly_bill", c.Billing.DefaultMonthlyBill)
	if err != nil {
		return nil, err
	}
	late, err := parseAmount("billing.default_late_surcharge", c.Billing.DefaultLateSurcharge)
	if err != nil {
		return nil, err
	}
	return map[billing.Category]decimal.Decimal{
		billing.CategoryMonthlyBill:   monthly,
		billing.CategoryLateSurcharge: late,
	}, nil
}

// UseMockGateway reports whether no Stripe key is configured.
func (c *Config) UseMockGateway() bool {
	return c.Stripe.SecretKey == ""
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

func parseAmount(key, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", key, s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
