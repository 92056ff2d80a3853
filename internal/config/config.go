// Package config loads the gateway configuration: accounts and their
// venue connections, the tier table, rate budgets, retry and breaker
// parameters, and portfolio risk thresholds. Configuration is loaded
// once at startup and treated as immutable for the process lifetime.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/safety"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/internal/venue"
)

type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Accounts    []AccountConfig `mapstructure:"accounts"`
	Tiers       []TierConfig    `mapstructure:"tiers"`
	RateBudgets BudgetConfig    `mapstructure:"rate_budgets"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Reporting   ReportingConfig `mapstructure:"reporting"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AccountConfig struct {
	ID     string   `mapstructure:"id"`
	Role   string   `mapstructure:"role"` // master or user
	Venues []string `mapstructure:"venues"`
}

type TierConfig struct {
	Name           string  `mapstructure:"name"`
	MinBalance     float64 `mapstructure:"min_balance"`
	MaxBalance     float64 `mapstructure:"max_balance"`
	MaxPositions   int     `mapstructure:"max_positions"`
	MinPositionPct float64 `mapstructure:"min_position_pct"`
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
}

type BudgetConfig struct {
	BulkPerMinute    int `mapstructure:"bulk_per_minute"`
	LookupPerMinute  int `mapstructure:"lookup_per_minute"`
	DefaultPerMinute int `mapstructure:"default_per_minute"`
}

type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type BreakerConfig struct {
	WindowSize          int     `mapstructure:"window_size"`
	MinSuccessRate      float64 `mapstructure:"min_success_rate"`
	ConsecutiveFailures int     `mapstructure:"consecutive_failures"`
	OpenTimeoutSeconds  int     `mapstructure:"open_timeout_seconds"`
}

type RiskConfig struct {
	CautiousVol          float64 `mapstructure:"cautious_vol"`
	StressedVol          float64 `mapstructure:"stressed_vol"`
	CrisisVol            float64 `mapstructure:"crisis_vol"`
	CautiousDrawdown     float64 `mapstructure:"cautious_drawdown"`
	StressedDrawdown     float64 `mapstructure:"stressed_drawdown"`
	CrisisDrawdown       float64 `mapstructure:"crisis_drawdown"`
	RecoverySettleCycles int     `mapstructure:"recovery_settle_cycles"`
}

type EngineConfig struct {
	CycleSeconds      int     `mapstructure:"cycle_seconds"`
	StaggerMaxSeconds int     `mapstructure:"stagger_max_seconds"`
	TypicalFeeUSD     float64 `mapstructure:"typical_fee_usd"`
	FeeMultiple       float64 `mapstructure:"fee_multiple"`
}

type ReportingConfig struct {
	Directory string `mapstructure:"directory"`
}

// Load reads config.yaml (current directory or ./configs) with
// environment overrides prefixed TRADEGATE_.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.SetEnvPrefix("tradegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8090")

	budgets := safety.DefaultRateBudgets()
	viper.SetDefault("rate_budgets.bulk_per_minute", budgets.BulkPerMinute)
	viper.SetDefault("rate_budgets.lookup_per_minute", budgets.LookupPerMinute)
	viper.SetDefault("rate_budgets.default_per_minute", budgets.DefaultPerMinute)

	viper.SetDefault("retry.max_attempts", safety.DefaultMaxAttempts)

	breaker := safety.DefaultBreakerConfig()
	viper.SetDefault("breaker.window_size", breaker.WindowSize)
	viper.SetDefault("breaker.min_success_rate", breaker.MinSuccessRate)
	viper.SetDefault("breaker.consecutive_failures", breaker.ConsecutiveFailures)
	viper.SetDefault("breaker.open_timeout_seconds", int(breaker.OpenTimeout/time.Second))

	thresholds := risk.DefaultThresholds()
	viper.SetDefault("risk.cautious_vol", thresholds.CautiousVol)
	viper.SetDefault("risk.stressed_vol", thresholds.StressedVol)
	viper.SetDefault("risk.crisis_vol", thresholds.CrisisVol)
	viper.SetDefault("risk.cautious_drawdown", thresholds.CautiousDrawdown)
	viper.SetDefault("risk.stressed_drawdown", thresholds.StressedDrawdown)
	viper.SetDefault("risk.crisis_drawdown", thresholds.CrisisDrawdown)
	viper.SetDefault("risk.recovery_settle_cycles", thresholds.RecoverySettleCycles)

	viper.SetDefault("engine.cycle_seconds", 150)
	viper.SetDefault("engine.stagger_max_seconds", 45)
	viper.SetDefault("engine.typical_fee_usd", 5.0)
	viper.SetDefault("engine.fee_multiple", 1.5)

	viper.SetDefault("reporting.directory", "reports")
}

func (c *Config) validate() error {
	masters := 0
	for _, a := range c.Accounts {
		switch a.Role {
		case "master":
			masters++
		case "user":
		default:
			return fmt.Errorf("account %s: role must be master or user, got %q", a.ID, a.Role)
		}
		for _, v := range a.Venues {
			supported := false
			for _, s := range venue.SupportedVenues() {
				if v == s {
					supported = true
					break
				}
			}
			if !supported {
				return fmt.Errorf("account %s: unsupported venue %q", a.ID, v)
			}
		}
	}
	if len(c.Accounts) > 0 && masters != 1 {
		return fmt.Errorf("exactly one master account required, got %d", masters)
	}
	return nil
}

// TierTable builds the tier lookup table, falling back to the
// compiled-in defaults when no tiers are configured.
func (c *Config) TierTable() (*tier.Table, error) {
	if len(c.Tiers) == 0 {
		return tier.DefaultTable(), nil
	}
	rules := make([]tier.Rule, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		rules = append(rules, tier.Rule{
			Name:           t.Name,
			MinBalance:     t.MinBalance,
			MaxBalance:     t.MaxBalance,
			MaxPositions:   t.MaxPositions,
			MinPositionPct: t.MinPositionPct,
			MaxPositionPct: t.MaxPositionPct,
		})
	}
	return tier.NewTable(rules)
}

// Budgets returns the rate limiter budgets.
func (c *Config) Budgets() safety.RateBudgets {
	return safety.RateBudgets{
		BulkPerMinute:    c.RateBudgets.BulkPerMinute,
		LookupPerMinute:  c.RateBudgets.LookupPerMinute,
		DefaultPerMinute: c.RateBudgets.DefaultPerMinute,
	}
}

// BreakerSettings returns the circuit breaker configuration.
func (c *Config) BreakerSettings() safety.BreakerConfig {
	return safety.BreakerConfig{
		WindowSize:          c.Breaker.WindowSize,
		MinSuccessRate:      c.Breaker.MinSuccessRate,
		ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		OpenTimeout:         time.Duration(c.Breaker.OpenTimeoutSeconds) * time.Second,
	}
}

// RiskThresholds returns the portfolio state machine bands.
func (c *Config) RiskThresholds() risk.Thresholds {
	return risk.Thresholds{
		CautiousVol:          c.Risk.CautiousVol,
		StressedVol:          c.Risk.StressedVol,
		CrisisVol:            c.Risk.CrisisVol,
		CautiousDrawdown:     c.Risk.CautiousDrawdown,
		StressedDrawdown:     c.Risk.StressedDrawdown,
		CrisisDrawdown:       c.Risk.CrisisDrawdown,
		RecoverySettleCycles: c.Risk.RecoverySettleCycles,
	}
}

// LoadEnv loads .env into the process environment if present.
func LoadEnv() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}
}

// LoadCredential reads the credential for an (account, venue) pair
// from the environment, e.g. TRADEGATE_MASTER_KRAKEN_API_KEY. The
// credential value itself is never logged.
func LoadCredential(accountID, venueID string) (venue.Credential, error) {
	prefix := fmt.Sprintf("TRADEGATE_%s_%s_",
		strings.ToUpper(accountID), strings.ToUpper(venueID))
	cred := venue.Credential{
		APIKey:     os.Getenv(prefix + "API_KEY"),
		APISecret:  os.Getenv(prefix + "API_SECRET"),
		Passphrase: os.Getenv(prefix + "PASSPHRASE"),
	}
	if cred.APIKey == "" || cred.APISecret == "" {
		return venue.Credential{}, fmt.Errorf("missing credential for %s/%s (expected %sAPI_KEY and %sAPI_SECRET)",
			accountID, venueID, prefix, prefix)
	}
	return cred, nil
}
