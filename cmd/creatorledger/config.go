package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/creatorledger/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultCatalogURL   = "http://localhost:3000"
	defaultSweepPeriod  = 5 * time.Minute
	defaultSLA          = 30 * time.Minute
)

var (
	defaultPayoutMinAmount = decimal.RequireFromString("20")
	defaultPayoutFeeRate   = decimal.RequireFromString("0.05")
	defaultApplicationFee  = decimal.RequireFromString("0.10")
	defaultStarsPerUnit    = decimal.RequireFromString("100")
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod), picks the log format
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret shared with the identity provider to verify bearer tokens
	IdentitySecret string

	// Emails granted admin rights without the persisted flag
	AdminEmails []string

	// Card processor
	CardAPIURL              string
	CardSecretKey           string
	CardWebhookSecret       string
	CardSubscriptionProduct string
	CardApplicationFeeRate  decimal.Decimal

	// Wallet processor
	WalletAPIURL       string
	WalletClientID     string
	WalletClientSecret string
	WalletWebhookID    string

	// Content catalog service
	CatalogURL string

	// Monetary settings, parsed as decimals to avoid float rounding
	PayoutMinAmount decimal.Decimal
	PayoutFeeRate   decimal.Decimal
	StarsPerUnit    decimal.Decimal

	// Reconciliation sweep of payouts stuck in processing
	PayoutSweepInterval time.Duration
	PayoutProcessingSLA time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:               defaultLoggingLevel,
		Environment:            defaultEnvironment,
		ListenAddr:             defaultListenAddr,
		CatalogURL:             defaultCatalogURL,
		CardApplicationFeeRate: defaultApplicationFee,
		PayoutMinAmount:        defaultPayoutMinAmount,
		PayoutFeeRate:          defaultPayoutFeeRate,
		StarsPerUnit:           defaultStarsPerUnit,
		PayoutSweepInterval:    defaultSweepPeriod,
		PayoutProcessingSLA:    defaultSLA,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = splitList(value)
			}
			return nil
		}
	}
	setDecimal := func(o *decimal.Decimal) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			return (*decimalValue)(o).Set(value)
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":               setString(&c.ListenAddr),
		"DATABASE_URI":              setString(&c.DatabaseDSN),
		"LOG_LEVEL":                 setString(&c.LogLevel),
		"ENVIRONMENT":               setString(&c.Environment),
		"IDENTITY_SECRET":           setString(&c.IdentitySecret),
		"ADMIN_EMAILS":              setList(&c.AdminEmails),
		"CARD_API_URL":              setString(&c.CardAPIURL),
		"CARD_SECRET_KEY":           setString(&c.CardSecretKey),
		"CARD_WEBHOOK_SECRET":       setString(&c.CardWebhookSecret),
		"CARD_SUBSCRIPTION_PRODUCT": setString(&c.CardSubscriptionProduct),
		"CARD_APPLICATION_FEE_RATE": setDecimal(&c.CardApplicationFeeRate),
		"WALLET_API_URL":            setString(&c.WalletAPIURL),
		"WALLET_CLIENT_ID":          setString(&c.WalletClientID),
		"WALLET_CLIENT_SECRET":      setString(&c.WalletClientSecret),
		"WALLET_WEBHOOK_ID":         setString(&c.WalletWebhookID),
		"CATALOG_URL":               setString(&c.CatalogURL),
		"PAYOUT_MIN_AMOUNT":         setDecimal(&c.PayoutMinAmount),
		"PAYOUT_FEE_RATE":           setDecimal(&c.PayoutFeeRate),
		"STARS_PER_UNIT":            setDecimal(&c.StarsPerUnit),
		"PAYOUT_SWEEP_INTERVAL":     setDuration(&c.PayoutSweepInterval),
		"PAYOUT_PROCESSING_SLA":     setDuration(&c.PayoutProcessingSLA),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("creatorledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.IdentitySecret, "identity-secret", "s", c.IdentitySecret, "Secret to verify identity provider tokens")
	fs.StringSliceVar(&c.AdminEmails, "admin-emails", c.AdminEmails, "Emails granted admin rights")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	fs.StringVar(&c.CardAPIURL, "card-api-url", c.CardAPIURL, "Card processor API address")
	fs.StringVar(&c.CardSecretKey, "card-secret-key", c.CardSecretKey, "Card processor API key")
	fs.StringVar(&c.CardWebhookSecret, "card-webhook-secret", c.CardWebhookSecret, "Card processor callback signing secret")
	fs.StringVar(&c.CardSubscriptionProduct, "card-subscription-product", c.CardSubscriptionProduct, "Card processor product for subscription prices")
	fs.Var((*decimalValue)(&c.CardApplicationFeeRate), "card-application-fee-rate", "Platform fee kept from direct card charges")

	fs.StringVar(&c.WalletAPIURL, "wallet-api-url", c.WalletAPIURL, "Wallet processor API address")
	fs.StringVar(&c.WalletClientID, "wallet-client-id", c.WalletClientID, "Wallet processor OAuth client id")
	fs.StringVar(&c.WalletClientSecret, "wallet-client-secret", c.WalletClientSecret, "Wallet processor OAuth client secret")
	fs.StringVar(&c.WalletWebhookID, "wallet-webhook-id", c.WalletWebhookID, "Wallet processor webhook id")

	fs.StringVarP(&c.CatalogURL, "catalog", "c", c.CatalogURL, "Content catalog service address")

	fs.Var((*decimalValue)(&c.PayoutMinAmount), "payout-min-amount", "Minimum withdrawal amount")
	fs.Var((*decimalValue)(&c.PayoutFeeRate), "payout-fee-rate", "Platform fee rate of payouts")
	fs.Var((*decimalValue)(&c.StarsPerUnit), "stars-per-unit", "Stars per settlement currency unit")
	fs.DurationVar(&c.PayoutSweepInterval, "payout-sweep-interval", c.PayoutSweepInterval, "Interval between payout reconciliation sweeps")
	fs.DurationVar(&c.PayoutProcessingSLA, "payout-processing-sla", c.PayoutProcessingSLA, "Time a payout may stay processing before it is re-queried")

	return fs.Parse(args)
}

func splitList(value string) []string {
	items := strings.Split(value, ",")
	list := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// pflag.Value over decimal so monetary flags are never parsed as floats
type decimalValue decimal.Decimal

func (d *decimalValue) String() string {
	return (*decimal.Decimal)(d).String()
}

func (d *decimalValue) Set(value string) error {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}
	if v.IsNegative() {
		return errors.New("must not be negative")
	}
	*d = decimalValue(v)
	return nil
}

func (d *decimalValue) Type() string {
	return "decimal"
}
