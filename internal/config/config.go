package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/invoicing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment   DeploymentConfig   `validate:"required"`
	Server       ServerConfig       `validate:"required"`
	Logging      LoggingConfig      `validate:"required"`
	Postgres     PostgresConfig     `validate:"required"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Numbering    NumberingConfig    `mapstructure:"numbering" validate:"required"`
	ExchangeRate ExchangeRateConfig `mapstructure:"exchange_rate" validate:"required"`
	Invoice      InvoiceConfig      `mapstructure:"invoice" validate:"required"`
	SideEffects  SideEffectsConfig  `mapstructure:"side_effects" validate:"required"`
	Email        EmailConfig        `mapstructure:"email"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	S3           S3Config           `mapstructure:"s3"`
	Typst        TypstConfig        `mapstructure:"typst"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	// Enabled switches the durable store on. Without it invoices cannot be persisted
	// and numbering falls back to in-process counters when allowed.
	Enabled                bool          `mapstructure:"enabled"`
	Host                   string        `mapstructure:"host"`
	Port                   int           `mapstructure:"port"`
	User                   string        `mapstructure:"user"`
	Password               string        `mapstructure:"password"`
	DBName                 string        `mapstructure:"dbname"`
	SSLMode                string        `mapstructure:"sslmode"`
	MaxOpenConns           int           `mapstructure:"max_open_conns"`
	MaxIdleConns           int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int           `mapstructure:"conn_max_lifetime_minutes"`
	QueryTimeout           time.Duration `mapstructure:"query_timeout"`
	AutoMigrate            bool          `mapstructure:"auto_migrate"`
}

type CacheConfig struct {
	Backend types.CacheBackend `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	Redis   RedisConfig        `mapstructure:"redis"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type NumberingConfig struct {
	ProformaSeries         string `mapstructure:"proforma_series" validate:"required"`
	FiscalSeries           string `mapstructure:"fiscal_series" validate:"required"`
	ProformaStart          int64  `mapstructure:"proforma_start" validate:"min=0"`
	FiscalStart            int64  `mapstructure:"fiscal_start" validate:"min=0"`
	AllowInProcessFallback bool   `mapstructure:"allow_in_process_fallback"`
}

type ExchangeRateConfig struct {
	LocalCurrency   string        `mapstructure:"local_currency" validate:"required,len=3"`
	ForeignCurrency string        `mapstructure:"foreign_currency" validate:"required,len=3"`
	FeedURL         string        `mapstructure:"feed_url" validate:"required,url"`
	Provider        string        `mapstructure:"provider" validate:"required"`
	TTL             time.Duration `mapstructure:"ttl" validate:"required"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" validate:"required"`
}

type InvoiceConfig struct {
	DefaultCurrency      string       `mapstructure:"default_currency" validate:"required,len=3"`
	DefaultVATPercentage float64      `mapstructure:"default_vat_percentage" validate:"min=0,max=100"`
	PaymentTermsDays     int          `mapstructure:"payment_terms_days" validate:"min=0"`
	Issuer               IssuerConfig `mapstructure:"issuer"`
}

// IssuerConfig describes the selling company printed on documents
type IssuerConfig struct {
	Name        string `mapstructure:"name"`
	TaxID       string `mapstructure:"tax_id"`
	RegNumber   string `mapstructure:"reg_number"`
	Address     string `mapstructure:"address"`
	Email       string `mapstructure:"email"`
	BankAccount string `mapstructure:"bank_account"`
	BankName    string `mapstructure:"bank_name"`
}

type SideEffectsConfig struct {
	Mode        types.SideEffectMode `mapstructure:"mode" validate:"required,oneof=sync async"`
	StepTimeout time.Duration        `mapstructure:"step_timeout" validate:"required"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	ReplyTo     string `mapstructure:"reply_to"`
}

type StripeConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SecretKey  string `mapstructure:"secret_key"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

type S3Config struct {
	Enabled             bool           `mapstructure:"enabled"`
	Region              string         `mapstructure:"region"`
	InvoiceBucketConfig S3BucketConfig `mapstructure:"invoice"`
}

type S3BucketConfig struct {
	Bucket                string `mapstructure:"bucket"`
	PresignExpiryDuration string `mapstructure:"presign_expiry_duration"`
	KeyPrefix             string `mapstructure:"key_prefix"`
}

type TypstConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BinaryPath   string `mapstructure:"binary_path"`
	FontDir      string `mapstructure:"font_dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func NewConfig() (*Configuration, error) {
	// a missing .env is fine, the real environment still applies
	_ = godotenv.Load()

	v := viper.New()

	// Modify config paths to ensure config.yaml is found
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/invoicing")

	// Set up environment variables support
	v.SetEnvPrefix("INVOICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every key so env overrides work without a config file
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("deployment.mode", d.Deployment.Mode)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "invoicing")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime_minutes", d.Postgres.ConnMaxLifetimeMinutes)
	v.SetDefault("postgres.query_timeout", d.Postgres.QueryTimeout)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "invoicing")

	v.SetDefault("numbering.proforma_series", d.Numbering.ProformaSeries)
	v.SetDefault("numbering.fiscal_series", d.Numbering.FiscalSeries)
	v.SetDefault("numbering.proforma_start", d.Numbering.ProformaStart)
	v.SetDefault("numbering.fiscal_start", d.Numbering.FiscalStart)
	v.SetDefault("numbering.allow_in_process_fallback", d.Numbering.AllowInProcessFallback)

	v.SetDefault("exchange_rate.local_currency", d.ExchangeRate.LocalCurrency)
	v.SetDefault("exchange_rate.foreign_currency", d.ExchangeRate.ForeignCurrency)
	v.SetDefault("exchange_rate.feed_url", d.ExchangeRate.FeedURL)
	v.SetDefault("exchange_rate.provider", d.ExchangeRate.Provider)
	v.SetDefault("exchange_rate.ttl", d.ExchangeRate.TTL)
	v.SetDefault("exchange_rate.fetch_timeout", d.ExchangeRate.FetchTimeout)

	v.SetDefault("invoice.default_currency", d.Invoice.DefaultCurrency)
	v.SetDefault("invoice.default_vat_percentage", d.Invoice.DefaultVATPercentage)
	v.SetDefault("invoice.payment_terms_days", d.Invoice.PaymentTermsDays)

	v.SetDefault("side_effects.mode", d.SideEffects.Mode)
	v.SetDefault("side_effects.step_timeout", d.SideEffects.StepTimeout)

	v.SetDefault("s3.invoice.presign_expiry_duration", "30m")
	v.SetDefault("typst.binary_path", "typst")
	v.SetDefault("typst.templates_dir", "assets/typst-templates")
	v.SetDefault("sentry.sample_rate", 1.0)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 60,
			QueryTimeout:           5 * time.Second,
		},
		Cache: CacheConfig{Backend: types.CacheBackendMemory},
		Numbering: NumberingConfig{
			ProformaSeries: "PROF",
			FiscalSeries:   "FISC",
			ProformaStart:  1000,
			FiscalStart:    1000,
		},
		ExchangeRate: ExchangeRateConfig{
			LocalCurrency:   "RON",
			ForeignCurrency: "EUR",
			FeedURL:         "https://www.bnr.ro/nbrfxrates.xml",
			Provider:        "bnr",
			TTL:             24 * time.Hour,
			FetchTimeout:    10 * time.Second,
		},
		Invoice: InvoiceConfig{
			DefaultCurrency:      "RON",
			DefaultVATPercentage: 19,
			PaymentTermsDays:     14,
		},
		SideEffects: SideEffectsConfig{
			Mode:        types.SideEffectModeSync,
			StepTimeout: 15 * time.Second,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}

// GetMigrationURL returns the postgres:// url form golang-migrate expects
func (c PostgresConfig) GetMigrationURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
		c.SSLMode,
	)
}

// DefaultVAT returns the configured default VAT percentage as a decimal
func (c InvoiceConfig) DefaultVAT() decimal.Decimal {
	return decimal.NewFromFloat(c.DefaultVATPercentage)
}

// SeriesStart returns the configured start for a known series
func (c NumberingConfig) SeriesStart() map[string]int64 {
	return map[string]int64{
		c.ProformaSeries: c.ProformaStart,
		c.FiscalSeries:   c.FiscalStart,
	}
}
