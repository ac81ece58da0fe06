/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort        string `mapstructure:"SERVER_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RabbitMQURL       string `mapstructure:"RABBITMQ_URL"`
	RedisURL          string `mapstructure:"REDIS_URL"`
	NotifyDedupPrefix string `mapstructure:"NOTIFY_DEDUP_PREFIX"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	ClientOrigin      string `mapstructure:"CLIENT_ORIGIN"`
	CallbackBaseURL   string `mapstructure:"CALLBACK_BASE_URL"`

	// Gateway variant selection and credentials.
	PaymentProvider    string `mapstructure:"PAYMENT_PROVIDER"` // payfast | stripe
	PayfastMerchantID  string `mapstructure:"PAYFAST_MERCHANT_ID"`
	PayfastMerchantKey string `mapstructure:"PAYFAST_MERCHANT_KEY"`
	PayfastPassphrase  string `mapstructure:"PAYFAST_PASSPHRASE"`
	PayfastMode        string `mapstructure:"PAYFAST_MODE"` // sandbox | live
	StripeSecretKey    string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookKey   string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	// Fee policy and reconciliation knobs.
	PlatformFeePercent    int64  `mapstructure:"PLATFORM_FEE_PERCENT"`
	FreeTrialDays         int    `mapstructure:"FREE_TRIAL_DAYS"`
	PendingPaymentTTLHrs  int    `mapstructure:"PENDING_PAYMENT_TTL_HOURS"`
	NotifyDedupTTLMinutes int    `mapstructure:"NOTIFY_DEDUP_TTL_MINUTES"`
	ReconcileSchedule     string `mapstructure:"RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYMENT_PROVIDER", "payfast")
	viper.SetDefault("PAYFAST_MODE", "sandbox")
	viper.SetDefault("NOTIFY_DEDUP_PREFIX", "oddjobs:notify_dedup")
	viper.SetDefault("PLATFORM_FEE_PERCENT", 10)
	viper.SetDefault("FREE_TRIAL_DAYS", 30)
	viper.SetDefault("PENDING_PAYMENT_TTL_HOURS", 24)
	viper.SetDefault("NOTIFY_DEDUP_TTL_MINUTES", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", "@hourly")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("NOTIFY_DEDUP_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CLIENT_ORIGIN")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("PAYMENT_PROVIDER")
	_ = viper.BindEnv("PAYFAST_MERCHANT_ID")
	_ = viper.BindEnv("PAYFAST_MERCHANT_KEY")
	_ = viper.BindEnv("PAYFAST_PASSPHRASE")
	_ = viper.BindEnv("PAYFAST_MODE")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("FREE_TRIAL_DAYS")
	_ = viper.BindEnv("PENDING_PAYMENT_TTL_HOURS")
	_ = viper.BindEnv("NOTIFY_DEDUP_TTL_MINUTES")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.PaymentProvider = strings.ToLower(strings.TrimSpace(config.PaymentProvider))
	if config.PaymentProvider == "" {
		config.PaymentProvider = "payfast"
	}
	config.PayfastMode = strings.ToLower(strings.TrimSpace(config.PayfastMode))
	if config.PayfastMode != "live" {
		config.PayfastMode = "sandbox"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.NotifyDedupPrefix = strings.TrimSpace(config.NotifyDedupPrefix)
	if config.NotifyDedupPrefix == "" {
		config.NotifyDedupPrefix = "oddjobs:notify_dedup"
	}
	config.CallbackBaseURL = strings.TrimSuffix(strings.TrimSpace(config.CallbackBaseURL), "/")

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%d", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%d", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}
	if config.FreeTrialDays < 0 {
		config.FreeTrialDays = 0
	}
	if config.PendingPaymentTTLHrs <= 0 {
		config.PendingPaymentTTLHrs = 24
	}
	if config.NotifyDedupTTLMinutes <= 0 {
		config.NotifyDedupTTLMinutes = 60
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "@hourly"
	}

	return
}
