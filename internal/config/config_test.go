package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "PAYMENT_PROVIDER")
	unsetEnvWithCleanup(t, "PLATFORM_FEE_PERCENT")
	unsetEnvWithCleanup(t, "FREE_TRIAL_DAYS")
	unsetEnvWithCleanup(t, "PENDING_PAYMENT_TTL_HOURS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.PaymentProvider != "payfast" {
		t.Errorf("expected default PaymentProvider payfast, got %q", cfg.PaymentProvider)
	}
	if cfg.PlatformFeePercent != 10 {
		t.Errorf("expected default PlatformFeePercent 10, got %d", cfg.PlatformFeePercent)
	}
	if cfg.FreeTrialDays != 30 {
		t.Errorf("expected default FreeTrialDays 30, got %d", cfg.FreeTrialDays)
	}
	if cfg.PendingPaymentTTLHrs != 24 {
		t.Errorf("expected default PendingPaymentTTLHrs 24, got %d", cfg.PendingPaymentTTLHrs)
	}
}

func TestLoadConfig_PortAliasTakesPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("expected PORT to override ServerPort, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NormalizesProviderAndMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYMENT_PROVIDER", " Stripe ")
	setEnvWithCleanup(t, "PAYFAST_MODE", "production")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentProvider != "stripe" {
		t.Errorf("expected normalized provider stripe, got %q", cfg.PaymentProvider)
	}
	if cfg.PayfastMode != "sandbox" {
		t.Errorf("expected unknown mode coerced to sandbox, got %q", cfg.PayfastMode)
	}
}

func TestLoadConfig_ClampsFeePercent(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", "250")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeePercent != 100 {
		t.Fatalf("expected fee percent capped at 100, got %d", cfg.PlatformFeePercent)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
