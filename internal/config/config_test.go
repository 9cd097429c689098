package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Exchanges = map[string]ExchangeConfig{
		"binance": {ApiKey: "k1", ApiSecret: "s1"},
		"hitbtc":  {ApiKey: "k2", ApiSecret: "s2"},
	}
	return cfg
}

func TestValidateAcceptsDefaultsWithCredentials(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "sideways"
	cfg.Redis.Addr = ""
	cfg.Replenish.FiatAmount = -5
	cfg.Compare.RequestsPerSecond = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate passed a broken config")
	}
	for _, want := range []string{
		`unknown mode "sideways"`,
		"redis: addr must not be empty",
		"replenish: fiat_amount must be > 0",
		"compare: requests_per_second must be >= 1",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateExchangeRules(t *testing.T) {
	tests := []struct {
		name string
		ex   ExchangeConfig
		want string
	}{
		{
			name: "missing key",
			ex:   ExchangeConfig{ApiSecret: "s"},
			want: "api_key must not be empty",
		},
		{
			name: "no secret at all",
			ex:   ExchangeConfig{ApiKey: "k"},
			want: "either api_secret or encrypted_secret_path",
		},
		{
			name: "encrypted file without password",
			ex:   ExchangeConfig{ApiKey: "k", EncryptedSecretPath: "/etc/arbot/secret.enc"},
			want: "secret_password is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Exchanges["hitbtc"] = tt.ex
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateMasterMustBeConfigured(t *testing.T) {
	cfg := validConfig()
	cfg.MasterExchange = "kraken"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `master_exchange "kraken" is not in the exchanges table`) {
		t.Errorf("err = %v, want master_exchange complaint", err)
	}
}

func TestValidateSetupModeSkipsVenueMinimum(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "setup"
	cfg.Exchanges = map[string]ExchangeConfig{
		"binance": {ApiKey: "k", ApiSecret: "s"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateS3OnlyWhenArchiveEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("archive disabled should not require s3: %v", err)
	}

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3: bucket must not be empty") {
		t.Errorf("err = %v, want s3 bucket complaint", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbot.toml")
	body := `
mode = "compare"
trade_pairs = ["ETH-BTC"]

[exchanges.binance]
api_key = "bk"
api_secret = "bs"

[exchanges.hitbtc]
api_key = "hk"
api_secret = "hs"

[jobs]
compare_interval = "2s"

[rates]
fiat = "USD"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "compare" {
		t.Errorf("Mode = %q, want compare", cfg.Mode)
	}
	if cfg.Jobs.CompareInterval.Duration != 2*time.Second {
		t.Errorf("CompareInterval = %v, want 2s", cfg.Jobs.CompareInterval.Duration)
	}
	if cfg.Rates.Fiat != "USD" {
		t.Errorf("Fiat = %q, want USD", cfg.Rates.Fiat)
	}
	// Untouched sections keep their defaults.
	if cfg.Jobs.DispatchInterval.Duration != time.Second {
		t.Errorf("DispatchInterval = %v, want default 1s", cfg.Jobs.DispatchInterval.Duration)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Postgres.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbot.toml")
	body := `
[exchanges.binance]
api_key = "file-key"
api_secret = "file-secret"

[exchanges.hitbtc]
api_key = "hk"
api_secret = "hs"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ARBOT_EXCHANGE_BINANCE_API_SECRET", "env-secret")
	t.Setenv("ARBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ARBOT_COMPARE_MAX_FIAT_EXPOSURE", "750.5")
	t.Setenv("ARBOT_TRADE_PAIRS", "ETH-BTC, XRP-BTC")
	t.Setenv("ARBOT_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Exchanges["binance"].ApiSecret; got != "env-secret" {
		t.Errorf("binance ApiSecret = %q, want env-secret", got)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Compare.MaxFiatExposure != 750.5 {
		t.Errorf("MaxFiatExposure = %v, want 750.5", cfg.Compare.MaxFiatExposure)
	}
	if len(cfg.TradePairs) != 2 || cfg.TradePairs[1] != "XRP-BTC" {
		t.Errorf("TradePairs = %v, want [ETH-BTC XRP-BTC]", cfg.TradePairs)
	}
	if cfg.Postgres.RunMigrations {
		t.Error("RunMigrations = true, want env override to false")
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "rpass"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)

	if red.Exchanges["binance"].ApiSecret != "***" || red.Exchanges["binance"].ApiKey != "***" {
		t.Errorf("exchange credentials not redacted: %+v", red.Exchanges["binance"])
	}
	if red.Postgres.Password != "***" || red.Redis.Password != "***" || red.Notify.TelegramToken != "***" {
		t.Error("store credentials not redacted")
	}

	// The original must be untouched.
	if cfg.Exchanges["binance"].ApiSecret != "s1" || cfg.Postgres.Password != "pgpass" {
		t.Error("RedactedConfig mutated the source config")
	}
}
