package config

// RedactedConfig returns a deep-enough copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Copy the exchanges map so mutations do not leak back.
	if cfg.Exchanges != nil {
		out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
		for name, ex := range cfg.Exchanges {
			redact(&ex.ApiKey)
			redact(&ex.ApiSecret)
			redact(&ex.SecretPassword)
			out.Exchanges[name] = ex
		}
	}

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.TradePairs != nil {
		out.TradePairs = make([]string, len(cfg.TradePairs))
		copy(out.TradePairs, cfg.TradePairs)
	}
	if cfg.Jobs.Disabled != nil {
		out.Jobs.Disabled = make([]string, len(cfg.Jobs.Disabled))
		copy(out.Jobs.Disabled, cfg.Jobs.Disabled)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
