package config

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: credentials are masked
// and slices are copied so the original cannot be mutated through it.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	// RPC URLs commonly embed a provider key in the path.
	redact(&out.Chain.RPCURL)

	out.Tokens = append([]TokenConfig(nil), cfg.Tokens...)
	out.Valuation.StablePegs = append([]string(nil), cfg.Valuation.StablePegs...)
	out.Valuation.Backing = append([]BackingConfig(nil), cfg.Valuation.Backing...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Watch.Viewers = append([]string(nil), cfg.Watch.Viewers...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
