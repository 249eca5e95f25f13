package config

import "slices"

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// safe to log at startup.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Auth.KeyringPassword)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Archive.SignerKey)
	redact(&out.Archive.SignerKeyPassword)
	redact(&out.Sync.AdminKey)
	redact(&out.Sync.AdminKeyPassword)

	if n := len(cfg.Server.APIKeys); n > 0 {
		out.Server.APIKeys = slices.Repeat([]string{redacted}, n)
	}

	// Slices are copied so the redacted value cannot alias the original.
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Server.WSOrigins = slices.Clone(cfg.Server.WSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
