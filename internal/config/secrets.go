package config

import (
	"net/url"
)

// MaskSecret returns a masked version of a secret for display.
// Shows the first 3 and last 2 characters of long secrets.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "..." + s[len(s)-2:]
}

// MaskDSN hides the password in a URL-form connection string. Strings that
// do not parse as URLs are masked entirely.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// Redacted returns a copy of cfg with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Storage.Redis.Password != "" {
		out.Storage.Redis.Password = MaskSecret(out.Storage.Redis.Password)
	}
	if out.Storage.Postgres.DSN != "" {
		out.Storage.Postgres.DSN = MaskDSN(out.Storage.Postgres.DSN)
	}
	return &out
}
