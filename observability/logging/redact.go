package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces secret values in log output.
const Redacted = "[REDACTED]"

// plainKeys may be logged verbatim by MaskField.
var plainKeys = map[string]struct{}{
	"service":        {},
	"env":            {},
	"program":        {},
	"method":         {},
	"caller":         {},
	"account":        {},
	"addr":           {},
	"driver":         {},
	"jwt_secret_env": {},
}

// MaskField logs value under key when key is known to be harmless and masks
// it otherwise. Empty values stay empty so that unset settings remain visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, Redacted)
}

// MaskDSN logs a database DSN with its password hidden. URL DSNs
// (postgres://user:pw@host/db) and keyword DSNs (host=h password=pw) are
// both understood; a sqlite file path has no password and is kept as is.
func MaskDSN(key, dsn string) slog.Attr {
	trimmed := strings.TrimSpace(dsn)
	if strings.Contains(trimmed, "://") {
		if u, err := url.Parse(trimmed); err == nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "redacted")
			}
			return slog.String(key, u.String())
		}
		return slog.String(key, Redacted)
	}
	fields := strings.Fields(trimmed)
	for i, field := range fields {
		if strings.HasPrefix(strings.ToLower(field), "password=") {
			fields[i] = "password=" + Redacted
		}
	}
	return slog.String(key, strings.Join(fields, " "))
}
