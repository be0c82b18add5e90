package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "oracled", Env: "devnet", Level: "debug"})
	logger.Debug("hello", MaskField("jwt_secret", "s3cret"), MaskField("program", "oracle"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "oracled", line["service"])
	require.Equal(t, "devnet", line["env"])
	require.Equal(t, Redacted, line["jwt_secret"])
	require.Equal(t, "oracle", line["program"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestMaskDSNHidesPasswords(t *testing.T) {
	cases := map[string]string{
		"postgres://audit:hunter2@db:5432/fporacle?sslmode=disable": "postgres://audit:redacted@db:5432/fporacle?sslmode=disable",
		"host=db user=audit password=hunter2 dbname=fporacle":       "host=db user=audit password=[REDACTED] dbname=fporacle",
		"fporacle-data/audit.db":                                    "fporacle-data/audit.db",
	}
	for dsn, want := range cases {
		attr := MaskDSN("audit_dsn", dsn)
		require.Equal(t, want, attr.Value.String(), dsn)
		require.NotContains(t, attr.Value.String(), "hunter2")
	}
}

func TestMaskFieldKeepsUnsetValues(t *testing.T) {
	require.Equal(t, " ", MaskField("jwt_secret", " ").Value.String())
	require.Equal(t, Redacted, MaskField("JWT_Secret", "abc").Value.String())
	require.Equal(t, "FPORACLE_JWT_SECRET", MaskField("jwt_secret_env", "FPORACLE_JWT_SECRET").Value.String())
}
