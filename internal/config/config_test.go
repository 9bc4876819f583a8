package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.Secrets.Driver)
	require.Equal(t, "memory", c.Store.Driver)
	require.Equal(t, "chain", c.Lifecycle.ReuseScope)
	require.Equal(t, 24*time.Hour, Duration(c.Keys.RotationInterval))
	require.Equal(t, 10*time.Minute, Duration(c.Tokens.Access.TTL))
	require.Equal(t, []string{"journal-api"}, c.Tokens.Access.Audience)
	require.Equal(t, 720*time.Hour, Duration(c.Tokens.Refresh.TTL))
}

func TestLoad_FileAndEnv(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9000"
store:
  driver: sqlite
  dsn: /tmp/auth.db
tokens:
  access:
    ttl: 5m
lifecycle:
  reuse_scope: subject
`)
	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("RATE_ENABLED", "true")
	t.Setenv("TOKENS_ACCESS_AUDIENCE", "api-a, api-b")

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, ":9100", c.Server.Addr)
	require.Equal(t, "sqlite", c.Store.Driver)
	require.Equal(t, 5*time.Minute, Duration(c.Tokens.Access.TTL))
	require.Equal(t, []string{"api-a", "api-b"}, c.Tokens.Access.Audience)
	require.Equal(t, "subject", c.Lifecycle.ReuseScope)
	require.True(t, c.Rate.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"duration":      "keys:\n  overlap: forever\n",
		"secret driver": "secrets:\n  driver: s3\n",
		"fs no key":     "secrets:\n  driver: fs\n",
		"store no dsn":  "store:\n  driver: redis\n",
		"reuse scope":   "lifecycle:\n  reuse_scope: everyone\n",
		"short history": "keys:\n  retired_grace: 24h\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestResolvePath_Precedence(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/journal-auth/config.yaml")
	require.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))
	require.Equal(t, "/etc/journal-auth/config.yaml", ResolvePath(""))
}
