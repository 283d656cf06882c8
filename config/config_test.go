package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/docsync/pkg/logger"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeFile(t, `
http:
  addr: ":8080"
grpc:
  addr: ":9090"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadHeaderTimeout)
	assert.Equal(t, int64(1<<20), cfg.WS.MaxMessageSize)
	assert.Equal(t, 256, cfg.WS.SendQueue)
	assert.Equal(t, 60*time.Second, cfg.WS.PongWait)
	assert.Equal(t, 54*time.Second, cfg.WS.PingPeriod)
	assert.Equal(t, 32, cfg.Registry.Shards)
	assert.Equal(t, "docsync-relay", cfg.Logging.Service)
	assert.Equal(t, "std", cfg.Logging.Backend)
}

func TestLoad_ParsesDurations(t *testing.T) {
	p := writeFile(t, `
http:
  addr: ":8080"
  shutdownTimeout: 3s
grpc:
  addr: ":9090"
ws:
  pongWait: 20s
  pingPeriod: 15s
  allowedOrigins: ["http://localhost:3000"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.WS.PingPeriod)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.WS.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing http addr", "grpc:\n  addr: \":9090\"\n"},
		{"missing grpc addr", "http:\n  addr: \":8080\"\n"},
		{"ping not shorter than pong", "http:\n  addr: \":8080\"\ngrpc:\n  addr: \":9090\"\nws:\n  pongWait: 10s\n  pingPeriod: 10s\n"},
		{"dsn without secret", "http:\n  addr: \":8080\"\ngrpc:\n  addr: \":9090\"\npostgres:\n  dsn: postgres://x\n"},
		{"bad yaml", "http: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":18080")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/docs")

	cfg, err := Load(writeFile(t, "http:\n  addr: \":8080\"\ngrpc:\n  addr: \":9090\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.HTTP.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://localhost/docs", cfg.Postgres.DSN)
}

func TestLoadConfig_UsesConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeFile(t, "http:\n  addr: \":7000\"\ngrpc:\n  addr: \":7001\"\n"))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestLogging_Logger(t *testing.T) {
	lc := Logging{Env: "production", Service: "svc", Version: "v1", Backend: "zap", Debug: true}.Logger()
	assert.Equal(t, logger.EnvProd, lc.Env)
	assert.Equal(t, logger.BackendZap, lc.Backend)
	assert.Equal(t, "svc", lc.Service)
	assert.True(t, lc.Debug)
}

func TestLoadClient(t *testing.T) {
	t.Run("missing file gives defaults", func(t *testing.T) {
		c, err := LoadClient(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:8080", c.RelayURL)
		assert.Equal(t, "http://localhost:8080", c.DocumentURL)
		assert.Equal(t, "Anonymous", c.DisplayName)
		assert.Equal(t, 5, c.ReconnectAttempts)
		assert.Equal(t, time.Second, c.ReconnectDelay)
		assert.Equal(t, 10*time.Second, c.ReconnectMaxDelay)
		require.NotNil(t, c.SyncTimeout)
		assert.Equal(t, 2*time.Second, *c.SyncTimeout)
		assert.Equal(t, "http", c.Store)
	})

	t.Run("explicit zero sync timeout survives", func(t *testing.T) {
		c, err := LoadClient(writeFile(t, "relayURL: wss://relay.example\nsyncTimeout: 0s\n"))
		require.NoError(t, err)
		require.NotNil(t, c.SyncTimeout)
		assert.Zero(t, *c.SyncTimeout)
		assert.Equal(t, "https://relay.example", c.DocumentURL)
	})

	t.Run("unknown store", func(t *testing.T) {
		_, err := LoadClient(writeFile(t, "store: redis\n"))
		assert.Error(t, err)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("RELAY_URL", "ws://relay:9000")
		t.Setenv("DOC_TOKEN", "tok")
		c, err := LoadClient("")
		require.NoError(t, err)
		assert.Equal(t, "ws://relay:9000", c.RelayURL)
		assert.Equal(t, "tok", c.Credential)
	})
}
