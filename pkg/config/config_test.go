package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 15*time.Second, cfg.Gateway.KeepaliveInterval)
	assert.Equal(t, 4, cfg.Gateway.KeepaliveThreshold)
	assert.Equal(t, 5*time.Second, cfg.Gateway.RepeatDelay)
	assert.Equal(t, "1.0", cfg.Gateway.Protocol)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
gateway:
  name: 75686f7374
  keepalive_interval: 30s
  repeat_limit: 2
broker:
  url: tcp://broker:1883
  username: gw
  backoff:
    initial: 500ms
storage:
  driver: memory
trace:
  file: gateway.ulog
  max_size: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "75686f7374", cfg.Gateway.Name)
	assert.Equal(t, 30*time.Second, cfg.Gateway.KeepaliveInterval)
	assert.Equal(t, 2, cfg.Gateway.RepeatLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Broker.Backoff.Initial)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, int64(1<<20), cfg.Trace.MaxSize)

	// Untouched fields keep their defaults.
	assert.Equal(t, 4, cfg.Gateway.KeepaliveThreshold)
	assert.Equal(t, 5*time.Second, cfg.Gateway.RepeatDelay)

	name, err := cfg.GatewayName()
	require.NoError(t, err)
	assert.Equal(t, "uhost", name)
}

func TestLoadIgnoresMasterKeyInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("masterkey: "+testKey+"\nMasterKey: "+testKey+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.MasterKey)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvMasterKey:     testKey,
		EnvName:          "75686f7374",
		EnvBrokerURL:     " tcp://other:1883 ",
		EnvStorageDriver: DriverMemory,
		EnvLogLevel:      "debug",
		EnvTraceFile:     "",
	}))
	require.NoError(t, err)

	assert.Len(t, cfg.MasterKey, MasterKeySize)
	assert.Equal(t, "tcp://other:1883", cfg.Broker.URL)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.Trace.File)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvMasterKey(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing", map[string]string{}},
		{"blank", map[string]string{EnvMasterKey: "  "}},
		{"not hex", map[string]string{EnvMasterKey: "zz" + testKey[2:]}},
		{"short", map[string]string{EnvMasterKey: testKey[:62]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().ApplyEnv(env(tt.vars))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMasterKey))
			assert.NotContains(t, err.Error(), testKey[2:])
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Gateway.Name = "75686f7374"
		cfg.MasterKey, _ = ParseMasterKey(testKey)
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"no name", func(c *Config) { c.Gateway.Name = "" }, ErrInvalid},
		{"name not hex", func(c *Config) { c.Gateway.Name = "uhost" }, ErrInvalid},
		{"bad protocol", func(c *Config) { c.Gateway.Protocol = "one" }, ErrInvalid},
		{"unsupported protocol", func(c *Config) { c.Gateway.Protocol = "9.0" }, ErrInvalid},
		{"zero interval", func(c *Config) { c.Gateway.KeepaliveInterval = 0 }, ErrInvalid},
		{"zero threshold", func(c *Config) { c.Gateway.KeepaliveThreshold = 0 }, ErrInvalid},
		{"negative repeat limit", func(c *Config) { c.Gateway.RepeatLimit = -1 }, ErrInvalid},
		{"zero queue", func(c *Config) { c.Gateway.InboundQueue = 0 }, ErrInvalid},
		{"negative rate", func(c *Config) { c.Gateway.Rate = -1 }, ErrInvalid},
		{"no broker", func(c *Config) { c.Broker.URL = "" }, ErrInvalid},
		{"negative trace size", func(c *Config) { c.Trace.MaxSize = -1 }, ErrInvalid},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, ErrInvalid},
		{"sqlite without dsn", func(c *Config) { c.Storage.DSN = "" }, ErrInvalid},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalid},
		{"no master key", func(c *Config) { c.MasterKey = nil }, ErrMasterKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestSecretNeverPrints(t *testing.T) {
	key, err := ParseMasterKey(testKey)
	require.NoError(t, err)

	cfg := Default()
	cfg.MasterKey = key

	for _, s := range []string{
		fmt.Sprint(key),
		fmt.Sprintf("%v", key),
		fmt.Sprintf("%s", key),
		fmt.Sprintf("%#v", key),
		cfg.Summary(),
	} {
		assert.NotContains(t, s, testKey[:16])
	}

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("loaded", "master_key", key)
	assert.Contains(t, buf.String(), "master_key=[REDACTED]")
	assert.NotContains(t, buf.String(), "0001020304")
}

func TestSummaryOmitsPassword(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Name = "75686f7374"
	cfg.Broker.Username = "gw"
	cfg.Broker.Password = "hunter2"

	s := cfg.Summary()
	assert.Contains(t, s, "uhost")
	assert.Contains(t, s, "gw")
	assert.NotContains(t, s, "hunter2")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
