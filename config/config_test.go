package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
debug = true

[log]
filename = "test.log"

[server]
enabled = true
host = "0.0.0.0"
port = 9000
web_root = "web"

[environment]
file = "home.jsonc"

[database]
file = "test.db"

[philips_hue]
enabled = true
address = "192.168.1.20"

[panel]
enabled = true
server_url = "ws://example:9000/ws"
backoff_initial = "1s"
backoff_max = "1m"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "test.log", cfg.Log.Filename)
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr())
	assert.Equal(t, "web", cfg.Server.WebRoot)
	assert.Equal(t, "home.jsonc", cfg.Environment.File)
	assert.Equal(t, "test.db", cfg.Database.File)
	assert.True(t, cfg.PhilipsHue.Enabled)
	assert.Equal(t, "192.168.1.20", cfg.PhilipsHue.Address)
	// untouched keys keep their default
	assert.Equal(t, "home-control#server", cfg.PhilipsHue.DeviceType)
	assert.Equal(t, "ws://example:9000/ws", cfg.Panel.ServerURL)

	initial, limit, err := cfg.PanelBackoff()
	require.NoError(t, err)
	assert.Equal(t, time.Second, initial)
	assert.Equal(t, time.Minute, limit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "[server\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "[server]\nportt = 1\n"))
	assert.ErrorContains(t, err, "server.portt")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"nothing enabled", func(c *Config) { c.Server.Enabled = false }, false},
		{"panel only", func(c *Config) { c.Server.Enabled = false; c.Panel.Enabled = true }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"no environment", func(c *Config) { c.Environment.File = "" }, false},
		{"tls without files", func(c *Config) { c.TLS.Enabled = true }, false},
		{"hue without address", func(c *Config) { c.PhilipsHue.Enabled = true }, false},
		{"bad backoff", func(c *Config) { c.Panel.Enabled = true; c.Panel.BackoffInitial = "soon" }, false},
		{"backoff max below initial", func(c *Config) { c.Panel.Enabled = true; c.Panel.BackoffMax = "100ms" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCommandLineArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	args := parseCommandLineArgs(fs, []string{"-port", "9090", "-panel", "-server=false", "-environment", "env.json"})

	assert.True(t, args.ServerPortSpecified)
	assert.False(t, args.ServerHostSpecified)
	assert.False(t, args.ConfigSpecified)

	cfg := NewConfig()
	cfg.Server.Host = "from-file"
	cfg.ApplyCommandLineArgs(args)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Server.Host, "flags not given keep the file value")
	assert.False(t, cfg.Server.Enabled)
	assert.True(t, cfg.Panel.Enabled)
	assert.Equal(t, "env.json", cfg.Environment.File)
}
