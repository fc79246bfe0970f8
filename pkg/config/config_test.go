package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", c.Addr)
	assert.Equal(t, "json", c.StoreDriver)
	assert.Equal(t, 5*time.Minute, c.FlushInterval)
	assert.Equal(t, time.Hour, c.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, c.Retention)
	assert.Equal(t, "*", c.AllowedOrigin)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("NOTESYNC_STORE_DRIVER", "sqlite")
	t.Setenv("NOTESYNC_SWEEP_RETENTION", "48h")

	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.StoreDriver)
	assert.Equal(t, 48*time.Hour, c.Retention)
}

func TestLoad_FlagsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: /tmp/x.automerge\n  driver: automerge\n"), 0o644))

	v := New()
	require.NoError(t, ReadFile(v, path))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "localhost:8080", "")
	require.NoError(t, flags.Parse([]string{"--addr", "0.0.0.0:9000"}))
	require.NoError(t, BindFlags(v, flags, map[string]string{"addr": KeyAddr, "missing": KeyStorePath}))

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, "automerge", c.StoreDriver)
	assert.Equal(t, "/tmp/x.automerge", c.StorePath)
}

func TestValidate(t *testing.T) {
	base, err := Load(New())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "badger" }},
		{"empty path", func(c *Config) { c.StorePath = "" }},
		{"zero retention", func(c *Config) { c.Retention = 0 }},
		{"negative flush", func(c *Config) { c.FlushInterval = -time.Second }},
		{"zero buffer", func(c *Config) { c.WSSendBuffer = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	assert.NoError(t, ReadFile(New(), ""))
	assert.Error(t, ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml")))
}
