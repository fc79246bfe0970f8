// Package config resolves server settings from flags, NOTESYNC_* environment variables and an optional config file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/astromechza/notesync/pkg/persist"
)

const EnvPrefix = "NOTESYNC"

const (
	KeyAddr           = "addr"
	KeyStoreDriver    = "store.driver"
	KeyStorePath      = "store.path"
	KeyFlushInterval  = "store.flush-interval"
	KeySweepInterval  = "sweep.interval"
	KeyRetention      = "sweep.retention"
	KeyCORSOrigin     = "cors.allowed-origin"
	KeyWSWriteTimeout = "ws.write-timeout"
	KeyWSPing         = "ws.ping-interval"
	KeyWSSendBuffer   = "ws.send-buffer"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
)

type Config struct {
	Addr string

	StoreDriver   string
	StorePath     string
	FlushInterval time.Duration

	SweepInterval time.Duration
	Retention     time.Duration

	AllowedOrigin string

	WSWriteTimeout time.Duration
	WSPingInterval time.Duration
	WSSendBuffer   int

	LogLevel  string
	LogFormat string
}

// New returns a viper instance carrying the defaults and the environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyAddr, "localhost:8080")
	v.SetDefault(KeyStoreDriver, persist.DriverJSON)
	v.SetDefault(KeyStorePath, "notes.json")
	v.SetDefault(KeyFlushInterval, 5*time.Minute)
	v.SetDefault(KeySweepInterval, time.Hour)
	v.SetDefault(KeyRetention, 7*24*time.Hour)
	v.SetDefault(KeyCORSOrigin, "*")
	v.SetDefault(KeyWSWriteTimeout, 10*time.Second)
	v.SetDefault(KeyWSPing, 30*time.Second)
	v.SetDefault(KeyWSSendBuffer, 32)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps flag names onto config keys. Flags that are absent from the set are ignored.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, mapping map[string]string) error {
	for flag, key := range mapping {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// ReadFile merges a config file into v when path is non-empty. The format follows the file extension.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Addr:           v.GetString(KeyAddr),
		StoreDriver:    v.GetString(KeyStoreDriver),
		StorePath:      v.GetString(KeyStorePath),
		FlushInterval:  v.GetDuration(KeyFlushInterval),
		SweepInterval:  v.GetDuration(KeySweepInterval),
		Retention:      v.GetDuration(KeyRetention),
		AllowedOrigin:  v.GetString(KeyCORSOrigin),
		WSWriteTimeout: v.GetDuration(KeyWSWriteTimeout),
		WSPingInterval: v.GetDuration(KeyWSPing),
		WSSendBuffer:   v.GetInt(KeyWSSendBuffer),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%s must not be empty", KeyAddr)
	}
	switch c.StoreDriver {
	case persist.DriverJSON, persist.DriverSQLite, persist.DriverAutomerge:
	default:
		return fmt.Errorf("%s must be one of json, sqlite, automerge: got %q", KeyStoreDriver, c.StoreDriver)
	}
	if c.StorePath == "" {
		return fmt.Errorf("%s must not be empty", KeyStorePath)
	}
	for key, d := range map[string]time.Duration{
		KeyFlushInterval:  c.FlushInterval,
		KeySweepInterval:  c.SweepInterval,
		KeyRetention:      c.Retention,
		KeyWSWriteTimeout: c.WSWriteTimeout,
		KeyWSPing:         c.WSPingInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive: got %s", key, d)
		}
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("%s must be positive: got %d", KeyWSSendBuffer, c.WSSendBuffer)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%s must be text or json: got %q", KeyLogFormat, c.LogFormat)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("%s is not a log level: %q", KeyLogLevel, s)
	}
	return l, nil
}

// Logger builds the process logger described by c.
func (c Config) Logger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
