// Package config loads application settings from defaults, an optional
// YAML or JSON file, command-line flags and environment variables. Settings
// are addressed by slash-separated paths such as "remember/cookie_name".
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Setting paths.
const (
	KeyAddress            = "server/address"
	KeyTLSCert            = "server/tls_cert"
	KeyTLSKey             = "server/tls_key"
	KeyDBDriver           = "database/driver"
	KeyDBDSN              = "database/dsn"
	KeyMySQLHost          = "mysql/host"
	KeyMySQLUser          = "mysql/username"
	KeyMySQLPassword      = "mysql/password"
	KeyMySQLDB            = "mysql/db"
	KeyRememberCookie     = "remember/cookie_name"
	KeyRememberExpiry     = "remember/cookie_expiry"
	KeySessionName        = "session/session_name"
	KeyTokenName          = "session/token_name"
	KeySessionCookie      = "session/cookie_name"
	KeySessionLifetime    = "session/lifetime"
	KeyCookieBannerExpiry = "cookies/banner_expiry"
	KeyCleanerInterval    = "cleaner/interval"
	KeyLogLevel           = "log/level"
)

const delim = "/"

// defaults are applied before any other source.
var defaults = map[string]any{
	KeyAddress:            "localhost:8080",
	KeyTLSCert:            "",
	KeyTLSKey:             "",
	KeyDBDriver:           "mysql",
	KeyDBDSN:              "",
	KeyMySQLHost:          "127.0.0.1",
	KeyMySQLUser:          "root",
	KeyMySQLPassword:      "",
	KeyMySQLDB:            "test1",
	KeyRememberCookie:     "hash",
	KeyRememberExpiry:     604800,
	KeySessionName:        "user",
	KeyTokenName:          "token",
	KeySessionCookie:      "sid",
	KeySessionLifetime:    86400,
	KeyCookieBannerExpiry: 2592000,
	KeyCleanerInterval:    3600,
	KeyLogLevel:           "info",
}

// flagKeys maps command-line flag names to setting paths.
var flagKeys = map[string]string{
	"address":   KeyAddress,
	"tls-cert":  KeyTLSCert,
	"tls-key":   KeyTLSKey,
	"db-driver": KeyDBDriver,
	"dsn":       KeyDBDSN,
	"log-level": KeyLogLevel,
}

// Config is a loaded, read-only settings tree.
type Config struct {
	k *koanf.Koanf
}

// RegisterFlags declares the settings that may be given on the command line.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("address", "a", "localhost:8080", "run on ip:port server")
	fs.String("tls-cert", "", "path to TLS certificate; serves HTTPS when set with --tls-key")
	fs.String("tls-key", "", "path to TLS private key")
	fs.String("db-driver", "mysql", "database driver: mysql, postgres, pgx or memory")
	fs.StringP("dsn", "d", "", "database connection string")
	fs.String("log-level", "info", "log level")
	fs.StringP("config", "c", "config.yaml", "path to YAML or JSON config file")
}

// Load builds the settings from defaults, the config file named by the
// "config" flag (or $CONFIG), changed flags, then $SERVER_ADDRESS and
// $DATABASE_DSN. A missing config file is not an error; a non-positive
// duration setting is.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	path, _ := flags.GetString("config")
	if env := os.Getenv("CONFIG"); env != "" {
		path = env
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error while reading config file: %w", err)
		}
	}

	err := k.Load(posflag.ProviderWithFlag(flags, delim, k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	for env, key := range map[string]string{"SERVER_ADDRESS": KeyAddress, "DATABASE_DSN": KeyDBDSN} {
		if v := os.Getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("env %s: %w", env, err)
			}
		}
	}

	cfg := &Config{k: k}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationKeys are the settings that must hold a positive number of seconds.
var durationKeys = []string{
	KeyRememberExpiry,
	KeySessionLifetime,
	KeyCookieBannerExpiry,
	KeyCleanerInterval,
}

func (c *Config) validate() error {
	for _, key := range durationKeys {
		if c.Seconds(key) <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds, got %q", key, c.String(key))
		}
	}
	return nil
}

// Default returns the built-in settings.
func Default() *Config {
	k := koanf.New(delim)
	for key, val := range defaults {
		_ = k.Set(key, val)
	}
	return &Config{k: k}
}

// Lookup returns the value at path, or false when any segment is missing.
func (c *Config) Lookup(path string) (any, bool) {
	if !c.k.Exists(path) {
		return nil, false
	}
	return c.k.Get(path), true
}

// String returns the value at path as a string.
func (c *Config) String(path string) string { return c.k.String(path) }

// Int returns the value at path as an int.
func (c *Config) Int(path string) int { return c.k.Int(path) }

// Seconds returns the integer value at path as a duration in seconds.
func (c *Config) Seconds(path string) time.Duration {
	return time.Duration(c.k.Int64(path)) * time.Second
}

// Driver returns the configured database driver name.
func (c *Config) Driver() string { return c.String(KeyDBDriver) }

// DSN returns the database connection string. For MySQL without an explicit
// DSN one is assembled from the mysql/* settings.
func (c *Config) DSN() string {
	if dsn := c.String(KeyDBDSN); dsn != "" || c.Driver() != "mysql" {
		return dsn
	}
	cfg := mysql.NewConfig()
	cfg.User = c.String(KeyMySQLUser)
	cfg.Passwd = c.String(KeyMySQLPassword)
	cfg.Net = "tcp"
	cfg.Addr = c.String(KeyMySQLHost)
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "3306")
	}
	cfg.DBName = c.String(KeyMySQLDB)
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}
