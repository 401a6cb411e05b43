// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/spf13/viper"
)

const (
	DefaultSyncInterval = 30 * time.Minute
	DefaultReportDelay  = 300 * time.Millisecond
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type credentials struct {
	IssuerID       string `mapstructure:"issuer_id"`
	KeyID          string `mapstructure:"key_id"`
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

type api struct {
	BaseURL      string        `mapstructure:"base_url"`
	Proxy        string        `mapstructure:"proxy"`
	Insecure     bool          `mapstructure:"insecure"`
	VendorNumber string        `mapstructure:"vendor_number"`
	ReportDelay  time.Duration `mapstructure:"report_delay"`
}

type store struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type cache struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type icons struct {
	Dir string `mapstructure:"dir"`
}

type syncing struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Config is the configuration struct
type Config struct {
	Credentials credentials `mapstructure:"credentials"`
	API         api         `mapstructure:"api"`
	Store       store       `mapstructure:"store"`
	Cache       cache       `mapstructure:"cache"`
	Icons       icons       `mapstructure:"icons"`
	Sync        syncing     `mapstructure:"sync"`
}

// Dir returns the reviewsync config directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %v", err)
	}
	return filepath.Join(home, ".config", "reviewsync"), nil
}

// APICredentials returns the credentials from the config file, if any.
func (c *Config) APICredentials() model.Credentials {
	return model.Credentials{
		IssuerID:   c.Credentials.IssuerID,
		KeyID:      c.Credentials.KeyID,
		PrivateKey: c.Credentials.PrivateKey,
	}
}

func (c *Config) verify() error {
	if c.Credentials.PrivateKey == "" && c.Credentials.PrivateKeyPath != "" {
		data, err := os.ReadFile(c.Credentials.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("config: failed to read private key: %v", err)
		}
		c.Credentials.PrivateKey = string(data)
	}

	if c.API.ReportDelay <= 0 {
		c.API.ReportDelay = DefaultReportDelay
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = DefaultSyncInterval
	}

	dir, err := Dir()
	if err != nil {
		return err
	}

	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case "", BackendMemory:
		c.Store.Backend = BackendMemory
	case BackendSqlite:
		if c.Store.Path == "" {
			c.Store.Path = filepath.Join(dir, "records.db")
		}
	case BackendPostgres:
		if c.Store.Host == "" || c.Store.Port == "" || c.Store.User == "" || c.Store.Database == "" {
			return fmt.Errorf("config: store 'host', 'port', 'user' and 'database' are required for postgres")
		}
	case BackendRedis:
		if c.Store.URL == "" {
			return fmt.Errorf("config: store 'url' is required for redis")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	switch c.Cache.Backend {
	case "", BackendSqlite:
		c.Cache.Backend = BackendSqlite
		if c.Cache.Path == "" {
			c.Cache.Path = filepath.Join(dir, "reviews.db")
		}
	case BackendMemory:
		if c.Cache.Path == "" {
			c.Cache.Path = filepath.Join(dir, "reviews.gob")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	if c.Icons.Dir == "" {
		c.Icons.Dir = filepath.Join(dir, "icons")
	}

	return nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return loadFrom(viper.GetViper())
}

func loadFrom(v *viper.Viper) (*Config, error) {
	var c *Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
