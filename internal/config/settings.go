package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Settings keys.
const (
	KeyIssuerID     = "credentials.issuer_id"
	KeyKeyID        = "credentials.key_id"
	KeyPrivateKey   = "credentials.private_key"
	KeyVendorNumber = "api.vendor_number"
	KeyLastSyncDate = "sync.last_sync_date"
	KeyAutoSync     = "sync.auto"
	KeyHiddenApps   = "apps.hidden"
	KeyAppOrder     = "apps.order"
)

// LastCheckedKey is the key of the date an app's reviews were last looked at.
func LastCheckedKey(appID string) string { return "apps.last_checked." + appID }

// DownloadsKey is the key of an app's cached 30-day download count.
func DownloadsKey(appID string) string { return "downloads." + appID }

// DownloadsFetchedKey is the key of the date DownloadsKey was last refreshed.
func DownloadsFetchedKey(appID string) string { return "downloads_fetched." + appID }

// Settings is a small persisted key-value store for local preferences.
type Settings interface {
	Get(key string) any
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetTime(key string) time.Time
	GetStringSlice(key string) []string
	Set(key string, value any) error
	Delete(key string) error
}

// ViperSettings keeps settings in a viper instance and writes them back to
// its config file, if it has one.
type ViperSettings struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewViperSettings wraps v; nil means the global viper.
func NewViperSettings(v *viper.Viper) *ViperSettings {
	if v == nil {
		v = viper.GetViper()
	}
	return &ViperSettings{v: v}
}

func (s *ViperSettings) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Get(key)
}

func (s *ViperSettings) GetString(key string) string { return cast.ToString(s.Get(key)) }
func (s *ViperSettings) GetBool(key string) bool     { return cast.ToBool(s.Get(key)) }
func (s *ViperSettings) GetInt(key string) int       { return cast.ToInt(s.Get(key)) }
func (s *ViperSettings) GetTime(key string) time.Time {
	return toTime(s.Get(key))
}
func (s *ViperSettings) GetStringSlice(key string) []string {
	return cast.ToStringSlice(s.Get(key))
}

func (s *ViperSettings) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339Nano)
	}
	s.v.Set(key, value)
	return s.persist()
}

func (s *ViperSettings) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, nil)
	return s.persist()
}

func (s *ViperSettings) persist() error {
	if s.v.ConfigFileUsed() == "" {
		return nil
	}
	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("config: failed to write settings: %w", err)
	}
	return nil
}

// MemorySettings is a Settings that is not persisted.
type MemorySettings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemorySettings creates empty settings.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{values: make(map[string]any)}
}

func (s *MemorySettings) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *MemorySettings) GetString(key string) string { return cast.ToString(s.Get(key)) }
func (s *MemorySettings) GetBool(key string) bool     { return cast.ToBool(s.Get(key)) }
func (s *MemorySettings) GetInt(key string) int       { return cast.ToInt(s.Get(key)) }
func (s *MemorySettings) GetTime(key string) time.Time {
	return toTime(s.Get(key))
}
func (s *MemorySettings) GetStringSlice(key string) []string {
	return cast.ToStringSlice(s.Get(key))
}

func (s *MemorySettings) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemorySettings) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func toTime(v any) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
