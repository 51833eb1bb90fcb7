// Package conf loads and provides access to application settings.
// Settings are read from a YAML config file via viper, with environment
// variable overrides and generated defaults.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// BirdReportSettings contains settings for the source platform client.
type BirdReportSettings struct {
	Token      string        // X-Auth-Token session token
	BaseURL    string        // API base URL
	PageSize   int           // page size for member report searches
	RetryLimit int           // attempts per request for 5xx/transport failures
	Timeout    time.Duration // HTTP timeout
}

// EBirdSettings contains settings for the target platform client.
type EBirdSettings struct {
	APIKey      string        // eBird API token
	BaseURL     string        // API base URL
	Locale      string        // locale for region names, e.g. zh_SIM
	CacheTTL    time.Duration // in-memory cache TTL for hotspot/region lookups
	RateLimitMS int           // milliseconds between requests
}

// SentrySettings controls optional error telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting
	DSN     string // Sentry DSN, empty disables reporting
}

// Settings holds all application configuration.
type Settings struct {
	Debug bool // true to enable debug output

	Database struct {
		Path string // directory holding hotspot snapshots, taxon maps, caches
	}
	Output struct {
		Path string // directory for generated CSV chunks and session caches
	}

	BirdReport BirdReportSettings
	EBird      EBirdSettings
	Sentry     SentrySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the application settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		var err error
		settingsInstance, err = Load()
		if err != nil {
			log.Fatalf("Error loading settings: %v", err)
		}
	})
	return GetSettings()
}

// GetSettings returns the current settings instance without triggering a load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load reads the configuration file and returns the populated settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("COMMONBIRD")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file yet, create one from defaults so tokens can be
		// persisted later.
		configPath := filepath.Join(configPaths[0], "config.yaml")
		if err := createDefaultConfig(configPath); err != nil {
			return err
		}
		viper.SetConfigFile(configPath)
		return viper.ReadInConfig()
	}

	return nil
}

// GetDefaultConfigPaths returns the config file search path, preferring the
// user config directory and falling back to the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return []string{"."}, nil //nolint:nilerr // fall back to cwd when HOME is unset
	}
	return []string{filepath.Join(configDir, "commonbird"), "."}, nil
}

// SaveToken persists a token value into the loaded config file and the
// in-memory settings.
func SaveToken(key, token string) error {
	viper.Set(key, token)
	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
