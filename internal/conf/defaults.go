package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// setDefaults registers default configuration values with viper.
func setDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("database.path", "database")
	viper.SetDefault("output.path", ".")

	viper.SetDefault("birdreport.token", "")
	viper.SetDefault("birdreport.baseurl", "https://api.birdreport.cn")
	viper.SetDefault("birdreport.pagesize", 200)
	viper.SetDefault("birdreport.retrylimit", 3)
	viper.SetDefault("birdreport.timeout", 30*time.Second)

	viper.SetDefault("ebird.apikey", "")
	viper.SetDefault("ebird.baseurl", "https://api.ebird.org/v2")
	viper.SetDefault("ebird.locale", "zh_SIM")
	viper.SetDefault("ebird.cachettl", 24*time.Hour)
	viper.SetDefault("ebird.ratelimitms", 100)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}

// createDefaultConfig writes a config file populated with the registered
// defaults so tokens entered later have somewhere to be persisted.
func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	yamlData, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}
