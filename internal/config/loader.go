package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper points Viper at the configuration file and environment. If
// configFile is empty, standard locations are searched for ward.yaml/.yml;
// the search requires an explicit YAML extension so the binary itself is
// never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers
		// treat as env-vars-only mode.
		viper.SetConfigName("ward")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: WARD_SERVER_ADDR overrides server.addr.
	viper.SetEnvPrefix("WARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".ward"),
		"/etc/ward",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ward"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys so environment overrides work
// without a config file. Array keys (auth.api_keys) stay file-only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("policy.file")
	_ = viper.BindEnv("audit.path")
	_ = viper.BindEnv("telemetry.enabled")
	_ = viper.BindEnv("client.server_addr")
	_ = viper.BindEnv("client.timeout")
	_ = viper.BindEnv("client.infra_refresh_interval")
	_ = viper.BindEnv("client.chat_poll_interval")
}

// LoadConfig reads the configuration, applies defaults, and validates.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; env vars and defaults carry the whole config.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file path, or "" in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
