package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type SyncConfig struct {
	BackendURL          string `mapstructure:"backend_url"`
	PullIntervalMinutes int    `mapstructure:"pull_interval_minutes"`
	VersionCheckHours   int    `mapstructure:"version_check_hours"`
}

type EnforceConfig struct {
	PermanentBlockList []string `mapstructure:"permanent_block_list"`
	AllowList          []string `mapstructure:"allow_list"`
	BlockKeywords      []string `mapstructure:"block_keywords"`
	BlockedPage        string   `mapstructure:"blocked_page"`
}

type CollectorConfig struct {
	Enabled                   bool `mapstructure:"enabled"`
	CollectionIntervalSeconds int  `mapstructure:"collection_interval_seconds"`
}

type Config struct {
	DatabasePath string          `mapstructure:"database_path"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Enforce      EnforceConfig   `mapstructure:"enforce"`
	Collector    CollectorConfig `mapstructure:"collector"`
	// Presets map a session name to its duration in minutes.
	Presets map[string]int `mapstructure:"presets"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/focusd")
		viper.AddConfigPath("/etc/focusd/")
	}

	viper.SetEnvPrefix("FOCUSD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("database_path", "focusd.db")
	viper.SetDefault("sync.backend_url", "https://api.focusmode.app")
	viper.SetDefault("sync.pull_interval_minutes", 15)
	viper.SetDefault("sync.version_check_hours", 6)
	viper.SetDefault("enforce.permanent_block_list", []string{})
	viper.SetDefault("enforce.allow_list", []string{})
	viper.SetDefault("enforce.block_keywords", []string{})
	viper.SetDefault("enforce.blocked_page", "focusd://blocked")
	viper.SetDefault("collector.enabled", true)
	viper.SetDefault("collector.collection_interval_seconds", 2)
	viper.SetDefault("presets", map[string]int{
		"pomodoro": 25,
		"deep":     90,
		"marathon": 180,
	})

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Sync.PullIntervalMinutes < 1 {
		log.Println("Warning: sync.pull_interval_minutes too low, setting to 1")
		cfg.Sync.PullIntervalMinutes = 1
	}
	if cfg.Collector.CollectionIntervalSeconds < 1 {
		log.Println("Warning: collector.collection_interval_seconds too low, setting to 1")
		cfg.Collector.CollectionIntervalSeconds = 1
	}

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

// Watch re-reads the config whenever the file changes and hands the fresh
// Config to onChange. Used to hot-reload the enforcement lists without a
// daemon restart.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s", e.Name)
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			log.Printf("Warning: failed to reload config: %v", err)
			return
		}
		onChange(&cfg)
	})
	viper.WatchConfig()
}
