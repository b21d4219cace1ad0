package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CollabConfig struct {
	// PersistDebounce is the quiet window before converged document
	// state is flushed to the store.
	PersistDebounce time.Duration `mapstructure:"persist_debounce"`
	// StoreTimeout bounds every store and identity call so a stalled
	// backend never holds a room hostage.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	// MutationPath selects which write path owns structural edits:
	// "crdt" (default) or "queue".
	MutationPath string `mapstructure:"mutation_path"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Collab      CollabConfig  `mapstructure:"collab"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("collab.persist_debounce", "2s")
	v.SetDefault("collab.store_timeout", "5s")
	v.SetDefault("collab.mutation_path", "crdt")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
