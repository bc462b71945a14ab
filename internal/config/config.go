package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL    string
	PackageID string
	Module    string
	BatchSize int

	PGDSN string

	OracleURL    string
	OracleAPIKey string

	ListenAddr string
	PollCron   string
	SyncCron   string

	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("module", "vault")
	v.SetDefault("batch-size", 50)
	v.SetDefault("oracle-url", "https://coins.llama.fi")
	v.SetDefault("listen", ":8080")
	v.SetDefault("poll-cron", "0 * * * * *")
	v.SetDefault("sync-cron", "0 0 * * * *")
	v.SetDefault("workers", 4)
	v.SetDefault("max-attempts", 3)
	v.SetDefault("retry-backoff", 2*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:       v.GetString("rpc"),
		PackageID:    v.GetString("package"),
		Module:       v.GetString("module"),
		BatchSize:    v.GetInt("batch-size"),
		PGDSN:        v.GetString("pg-dsn"),
		OracleURL:    v.GetString("oracle-url"),
		OracleAPIKey: v.GetString("oracle-apikey"),
		ListenAddr:   v.GetString("listen"),
		PollCron:     v.GetString("poll-cron"),
		SyncCron:     v.GetString("sync-cron"),
		Workers:      v.GetInt("workers"),
		MaxAttempts:  v.GetInt("max-attempts"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the fields every command needs before touching the chain.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required (--rpc or VAULTSCOPE_RPC)")
	}
	if c.PackageID == "" {
		return fmt.Errorf("package id is required (--package or VAULTSCOPE_PACKAGE)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive")
	}
	return nil
}
