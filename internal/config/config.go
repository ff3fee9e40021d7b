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
	Port        int
	CORSOrigins []string

	StacksAPIURL        string
	StacksNetwork       string
	StacksContract      string
	StacksConfirmations uint64
	StacksPrivateKey    string

	SuiRPCURL     string
	SuiNetwork    string
	SuiRegistryID string
	SuiPackageID  string
	SuiPrivateKey string

	CoingeckoAPIKey string
	PollInterval    time.Duration
	PriceInterval   time.Duration
	EventDelay      time.Duration

	StateFile string
	PgDSN     string
	LogLevel  string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 3001)
	v.SetDefault("stacks-api-url", "https://api.testnet.hiro.so")
	v.SetDefault("stacks-network", "testnet")
	v.SetDefault("stacks-confirmations", uint64(0))
	v.SetDefault("sui-rpc-url", "https://fullnode.testnet.sui.io:443")
	v.SetDefault("sui-network", "testnet")
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("price-interval", time.Minute)
	v.SetDefault("event-delay", time.Second)
	v.SetDefault("state-file", "./relayer-state.json")
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
		Port:                v.GetInt("port"),
		CORSOrigins:         getStringSlice(v, "cors-origins"),
		StacksAPIURL:        v.GetString("stacks-api-url"),
		StacksNetwork:       v.GetString("stacks-network"),
		StacksContract:      v.GetString("stacks-contract"),
		StacksConfirmations: v.GetUint64("stacks-confirmations"),
		StacksPrivateKey:    v.GetString("stacks-private-key"),
		SuiRPCURL:           v.GetString("sui-rpc-url"),
		SuiNetwork:          v.GetString("sui-network"),
		SuiRegistryID:       v.GetString("sui-registry-id"),
		SuiPackageID:        v.GetString("sui-package-id"),
		SuiPrivateKey:       v.GetString("sui-private-key"),
		CoingeckoAPIKey:     v.GetString("coingecko-api-key"),
		PollInterval:        v.GetDuration("poll-interval"),
		PriceInterval:       v.GetDuration("price-interval"),
		EventDelay:          v.GetDuration("event-delay"),
		StateFile:           v.GetString("state-file"),
		PgDSN:               v.GetString("pg-dsn"),
		LogLevel:            v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the fields without which the relayer cannot operate.
func (c Config) Validate() error {
	var missing []string
	if c.StacksContract == "" {
		missing = append(missing, "stacks-contract")
	}
	if c.StacksPrivateKey == "" {
		missing = append(missing, "stacks-private-key")
	}
	if c.SuiRegistryID == "" {
		missing = append(missing, "sui-registry-id")
	}
	if c.SuiPackageID == "" {
		missing = append(missing, "sui-package-id")
	}
	if c.SuiPrivateKey == "" {
		missing = append(missing, "sui-private-key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if !strings.Contains(c.StacksContract, ".") {
		return fmt.Errorf("stacks-contract must be address.contract-name, got %q", c.StacksContract)
	}
	if c.StacksNetwork != "mainnet" && c.StacksNetwork != "testnet" {
		return fmt.Errorf("stacks-network must be mainnet or testnet, got %q", c.StacksNetwork)
	}

	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
