// Package config loads node configuration the way
// pkg/config does: a YAML default merged with an environment-specific
// override and .env values, unmarshalled into a typed struct.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the unified configuration for a duxnet node.
type Config struct {
	Network struct {
		DID             string   `mapstructure:"did" json:"did"`
		ListenAddr      string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag    string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers  []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers        int      `mapstructure:"max_peers" json:"max_peers"`
		HeartbeatPeriod string   `mapstructure:"heartbeat_period" json:"heartbeat_period"`
	} `mapstructure:"network" json:"network"`

	DHT struct {
		SweepInterval string `mapstructure:"sweep_interval" json:"sweep_interval"`
		ActiveWindow  string `mapstructure:"active_window" json:"active_window"`
	} `mapstructure:"dht" json:"dht"`

	Reputation struct {
		WindowSize int `mapstructure:"window_size" json:"window_size"`
	} `mapstructure:"reputation" json:"reputation"`

	Task struct {
		RetryBudget int `mapstructure:"retry_budget" json:"retry_budget"`
	} `mapstructure:"task" json:"task"`

	CommunityFund struct {
		TaxRateNumerator   int    `mapstructure:"tax_rate_numerator" json:"tax_rate_numerator"`
		TaxRateDenominator int    `mapstructure:"tax_rate_denominator" json:"tax_rate_denominator"`
		DistributionPeriod string `mapstructure:"distribution_period" json:"distribution_period"`
		Currencies         []string `mapstructure:"currencies" json:"currencies"`
	} `mapstructure:"community_fund" json:"community_fund"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	// Simulation gates the synthetic-activity injection loop. It is
	// disabled unless explicitly turned on: operators running a real node
	// never want fake transactions and service listings appearing
	// alongside real ones.
	Simulation struct {
		Enabled  bool   `mapstructure:"enabled" json:"enabled"`
		Interval string `mapstructure:"interval" json:"interval"`
	} `mapstructure:"simulation" json:"simulation"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`

	DataDir string `mapstructure:"data_dir" json:"data_dir"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/4001")
	v.SetDefault("network.discovery_tag", "duxnet-marketplace")
	v.SetDefault("network.max_peers", 200)
	v.SetDefault("network.heartbeat_period", "5m")
	v.SetDefault("dht.sweep_interval", "1m")
	v.SetDefault("dht.active_window", "24h")
	v.SetDefault("reputation.window_size", 100)
	v.SetDefault("task.retry_budget", 2)
	v.SetDefault("community_fund.tax_rate_numerator", 5)
	v.SetDefault("community_fund.tax_rate_denominator", 100)
	v.SetDefault("community_fund.distribution_period", "12h")
	v.SetDefault("community_fund.currencies", []string{"BTC", "ETH", "USDC", "LTC", "XMR", "DOGE"})
	v.SetDefault("http.listen_addr", ":8585")
	v.SetDefault("simulation.enabled", false)
	v.SetDefault("simulation.interval", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("data_dir", "./data")
}

// Load reads default.yaml from ./config or the working directory (if
// present), merges <env>.yaml from the same paths when env is non-empty,
// and applies any DUXNET_-prefixed environment variables, falling back entirely to
// built-in defaults when no config file is found — so the node boots with
// no configuration present at all.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("DUXNET")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Duration parses a config duration string, falling back to def on error or
// empty input.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
