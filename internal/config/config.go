// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList             []string `mapstructure:"rpc_list"`
	RelayURL            string   `mapstructure:"relay_url"`
	RelayTipAccounts    []string `mapstructure:"relay_tip_accounts"`
	QuoteURL            string   `mapstructure:"quote_url"`
	QuoteAPIKey         string   `mapstructure:"quote_api_key"`
	PostgresURL         string   `mapstructure:"postgres_url"`
	WalletsFile         string   `mapstructure:"wallets_file"`
	PoolsFile           string   `mapstructure:"pools_file"`
	PositionsFile       string   `mapstructure:"positions_file"`
	MonitorInterval     int      `mapstructure:"monitor_interval_ms"`
	MaxConcurrentChecks int      `mapstructure:"max_concurrent_checks"`
	StalenessCeiling    int      `mapstructure:"staleness_ceiling_ms"`
	SubmissionMode      string   `mapstructure:"submission_mode"`
	RaceDeadline        int      `mapstructure:"race_deadline_ms"`
	MinTipLamports      uint64   `mapstructure:"min_tip_lamports"`
	MaxTipLamports      uint64   `mapstructure:"max_tip_lamports"`
	AntiFrontrun        bool     `mapstructure:"anti_frontrun"`
	DebugLogging        bool     `mapstructure:"debug_logging"`
	Retries             int      `mapstructure:"retries"`
}

const (
	DefaultMonitorInterval  = 5000
	DefaultMaxConcurrent    = 10
	DefaultStalenessCeiling = 30000
	DefaultRaceDeadline     = 15000
	DefaultMinTipLamports   = 1_000
	DefaultMaxTipLamports   = 10_000_000
	DefaultRetries          = 3
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_interval_ms":   DefaultMonitorInterval,
		"max_concurrent_checks": DefaultMaxConcurrent,
		"staleness_ceiling_ms":  DefaultStalenessCeiling,
		"race_deadline_ms":      DefaultRaceDeadline,
		"min_tip_lamports":      DefaultMinTipLamports,
		"max_tip_lamports":      DefaultMaxTipLamports,
		"submission_mode":       "race",
		"retries":               DefaultRetries,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.RelayURL != "" {
		if err := validateURLWithCache(cfg.RelayURL, "http"); err != nil {
			return errors.New("invalid relay URL protocol")
		}
	}
	if cfg.QuoteURL != "" {
		if err := validateURLWithCache(cfg.QuoteURL, "http"); err != nil {
			return errors.New("invalid quote URL protocol")
		}
	}
	switch cfg.SubmissionMode {
	case "race", "relay_only", "direct_only":
	default:
		return errors.New("submission_mode must be race, relay_only or direct_only")
	}
	if cfg.SubmissionMode != "direct_only" && cfg.RelayURL == "" {
		return errors.New("relay_url required unless submission_mode is direct_only")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MonitorInterval <= 0 {
		return errors.New("invalid monitor_interval_ms")
	}
	if cfg.MaxConcurrentChecks <= 0 {
		return errors.New("invalid max_concurrent_checks")
	}
	if cfg.StalenessCeiling <= 0 {
		return errors.New("invalid staleness_ceiling_ms")
	}
	if cfg.RaceDeadline <= 0 {
		return errors.New("invalid race_deadline_ms")
	}
	if cfg.MinTipLamports == 0 || cfg.MaxTipLamports < cfg.MinTipLamports {
		return errors.New("invalid tip range")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			if clean := strings.TrimSpace(rpc); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}

	if envRelay := v.GetString("RELAY_URL"); envRelay != "" {
		cfg.RelayURL = envRelay
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	if envQuoteKey := v.GetString("QUOTE_API_KEY"); envQuoteKey != "" {
		cfg.QuoteAPIKey = envQuoteKey
	}
	return nil
}
