// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the relayer's environment inputs: master encryption key,
// database URL, Solana RPC URL, optional treasury key, optional relayer fee
// wallet, and a network selector.
type Config struct {
	MasterKeyHex       string `mapstructure:"master_key_hex"`
	DatabaseURL        string `mapstructure:"database_url"`
	SolanaRPCURL       string `mapstructure:"solana_rpc_url"`
	TreasurySecretKey  string `mapstructure:"treasury_secret_key"`
	FeeWalletPublicKey string `mapstructure:"fee_wallet_public_key"`
	Network            string `mapstructure:"network"`

	// PrivacyMode selects the coordinator strategy: "basic" (single
	// post-merge hop, no withdraw stage) or "enhanced" (the full mixing
	// pipeline).
	PrivacyMode string `mapstructure:"privacy_mode"`

	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	AdmitBatchSize int `mapstructure:"admit_batch_size"`
	HTTPAddr       string `mapstructure:"http_addr"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFilePath  string `mapstructure:"log_file_path"`
}

const (
	DefaultPollIntervalMS = 10_000
	DefaultAdmitBatchSize = 10
	DefaultHTTPAddr       = ":8080"
	DefaultNetwork        = "mainnet-beta"
	DefaultPrivacyMode    = "enhanced"
	DefaultLogFilePath    = "logs/relayer.log"
)

// LoadConfig reads path (if present) then overlays environment variables
// prefixed RELAYER_.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetDefault("poll_interval_ms", DefaultPollIntervalMS)
	v.SetDefault("admit_batch_size", DefaultAdmitBatchSize)
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("network", DefaultNetwork)
	v.SetDefault("privacy_mode", DefaultPrivacyMode)
	v.SetDefault("log_file_path", DefaultLogFilePath)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RELAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"master_key_hex", "database_url", "solana_rpc_url", "treasury_secret_key",
		"fee_wallet_public_key", "network", "privacy_mode", "poll_interval_ms",
		"admit_batch_size", "http_addr", "debug_logging", "log_file_path",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	keyBytes, err := hex.DecodeString(cfg.MasterKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return errors.New("master_key_hex must be 64 hex characters (32 bytes)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if cfg.SolanaRPCURL == "" {
		return errors.New("solana_rpc_url is required")
	}
	if err := validateURL(cfg.SolanaRPCURL, "http"); err != nil {
		return errors.New("invalid solana_rpc_url protocol")
	}
	if cfg.PollIntervalMS <= 0 {
		return errors.New("poll_interval_ms must be positive")
	}
	if cfg.AdmitBatchSize <= 0 {
		return errors.New("admit_batch_size must be positive")
	}
	if cfg.PrivacyMode != "basic" && cfg.PrivacyMode != "enhanced" {
		return errors.New(`privacy_mode must be "basic" or "enhanced"`)
	}
	return nil
}

func validateURL(rawURL, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// MasterKey decodes MasterKeyHex into the raw 32-byte AES-256 key.
func (c *Config) MasterKey() ([]byte, error) {
	return hex.DecodeString(c.MasterKeyHex)
}
