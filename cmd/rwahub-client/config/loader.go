package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
)

type ClientSettings struct {
	LocalHost        string
	Port             string
	StateDir         string
	UIAllowedOrigins []string
}

type RelaySettings struct {
	BaseURL string
}

type SettlementSettings struct {
	BaseURL string
}

type SolanaSettings struct {
	RPCURL   string
	USDCMint string
}

type WalletSettings struct {
	KeypairPath string
}

type Config struct {
	ClientSettings ClientSettings
	Relay          RelaySettings
	Settlement     SettlementSettings
	Solana         SolanaSettings
	Wallet         WalletSettings
}

// Load reads the embedded defaults, then overlays an optional
// config.yaml found in the usual locations, then RWAHUB_* environment
// variables (RWAHUB_RELAY_BASEURL, RWAHUB_SOLANA_RPCURL, ...).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(embeddedConfigYAML)); err != nil {
		return nil, fmt.Errorf("parse embedded config: %w", err)
	}

	home, _ := os.UserHomeDir()
	paths := []string{
		filepath.Join(home, ".config", "rwahub-client"),
		filepath.Join(home, "config"),
		".",
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RWAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.ClientSettings.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.ClientSettings.StateDir = filepath.Join(home, ".local", "share", "rwahub-client")
	}
	if c.Wallet.KeypairPath == "" {
		c.Wallet.KeypairPath = filepath.Join(c.ClientSettings.StateDir, "keypair.enc")
	}
	if c.Relay.BaseURL = strings.TrimRight(c.Relay.BaseURL, "/"); c.Relay.BaseURL == "" {
		return errors.New("Relay.BaseURL must not be empty")
	}
	if c.Settlement.BaseURL = strings.TrimRight(c.Settlement.BaseURL, "/"); c.Settlement.BaseURL == "" {
		return errors.New("Settlement.BaseURL must not be empty")
	}
	if c.Solana.RPCURL == "" {
		return errors.New("Solana.RPCURL must not be empty")
	}
	if _, err := solana.PublicKeyFromBase58(c.Solana.USDCMint); err != nil {
		return fmt.Errorf("Solana.USDCMint invalid: %w", err)
	}
	return nil
}

// USDCMintKey returns the parsed mint address. normalize has already
// validated it.
func (c *Config) USDCMintKey() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Solana.USDCMint)
}
