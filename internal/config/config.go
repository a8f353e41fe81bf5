// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"

	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/network"
	"github.com/gateway-fm/stringstore/internal/txbuilder"
	"github.com/gateway-fm/stringstore/internal/wallet"
)

// Config holds stringstore service configuration.
type Config struct {
	ListenAddr         string `yaml:"listenAddr"`
	CORSAllowedOrigins string `yaml:"corsAllowedOrigins"` // Comma-separated list of allowed origins, or "*" for all

	RPCAPIKey     string        `yaml:"rpcApiKey"` // Substituted into the network's RPC URL template
	RPCURL        string        `yaml:"rpcUrl"`    // Full URL; overrides RPCAPIKey
	RPCTimeout    time.Duration `yaml:"rpcTimeout"`
	RPCRatePerSec float64       `yaml:"rpcRatePerSec"`
	RPCBurst      int           `yaml:"rpcBurst"`

	ContractAddress string        `yaml:"contractAddress"`
	ConfirmTimeout  time.Duration `yaml:"confirmTimeout"`
	TipGwei         float64       `yaml:"tipGwei"`
	LegacyGas       bool          `yaml:"legacyGas"` // Type-0 transactions priced with eth_gasPrice

	HistoryCapacity int `yaml:"historyCapacity"` // Write attempts kept in memory

	Wallet WalletConfig `yaml:"wallet"`

	LogLevel  string `yaml:"logLevel"`  // debug, info, warn, error
	LogFormat string `yaml:"logFormat"` // json, text
}

// WalletConfig selects the local signing keys. At most one source may be set;
// none means the service runs without a wallet provider.
type WalletConfig struct {
	PrivateKey string `yaml:"privateKey"`
	Keystore   string `yaml:"keystore"`
	Password   string `yaml:"password"`
	Mnemonic   string `yaml:"mnemonic"`
	Accounts   int    `yaml:"accounts"` // Addresses derived from the mnemonic
}

// Defaults
const (
	DefaultListenAddr         = ":13001"
	DefaultCORSAllowedOrigins = "*" // Allow all origins by default for dev
	DefaultRPCTimeout         = 10 * time.Second
	DefaultRPCRatePerSec      = 10 // Stays inside public endpoint free tiers
	DefaultRPCBurst           = 5
	DefaultConfirmTimeout     = 3 * time.Minute
	DefaultTipGwei            = 1.5
	DefaultHistoryCapacity    = 100
	DefaultWalletAccounts     = 1
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultEnvFile            = ".env"

	maxWalletAccounts = 100
)

// Default returns a config with every field at its default.
func Default() *Config {
	return &Config{
		ListenAddr:         DefaultListenAddr,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		RPCTimeout:         DefaultRPCTimeout,
		RPCRatePerSec:      DefaultRPCRatePerSec,
		RPCBurst:           DefaultRPCBurst,
		ContractAddress:    contract.DefaultAddress,
		ConfirmTimeout:     DefaultConfirmTimeout,
		TipGwei:            DefaultTipGwei,
		HistoryCapacity:    DefaultHistoryCapacity,
		Wallet:             WalletConfig{Accounts: DefaultWalletAccounts},
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// Load reads configuration in order of increasing precedence: defaults,
// environment variables (after loading .env), the YAML file named by -config,
// then command-line flags. args excludes the program name.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Flags are parsed into a copy so that the YAML file can be applied
	// underneath the ones given explicitly.
	fromFlags := *cfg
	fset := flag.NewFlagSet("stringstore", flag.ContinueOnError)
	configPath := fset.String("config", "", "Path to YAML configuration file")
	fset.StringVar(&fromFlags.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	fset.StringVar(&fromFlags.CORSAllowedOrigins, "cors", cfg.CORSAllowedOrigins, "Allowed CORS origins (comma-separated or *)")
	fset.StringVar(&fromFlags.RPCURL, "rpc", cfg.RPCURL, "JSON-RPC URL (overrides RPC_API_KEY)")
	fset.DurationVar(&fromFlags.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "Timeout per RPC request")
	fset.Float64Var(&fromFlags.RPCRatePerSec, "rpc-rate", cfg.RPCRatePerSec, "Max RPC requests per second")
	fset.IntVar(&fromFlags.RPCBurst, "rpc-burst", cfg.RPCBurst, "RPC request burst")
	fset.StringVar(&fromFlags.ContractAddress, "contract", cfg.ContractAddress, "StringStore contract address")
	fset.DurationVar(&fromFlags.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "Max wait for a write to be mined")
	fset.Float64Var(&fromFlags.TipGwei, "tip", cfg.TipGwei, "EIP-1559 priority fee in gwei")
	fset.BoolVar(&fromFlags.LegacyGas, "legacy-gas", cfg.LegacyGas, "Send legacy (type-0) transactions")
	fset.IntVar(&fromFlags.HistoryCapacity, "history", cfg.HistoryCapacity, "Write attempts kept in history")
	fset.IntVar(&fromFlags.Wallet.Accounts, "wallet-accounts", cfg.Wallet.Accounts, "Addresses derived from WALLET_MNEMONIC")
	fset.StringVar(&fromFlags.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fset.StringVar(&fromFlags.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}

	// Explicit flags win over the file.
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = fromFlags.ListenAddr
		case "cors":
			cfg.CORSAllowedOrigins = fromFlags.CORSAllowedOrigins
		case "rpc":
			cfg.RPCURL = fromFlags.RPCURL
		case "rpc-timeout":
			cfg.RPCTimeout = fromFlags.RPCTimeout
		case "rpc-rate":
			cfg.RPCRatePerSec = fromFlags.RPCRatePerSec
		case "rpc-burst":
			cfg.RPCBurst = fromFlags.RPCBurst
		case "contract":
			cfg.ContractAddress = fromFlags.ContractAddress
		case "confirm-timeout":
			cfg.ConfirmTimeout = fromFlags.ConfirmTimeout
		case "tip":
			cfg.TipGwei = fromFlags.TipGwei
		case "legacy-gas":
			cfg.LegacyGas = fromFlags.LegacyGas
		case "history":
			cfg.HistoryCapacity = fromFlags.HistoryCapacity
		case "wallet-accounts":
			cfg.Wallet.Accounts = fromFlags.Wallet.Accounts
		case "log-level":
			cfg.LogLevel = fromFlags.LogLevel
		case "log-format":
			cfg.LogFormat = fromFlags.LogFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. Malformed numeric values are
// reported rather than ignored.
func (c *Config) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = v
	}
	if v := os.Getenv("RPC_API_KEY"); v != "" {
		c.RPCAPIKey = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("CONTRACT_ADDRESS"); v != "" {
		c.ContractAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("WALLET_KEYSTORE"); v != "" {
		c.Wallet.Keystore = v
	}
	if v := os.Getenv("WALLET_PASSWORD"); v != "" {
		c.Wallet.Password = v
	}
	if v := os.Getenv("WALLET_MNEMONIC"); v != "" {
		c.Wallet.Mnemonic = v
	}

	var err error
	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		if c.RPCTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid RPC_TIMEOUT %q: %w", v, err)
		}
	}
	if v := os.Getenv("RPC_RATE"); v != "" {
		if c.RPCRatePerSec, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid RPC_RATE %q: %w", v, err)
		}
	}
	if v := os.Getenv("RPC_BURST"); v != "" {
		if c.RPCBurst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid RPC_BURST %q: %w", v, err)
		}
	}
	if v := os.Getenv("CONFIRM_TIMEOUT"); v != "" {
		if c.ConfirmTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid CONFIRM_TIMEOUT %q: %w", v, err)
		}
	}
	if v := os.Getenv("GAS_TIP_GWEI"); v != "" {
		if c.TipGwei, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid GAS_TIP_GWEI %q: %w", v, err)
		}
	}
	if v := os.Getenv("LEGACY_GAS"); v != "" {
		if c.LegacyGas, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid LEGACY_GAS %q: %w", v, err)
		}
	}
	if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
		if c.HistoryCapacity, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid HISTORY_CAPACITY %q: %w", v, err)
		}
	}
	if v := os.Getenv("WALLET_ACCOUNTS"); v != "" {
		if c.Wallet.Accounts, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid WALLET_ACCOUNTS %q: %w", v, err)
		}
	}
	return nil
}

// loadFile overlays the YAML file at path. ${VAR} references are expanded
// from the environment before parsing; keys absent from the file keep their
// current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.RPCURL == "" && strings.TrimSpace(c.RPCAPIKey) == "" {
		return fmt.Errorf("RPC_URL or RPC_API_KEY is required")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPCRatePerSec <= 0 {
		return fmt.Errorf("RPC rate must be positive")
	}
	if c.RPCBurst < 1 {
		return fmt.Errorf("RPC burst must be at least 1")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract address: %q", c.ContractAddress)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	if c.TipGwei < 0 {
		return fmt.Errorf("gas tip cannot be negative")
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be at least 1")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (supported: json, text)", c.LogFormat)
	}
	return c.Wallet.Validate()
}

// Validate checks that at most one key source is configured.
func (w WalletConfig) Validate() error {
	sources := 0
	for _, s := range []string{w.PrivateKey, w.Keystore, w.Mnemonic} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources > 1 {
		return fmt.Errorf("only one of WALLET_PRIVATE_KEY, WALLET_KEYSTORE, WALLET_MNEMONIC may be set")
	}
	if w.Mnemonic != "" && (w.Accounts < 1 || w.Accounts > maxWalletAccounts) {
		return fmt.Errorf("wallet accounts must be between 1 and %d", maxWalletAccounts)
	}
	return nil
}

// Enabled reports whether any key source is configured.
func (w WalletConfig) Enabled() bool {
	return w.PrivateKey != "" || w.Keystore != "" || w.Mnemonic != ""
}

// LoadAccounts decodes the configured keys. It returns nil when no source
// is configured.
func (w WalletConfig) LoadAccounts() ([]*wallet.Account, error) {
	switch {
	case w.PrivateKey != "":
		acc, err := wallet.AccountFromHex(w.PrivateKey)
		if err != nil {
			return nil, err
		}
		return []*wallet.Account{acc}, nil
	case w.Keystore != "":
		acc, err := wallet.AccountFromKeystore(w.Keystore, w.Password)
		if err != nil {
			return nil, err
		}
		return []*wallet.Account{acc}, nil
	case w.Mnemonic != "":
		return wallet.AccountsFromMnemonic(w.Mnemonic, w.Accounts)
	default:
		return nil, nil
	}
}

// ResolveRPCURL returns the explicit RPC URL, or the network's template
// filled with the API key.
func (c *Config) ResolveRPCURL(net *network.Network) (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	return net.RPCURL(c.RPCAPIKey)
}

// FeePolicy converts the gas settings into a transaction builder policy.
func (c *Config) FeePolicy() txbuilder.FeePolicy {
	policy := txbuilder.DefaultFeePolicy()
	tip, _ := new(big.Float).Mul(big.NewFloat(c.TipGwei), big.NewFloat(params.GWei)).Int(nil)
	policy.TipCap = tip
	policy.Legacy = c.LegacyGas
	return policy
}

// NewLogger builds the process logger: JSON for machines, tint for humans.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	if c.LogFormat == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s (supported: debug, info, warn, error)", s)
	}
	return level, nil
}
