// Package config loads fxpay runtime configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fxpay/logger"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the payments client.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Contracts ContractsConfig `yaml:"contracts"`
	Tokens    []Token         `yaml:"tokens"`
	Hub       string          `yaml:"hub"`
	Pairs     []Pair          `yaml:"pairs"`
	Rates     RatesConfig     `yaml:"rates"`
	Payment   PaymentConfig   `yaml:"payment"`
	Swap      SwapConfig      `yaml:"swap"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`

	// PrivateKey is only ever read from the environment.
	PrivateKey string `yaml:"-"`
}

// NetworkConfig identifies the single EVM network in use.
type NetworkConfig struct {
	Name        string `yaml:"name"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     uint64 `yaml:"chain_id"`
	ExplorerURL string `yaml:"explorer_url"`
}

// ContractsConfig holds the fixed contract addresses.
type ContractsConfig struct {
	Registry     string `yaml:"registry"`
	Router       string `yaml:"router"`
	SwapRouter   string `yaml:"swap_router"`
	Permit2      string `yaml:"permit2"`
	PaymentToken string `yaml:"payment_token"`
}

// Token describes an ERC-20 the client can move.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Pair is a registry price feed keyed by an opaque label.
type Pair struct {
	Label string `yaml:"label"`
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
}

// RatesConfig tunes the rate polling loop.
type RatesConfig struct {
	Source       string   `yaml:"source"`
	PollInterval Duration `yaml:"poll_interval"`
	Illustrative *bool    `yaml:"illustrative"`
	RPS          float64  `yaml:"rps"`
	Burst        int      `yaml:"burst"`
}

// PaymentConfig tunes the payment flow. InfiniteApproval defaults to true,
// which leaves Permit2 with an unlimited allowance on the payment token;
// review it before pointing at mainnet funds.
type PaymentConfig struct {
	Deadline         Duration `yaml:"deadline"`
	ApprovalTimeout  Duration `yaml:"approval_timeout"`
	ConfirmTimeout   Duration `yaml:"confirm_timeout"`
	ReceiptPoll      Duration `yaml:"receipt_poll"`
	InfiniteApproval *bool    `yaml:"infinite_approval"`
}

// SwapConfig tunes swap execution.
type SwapConfig struct {
	DefaultSlippage float64  `yaml:"default_slippage"`
	ApprovalTimeout Duration `yaml:"approval_timeout"`
}

// HistoryConfig configures the payment journal and history view.
type HistoryConfig struct {
	Database  string `yaml:"database"`
	ForceMock bool   `yaml:"force_mock"`
	Limit     int    `yaml:"limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

const (
	SourceRegistry = "registry"
	SourceMock     = "mock"
)

// Load reads configuration from the supplied path, then applies
// environment overrides. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv loads an optional dotenv file into the process environment.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func applyEnv(cfg *Config) error {
	cfg.Network.RPCURL = getEnv("FXPAY_RPC_URL", cfg.Network.RPCURL)
	cfg.Server.Listen = getEnv("FXPAY_LISTEN", cfg.Server.Listen)
	cfg.Rates.Source = getEnv("FXPAY_RATE_SOURCE", cfg.Rates.Source)
	cfg.PrivateKey = strings.TrimPrefix(getEnv("FXPAY_PRIVATE_KEY", cfg.PrivateKey), "0x")

	if raw := getEnv("FXPAY_CHAIN_ID", ""); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("FXPAY_CHAIN_ID: %w", err)
		}
		cfg.Network.ChainID = id
	}
	if raw := getEnv("FXPAY_MOCK_HISTORY", ""); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("FXPAY_MOCK_HISTORY: %w", err)
		}
		cfg.History.ForceMock = force
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Network.Name == "" {
		cfg.Network.Name = "arc-testnet"
	}
	if cfg.Network.RPCURL == "" {
		cfg.Network.RPCURL = "https://rpc.testnet.arc.network"
	}
	if cfg.Network.ChainID == 0 {
		cfg.Network.ChainID = 5042002
	}
	if cfg.Network.ExplorerURL == "" {
		cfg.Network.ExplorerURL = "https://testnet.arcscan.app"
	}
	if cfg.Contracts.Registry == "" {
		cfg.Contracts.Registry = "0xaf4aCA1644c19d04B251223104faC31B11d1aA51"
	}
	if cfg.Contracts.Router == "" {
		cfg.Contracts.Router = "0xc6757Ea8dfD57778a6107f3a4772534948Ab7b64"
	}
	if cfg.Contracts.SwapRouter == "" {
		cfg.Contracts.SwapRouter = "0x539e3177dbd4c63Af6c1A1638784D9CacdEb4Ad5"
	}
	if cfg.Contracts.Permit2 == "" {
		cfg.Contracts.Permit2 = "0x000000000022D473030F116dDEE9F6B43aC78BA3"
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = defaultTokens()
	}
	if cfg.Hub == "" {
		cfg.Hub = "USDC"
	}
	if cfg.Contracts.PaymentToken == "" {
		if hub, ok := cfg.TokenBySymbol(cfg.Hub); ok {
			cfg.Contracts.PaymentToken = hub.Address
		}
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = defaultPairs()
	}
	if cfg.Rates.Source == "" {
		cfg.Rates.Source = SourceRegistry
	}
	if cfg.Rates.PollInterval.Duration == 0 {
		cfg.Rates.PollInterval.Duration = time.Minute
	}
	if cfg.Rates.Illustrative == nil {
		on := true
		cfg.Rates.Illustrative = &on
	}
	if cfg.Rates.RPS <= 0 {
		cfg.Rates.RPS = 5
	}
	if cfg.Rates.Burst <= 0 {
		cfg.Rates.Burst = 5
	}
	if cfg.Payment.Deadline.Duration == 0 {
		cfg.Payment.Deadline.Duration = time.Hour
	}
	if cfg.Payment.ApprovalTimeout.Duration == 0 {
		cfg.Payment.ApprovalTimeout.Duration = 120 * time.Second
	}
	if cfg.Payment.ConfirmTimeout.Duration == 0 {
		cfg.Payment.ConfirmTimeout.Duration = 120 * time.Second
	}
	if cfg.Payment.ReceiptPoll.Duration == 0 {
		cfg.Payment.ReceiptPoll.Duration = 2 * time.Second
	}
	if cfg.Payment.InfiniteApproval == nil {
		on := true
		cfg.Payment.InfiniteApproval = &on
	}
	if cfg.Swap.DefaultSlippage == 0 {
		cfg.Swap.DefaultSlippage = 0.5
	}
	if cfg.Swap.ApprovalTimeout.Duration == 0 {
		cfg.Swap.ApprovalTimeout.Duration = 120 * time.Second
	}
	if cfg.History.Database == "" {
		cfg.History.Database = "fxpay.sqlite"
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 50
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg Config) error {
	if cfg.Network.ChainID == 0 {
		return fmt.Errorf("network.chain_id must be set")
	}
	addresses := map[string]string{
		"contracts.registry":      cfg.Contracts.Registry,
		"contracts.router":        cfg.Contracts.Router,
		"contracts.swap_router":   cfg.Contracts.SwapRouter,
		"contracts.permit2":       cfg.Contracts.Permit2,
		"contracts.payment_token": cfg.Contracts.PaymentToken,
	}
	for field, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", field, addr)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("token symbol must be set")
		}
		if _, dup := seen[t.Symbol]; dup {
			return fmt.Errorf("duplicate token %s", t.Symbol)
		}
		seen[t.Symbol] = struct{}{}
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
		}
		if t.Decimals > 77 {
			return fmt.Errorf("token %s: decimals %d out of range", t.Symbol, t.Decimals)
		}
	}
	if _, ok := seen[cfg.Hub]; !ok {
		return fmt.Errorf("hub token %s is not configured", cfg.Hub)
	}
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be configured")
	}
	for _, p := range cfg.Pairs {
		if strings.TrimSpace(p.Label) == "" {
			return fmt.Errorf("pair label must be set")
		}
	}
	switch cfg.Rates.Source {
	case SourceRegistry, SourceMock:
	default:
		return fmt.Errorf("rates.source must be %q or %q", SourceRegistry, SourceMock)
	}
	if cfg.Swap.DefaultSlippage < 0 || cfg.Swap.DefaultSlippage >= 100 {
		return fmt.Errorf("swap.default_slippage must be in [0, 100)")
	}
	return nil
}

// TokenBySymbol finds a configured token.
func (c Config) TokenBySymbol(symbol string) (Token, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

// TokenByAddress finds a configured token by contract address.
func (c Config) TokenByAddress(addr common.Address) (Token, bool) {
	for _, t := range c.Tokens {
		if common.HexToAddress(t.Address) == addr {
			return t, true
		}
	}
	return Token{}, false
}

// PairLabels returns the registry labels in configured order.
func (c Config) PairLabels() []string {
	labels := make([]string, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		labels = append(labels, p.Label)
	}
	return labels
}

// Illustrative reports whether decorative rate fields are enabled.
func (c Config) Illustrative() bool {
	return c.Rates.Illustrative == nil || *c.Rates.Illustrative
}

// InfiniteApproval reports whether approvals request the maximum allowance.
func (c Config) InfiniteApproval() bool {
	return c.Payment.InfiniteApproval == nil || *c.Payment.InfiniteApproval
}

func defaultTokens() []Token {
	return []Token{
		{Symbol: "USDC", Name: "USD Coin", Address: "0x3600000000000000000000000000000000000000", Decimals: 6},
		{Symbol: "VNDC", Name: "Vietnamese Dong", Address: "0xF2625B91c67A011b9F5a4fee59814EC0dE23A6d7", Decimals: 8},
		{Symbol: "KRW", Name: "Korean Won", Address: "0x2b0218dA506b186Ef0f4E4D810Fe046aA386bCb8", Decimals: 8},
		{Symbol: "EUR", Name: "Euro", Address: "0x89B50855Aa3bE2F677cD6303Cec089B5F319D72a", Decimals: 8},
		{Symbol: "GBP", Name: "British Pound", Address: "0xFE625065067F13d93D24f357615C680a7660e5db", Decimals: 8},
		{Symbol: "JPY", Name: "Japanese Yen", Address: "0x0d4d5251aFf1facaC43Af61F78A8f339D28808f7", Decimals: 8},
		{Symbol: "CNY", Name: "Chinese Yuan", Address: "0x3d75AA4adeb864a72AE3bc3d3749059348413d70", Decimals: 8},
	}
}

func defaultPairs() []Pair {
	return []Pair{
		{Label: "USDC/VNDC", Code: "VND", Name: "Vietnamese Dong"},
		{Label: "USDC/KRW", Code: "KRW", Name: "Korean Won"},
		{Label: "USDC/GBP", Code: "GBP", Name: "British Pound"},
		{Label: "USDC/JPY", Code: "JPY", Name: "Japanese Yen"},
		{Label: "USDC/CNY", Code: "CNY", Name: "Chinese Yuan"},
	}
}
