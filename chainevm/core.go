package chainevm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fxpay/logger"
	"fxpay/metrics"
)

// RPC is the subset of ethclient.Client used by the connector.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Chain - connector to the single EVM network the client targets.
// Every RPC call passes through a client-side rate limiter.
type Chain struct {
	client   RPC
	chainID  uint64
	network  string
	explorer string
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *logger.Logger
}

type Config struct {
	RPCURL      string
	ChainID     uint64
	Network     string
	ExplorerURL string
	RPS         float64
	Burst       int
}

// Option customises a Chain.
type Option func(*Chain)

// WithMetrics records limiter waits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Chain) { c.log = logger.OrNop(l).Named("chain") }
}

// Dial - connect to the RPC endpoint in config
func Dial(config Config, opts ...Option) (*Chain, error) {
	endpoint := strings.TrimSpace(config.RPCURL)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc url required")
	}
	client, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return New(client, config, opts...), nil
}

// New - wrap an existing RPC client
func New(client RPC, config Config, opts ...Option) *Chain {
	if config.Network == "" {
		config.Network = "arc-testnet"
	}
	if config.RPS <= 0 {
		config.RPS = 5
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	c := &Chain{
		client:   client,
		chainID:  config.ChainID,
		network:  config.Network,
		explorer: strings.TrimRight(config.ExplorerURL, "/"),
		limiter:  rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChainID returns the configured chain id.
func (c *Chain) ChainID() uint64 { return c.chainID }

// Network returns the configured network name.
func (c *Chain) Network() string { return c.network }

// ExplorerURL - Generate explorer URL for a transaction
func (c *Chain) ExplorerURL(txHash string) string {
	if c.explorer == "" {
		return ""
	}
	return c.explorer + "/tx/" + txHash
}

// HealthCheck - Check connection and that the node serves the configured chain
func (c *Chain) HealthCheck(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain health check failed: %w", err)
	}
	if c.chainID != 0 && id.Uint64() != c.chainID {
		return fmt.Errorf("chain id mismatch: node %s, configured %d", id, c.chainID)
	}
	return nil
}

// ErrRateLimited is returned when a call cannot get a limiter token before
// its context ends. The limiter fails early, before ctx reports an error.
var ErrRateLimited = errors.New("rate limiter")

func (c *Chain) wait(ctx context.Context) error {
	if c.limiter.Allow() {
		return nil
	}
	c.metrics.RecordRateLimitWait()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

// CallContract executes a read-only call.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.client.CallContract(ctx, msg, blockNumber)
	if err != nil && msg.To != nil {
		c.log.Debug("Contract call failed", zap.String("to", msg.To.Hex()), zap.Error(err))
	}
	return out, err
}

// TransactionReceipt fetches a receipt.
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.TransactionReceipt(ctx, hash)
}

// TransactionByHash fetches a transaction.
func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}
	return c.client.TransactionByHash(ctx, hash)
}

// BlockNumber returns the head block number.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.client.BlockNumber(ctx)
}

// HeaderByNumber fetches a header; nil means head.
func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.HeaderByNumber(ctx, number)
}

// PendingNonceAt implements wallet.Backend.
func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.client.PendingNonceAt(ctx, account)
}

// SuggestGasPrice implements wallet.Backend.
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.SuggestGasPrice(ctx)
}

// EstimateGas implements wallet.Backend.
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.client.EstimateGas(ctx, msg)
}

// SendTransaction implements wallet.Backend.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	err := c.client.SendTransaction(ctx, tx)
	c.log.LogRPCCall("eth_sendRawTransaction", err, zap.String("tx_hash", tx.Hash().Hex()))
	return err
}
