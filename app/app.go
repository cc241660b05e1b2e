// Package app wires configuration into the running payment client.
package app

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"fxpay/allowance"
	"fxpay/chainevm"
	"fxpay/config"
	"fxpay/history"
	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/payment"
	"fxpay/permit"
	"fxpay/rates"
	"fxpay/registry"
	"fxpay/swap"
	"fxpay/wallet"
)

// App holds every wired component.
type App struct {
	Config     config.Config
	Chain      *chainevm.Chain
	Wallet     wallet.Wallet
	Registry   *registry.Client
	Rates      *rates.Aggregator
	Calculator *swap.Calculator
	Swaps      *swap.Executor
	Payments   *payment.Submitter
	Journal    *history.Store
	History    *history.View
	Metrics    *metrics.Metrics
	Log        *logger.Logger
}

// Build dials the network and constructs the components. Without a private
// key the wallet reports itself disconnected; reads still work.
func Build(cfg config.Config, log *logger.Logger, m *metrics.Metrics) (*App, error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Metrics: m, Log: log}

	chain, err := chainevm.Dial(chainevm.Config{
		RPCURL:      cfg.Network.RPCURL,
		ChainID:     cfg.Network.ChainID,
		Network:     cfg.Network.Name,
		ExplorerURL: cfg.Network.ExplorerURL,
		RPS:         cfg.Rates.RPS,
		Burst:       cfg.Rates.Burst,
	}, chainevm.WithLogger(log), chainevm.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	a.Chain = chain

	if cfg.PrivateKey != "" {
		kw, err := wallet.NewKeyWallet(cfg.PrivateKey, cfg.Network.ChainID, chain)
		if err != nil {
			return nil, err
		}
		a.Wallet = kw
		log.Info("Wallet connected", zap.String("address", kw.Account().Address.Hex()))
	} else {
		a.Wallet = wallet.FuncWallet{AccountFunc: func() wallet.Account {
			return wallet.Account{ChainID: cfg.Network.ChainID}
		}}
		log.Warn("No private key configured; payments and swaps are disabled")
	}

	if err := a.buildRates(); err != nil {
		return nil, err
	}
	if err := a.buildPayments(); err != nil {
		return nil, err
	}
	if err := a.buildSwaps(); err != nil {
		return nil, err
	}
	a.History = history.NewView(
		chainevm.NewPaymentRouter(common.HexToAddress(cfg.Contracts.Router), chain),
		history.WithJournal(a.Journal),
		history.WithForceMock(cfg.History.ForceMock),
		history.WithLimit(cfg.History.Limit),
		history.WithLogger(log),
	)
	return a, nil
}

func (a *App) buildRates() error {
	cfg := a.Config
	var reader registry.PriceReader
	switch cfg.Rates.Source {
	case config.SourceMock:
		mock, err := registry.NewMockReader(nil)
		if err != nil {
			return err
		}
		reader = mock
		a.Log.Warn("Serving illustrative mock prices")
	default:
		reader = chainevm.NewRegistry(common.HexToAddress(cfg.Contracts.Registry), a.Chain)
	}
	a.Registry = registry.NewClient(reader, registry.WithLogger(a.Log), registry.WithMetrics(a.Metrics))

	pairs := make([]rates.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, rates.Pair{Label: p.Label, Code: p.Code, Name: p.Name})
	}
	decorator := rates.Decorator(rates.NoDecoration)
	if cfg.Illustrative() {
		decorator = rates.NewIllustrativeDecorator(nil)
	}
	agg, err := rates.NewAggregator(a.Registry, pairs,
		rates.WithDecorator(decorator),
		rates.WithInterval(cfg.Rates.PollInterval.Duration),
		rates.WithLogger(a.Log),
		rates.WithMetrics(a.Metrics),
	)
	if err != nil {
		return err
	}
	a.Rates = agg

	calc, err := swap.NewCalculator(cfg.Hub, swap.LookupFunc(func(pair string) (*big.Rat, bool) {
		return agg.Latest().RateFor(pair)
	}), cfg.Swap.DefaultSlippage)
	if err != nil {
		return err
	}
	a.Calculator = calc
	return nil
}

func (a *App) buildPayments() error {
	cfg := a.Config
	tokenAddr := common.HexToAddress(cfg.Contracts.PaymentToken)
	token, ok := cfg.TokenByAddress(tokenAddr)
	if !ok {
		return fmt.Errorf("payment token %s is not in the token table", cfg.Contracts.PaymentToken)
	}
	router := common.HexToAddress(cfg.Contracts.Router)
	permit2 := common.HexToAddress(cfg.Contracts.Permit2)

	reader := chainevm.NewTokenReader(a.Chain)
	confirmer := chainevm.NewConfirmer(a.Chain, cfg.Payment.ReceiptPoll.Duration)
	policy := allowance.PolicyExact
	if cfg.InfiniteApproval() {
		policy = allowance.PolicyInfinite
	}
	approver := allowance.NewManager(reader, a.Wallet, confirmer,
		allowance.WithPolicy(policy),
		allowance.WithTimeout(cfg.Payment.ApprovalTimeout.Duration),
		allowance.WithLogger(a.Log),
		allowance.WithMetrics(a.Metrics),
	)
	builder, err := permit.NewBuilder(permit2, router)
	if err != nil {
		return err
	}

	db, err := history.Open(cfg.History.Database)
	if err != nil {
		return err
	}
	a.Journal, err = history.NewStore(db, a.tokenInfo)
	if err != nil {
		return err
	}

	a.Payments, err = payment.NewSubmitter(a.Wallet, reader, approver, builder, confirmer, payment.Config{
		ChainID:        cfg.Network.ChainID,
		Token:          tokenAddr,
		Decimals:       token.Decimals,
		Permit2:        permit2,
		Router:         router,
		DeadlineTTL:    cfg.Payment.Deadline.Duration,
		ConfirmTimeout: cfg.Payment.ConfirmTimeout.Duration,
	},
		payment.WithLogger(a.Log),
		payment.WithMetrics(a.Metrics),
		payment.WithJournal(a.Journal),
		payment.WithExplorer(a.Chain.ExplorerURL),
	)
	return err
}

func (a *App) buildSwaps() error {
	cfg := a.Config
	tokens := make([]swap.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, swap.Token{Symbol: t.Symbol, Address: common.HexToAddress(t.Address), Decimals: t.Decimals})
	}
	confirmer := chainevm.NewConfirmer(a.Chain, cfg.Payment.ReceiptPoll.Duration)
	// the swap router is only ever approved for the amount being sold
	approver := allowance.NewManager(chainevm.NewTokenReader(a.Chain), a.Wallet, confirmer,
		allowance.WithPolicy(allowance.PolicyExact),
		allowance.WithTimeout(cfg.Swap.ApprovalTimeout.Duration),
		allowance.WithLogger(a.Log),
		allowance.WithMetrics(a.Metrics),
	)
	exec, err := swap.NewExecutor(a.Calculator, common.HexToAddress(cfg.Contracts.SwapRouter), tokens, a.Wallet, approver, confirmer,
		swap.WithTimeout(cfg.Payment.ConfirmTimeout.Duration),
		swap.WithLogger(a.Log),
		swap.WithExplorer(a.Chain.ExplorerURL),
	)
	if err != nil {
		return err
	}
	a.Swaps = exec
	return nil
}

func (a *App) tokenInfo(addr common.Address) (string, uint8, bool) {
	t, ok := a.Config.TokenByAddress(addr)
	if !ok {
		return "", 0, false
	}
	return strings.ToUpper(t.Symbol), t.Decimals, true
}

// Close stops background work and releases the journal.
func (a *App) Close() error {
	if a.Rates != nil {
		a.Rates.Stop()
	}
	if a.Journal == nil {
		return nil
	}
	return a.Journal.Close()
}

var errNoWallet = errors.New("no private key configured")

// RequireWallet fails when no signing wallet is connected.
func (a *App) RequireWallet() error {
	if !a.Wallet.Account().Connected {
		return errNoWallet
	}
	return nil
}
