package chainevm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const registryABIJSON = `[
  {"inputs":[{"internalType":"string","name":"pair","type":"string"}],
   "name":"getLatestPrice","outputs":[{"internalType":"int256","name":"","type":"int256"}],
   "stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],
   "name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],
   "name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],
   "name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const paymentRouterABIJSON = `[
  {"inputs":[
     {"internalType":"address","name":"payee","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"},
     {"internalType":"address","name":"token","type":"address"},
     {"internalType":"uint256","name":"deadline","type":"uint256"},
     {"internalType":"bytes","name":"signature","type":"bytes"},
     {"internalType":"uint256","name":"paymentId","type":"uint256"}],
   "name":"requestPaymentWithPermit","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],
   "stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"paymentId","type":"uint256"}],
   "name":"isPaymentProcessed","outputs":[{"internalType":"bool","name":"","type":"bool"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"user","type":"address"}],
   "name":"getPaymentHistory","outputs":[{"components":[
     {"internalType":"uint256","name":"id","type":"uint256"},
     {"internalType":"address","name":"payer","type":"address"},
     {"internalType":"address","name":"payee","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"},
     {"internalType":"string","name":"currency","type":"string"},
     {"internalType":"uint256","name":"timestamp","type":"uint256"},
     {"internalType":"uint8","name":"status","type":"uint8"},
     {"internalType":"bytes32","name":"txHash","type":"bytes32"}],
     "internalType":"struct PaymentRouter.Payment[]","name":"","type":"tuple[]"}],
   "stateMutability":"view","type":"function"}
]`

const swapRouterABIJSON = `[
  {"inputs":[
     {"internalType":"address","name":"tokenIn","type":"address"},
     {"internalType":"address","name":"tokenOut","type":"address"},
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint256","name":"minAmountOut","type":"uint256"}],
   "name":"swap","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"}
]`

var (
	registryABI      = mustParseABI(registryABIJSON)
	erc20ABI         = mustParseABI(erc20ABIJSON)
	paymentRouterABI = mustParseABI(paymentRouterABIJSON)
	swapRouterABI    = mustParseABI(swapRouterABIJSON)
)

// ErrEmptyResult is returned when a call yields no data, typically because
// no contract is deployed at the address.
var ErrEmptyResult = errors.New("contract call returned no data")

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func call(ctx context.Context, caller Caller, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: %w", method, ErrEmptyResult)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func bigResult(values []interface{}, method string) (*big.Int, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: unexpected result count %d", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, values[0])
	}
	return v, nil
}

// Registry binds the on-chain FX price registry.
type Registry struct {
	address common.Address
	caller  Caller
}

func NewRegistry(address common.Address, caller Caller) *Registry {
	return &Registry{address: address, caller: caller}
}

// LatestPrice - getLatestPrice(pair) as a signed 8-decimal fixed point value
func (r *Registry) LatestPrice(ctx context.Context, pair string) (*big.Int, error) {
	values, err := call(ctx, r.caller, registryABI, r.address, "getLatestPrice", pair)
	if err != nil {
		return nil, err
	}
	return bigResult(values, "getLatestPrice")
}

// Token binds an ERC-20 contract.
type Token struct {
	address common.Address
	caller  Caller
}

func NewToken(address common.Address, caller Caller) *Token {
	return &Token{address: address, caller: caller}
}

// Address returns the token contract address.
func (t *Token) Address() common.Address { return t.address }

// Allowance - allowance(owner, spender)
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	values, err := call(ctx, t.caller, erc20ABI, t.address, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigResult(values, "allowance")
}

// BalanceOf - balanceOf(account)
func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	values, err := call(ctx, t.caller, erc20ABI, t.address, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return bigResult(values, "balanceOf")
}

// TokenReader reads any ERC-20 by address.
type TokenReader struct {
	caller Caller
}

func NewTokenReader(caller Caller) *TokenReader {
	return &TokenReader{caller: caller}
}

// Allowance - allowance(owner, spender) on token
func (r *TokenReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return NewToken(token, r.caller).Allowance(ctx, owner, spender)
}

// BalanceOf - balanceOf(account) on token
func (r *TokenReader) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return NewToken(token, r.caller).BalanceOf(ctx, account)
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PaymentRecord mirrors the router's Payment struct. Field names follow
// the ABI component names so abi.ConvertType can map them.
type PaymentRecord struct {
	Id        *big.Int //nolint:revive
	Payer     common.Address
	Payee     common.Address
	Amount    *big.Int
	Currency  string
	Timestamp *big.Int
	Status    uint8
	TxHash    [32]byte
}

// PaymentRouter binds the settlement contract.
type PaymentRouter struct {
	address common.Address
	caller  Caller
}

func NewPaymentRouter(address common.Address, caller Caller) *PaymentRouter {
	return &PaymentRouter{address: address, caller: caller}
}

// Address returns the router address.
func (p *PaymentRouter) Address() common.Address { return p.address }

// IsPaymentProcessed - isPaymentProcessed(paymentId)
func (p *PaymentRouter) IsPaymentProcessed(ctx context.Context, paymentID *big.Int) (bool, error) {
	values, err := call(ctx, p.caller, paymentRouterABI, p.address, "isPaymentProcessed", paymentID)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("isPaymentProcessed: unexpected result count %d", len(values))
	}
	processed, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("isPaymentProcessed: unexpected result type %T", values[0])
	}
	return processed, nil
}

// PaymentHistory - getPaymentHistory(user)
func (p *PaymentRouter) PaymentHistory(ctx context.Context, user common.Address) ([]PaymentRecord, error) {
	values, err := call(ctx, p.caller, paymentRouterABI, p.address, "getPaymentHistory", user)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("getPaymentHistory: unexpected result count %d", len(values))
	}
	records := *abi.ConvertType(values[0], new([]PaymentRecord)).(*[]PaymentRecord)
	return records, nil
}

// PackRequestPaymentWithPermit encodes the settlement call.
func PackRequestPaymentWithPermit(payee common.Address, amount *big.Int, token common.Address, deadline *big.Int, signature []byte, paymentID *big.Int) ([]byte, error) {
	return paymentRouterABI.Pack("requestPaymentWithPermit", payee, amount, token, deadline, signature, paymentID)
}

// PackSwap encodes swap(tokenIn, tokenOut, amountIn, minAmountOut).
func PackSwap(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) ([]byte, error) {
	return swapRouterABI.Pack("swap", tokenIn, tokenOut, amountIn, minAmountOut)
}

// PaymentCall is decoded requestPaymentWithPermit calldata.
type PaymentCall struct {
	Payee     common.Address `abi:"payee"`
	Amount    *big.Int       `abi:"amount"`
	Token     common.Address `abi:"token"`
	Deadline  *big.Int       `abi:"deadline"`
	Signature []byte         `abi:"signature"`
	PaymentID *big.Int       `abi:"paymentId"`
}

// DecodePaymentCall decodes the input of a requestPaymentWithPermit transaction.
func DecodePaymentCall(data []byte) (PaymentCall, error) {
	if len(data) < 4 {
		return PaymentCall{}, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := paymentRouterABI.MethodById(data[:4])
	if err != nil {
		return PaymentCall{}, err
	}
	if method.Name != "requestPaymentWithPermit" {
		return PaymentCall{}, fmt.Errorf("unexpected method %s", method.Name)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return PaymentCall{}, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	var call PaymentCall
	if err := method.Inputs.Copy(&call, values); err != nil {
		return PaymentCall{}, fmt.Errorf("copy %s: %w", method.Name, err)
	}
	return call, nil
}
