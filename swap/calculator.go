// Package swap quotes and executes stablecoin conversions against the
// registry's hub-quoted rates.
package swap

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"fxpay/fixedpoint"
	"fxpay/payerr"
)

// Direction says which side of a BASE/QUOTE pair is being sold.
type Direction string

const (
	// BaseToQuote sells the base currency: out = in * rate.
	BaseToQuote Direction = "base_to_quote"
	// QuoteToBase sells the quote currency: out = in / rate.
	QuoteToBase Direction = "quote_to_base"
)

var hundred = big.NewRat(100, 1)

// MinAmountOut converts amountIn at rate in direction dir and discounts the
// result by slippagePct percent. It returns the expected and the minimum
// acceptable output. All arithmetic is exact.
func MinAmountOut(amountIn, rate *big.Rat, dir Direction, slippagePct *big.Rat) (out, minOut *big.Rat, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, payerr.New(payerr.KindInvalidAmount, "amount must be greater than zero")
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, nil, payerr.New(payerr.KindRegistryUnavailable, "no usable rate")
	}
	if slippagePct == nil {
		slippagePct = new(big.Rat)
	}
	if slippagePct.Sign() < 0 || slippagePct.Cmp(hundred) >= 0 {
		return nil, nil, payerr.New(payerr.KindInvalidAmount, "slippage %s%% outside [0, 100)", slippagePct.FloatString(2))
	}

	switch dir {
	case BaseToQuote:
		out = new(big.Rat).Mul(amountIn, rate)
	case QuoteToBase:
		out = new(big.Rat).Quo(amountIn, rate)
	default:
		return nil, nil, fmt.Errorf("unknown direction %q", dir)
	}
	keep := new(big.Rat).Sub(big.NewRat(1, 1), new(big.Rat).Quo(slippagePct, hundred))
	minOut = new(big.Rat).Mul(out, keep)
	return out, minOut, nil
}

// RateLookup resolves an exact registry rate by pair label.
// rates.Table satisfies it.
type RateLookup interface {
	RateFor(pair string) (*big.Rat, bool)
}

// LookupFunc adapts a function to RateLookup.
type LookupFunc func(pair string) (*big.Rat, bool)

// RateFor implements RateLookup.
func (f LookupFunc) RateFor(pair string) (*big.Rat, bool) { return f(pair) }

// Request is a conversion the user asks for. SlippagePct nil means the
// calculator's default.
type Request struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Amount      string   `json:"amount"`
	SlippagePct *float64 `json:"slippage_pct,omitempty"`
}

// Result is a computed quote.
type Result struct {
	From         string
	To           string
	Pair         string
	Direction    Direction
	Rate         *big.Rat
	AmountIn     *big.Rat
	AmountOut    *big.Rat
	AmountOutMin *big.Rat
	SlippagePct  *big.Rat
}

// Calculator quotes conversions between the hub currency and the others.
type Calculator struct {
	hub      string
	rates    RateLookup
	slippage *big.Rat
}

// NewCalculator returns a calculator routing through hub, using
// defaultSlippagePct when a request carries none.
func NewCalculator(hub string, rates RateLookup, defaultSlippagePct float64) (*Calculator, error) {
	if strings.TrimSpace(hub) == "" {
		return nil, fmt.Errorf("hub currency required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate lookup required")
	}
	slippage, err := percent(defaultSlippagePct)
	if err != nil {
		return nil, err
	}
	return &Calculator{hub: strings.ToUpper(hub), rates: rates, slippage: slippage}, nil
}

// Hub returns the routing currency.
func (c *Calculator) Hub() string { return c.hub }

// Route returns the registry pair and direction for from -> to. Only
// conversions with the hub on one side have a direct rate.
func (c *Calculator) Route(from, to string) (string, Direction, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	switch {
	case from == "" || to == "":
		return "", "", payerr.New(payerr.KindNoRouteAvailable, "both currencies are required")
	case from == to:
		return "", "", payerr.New(payerr.KindNoRouteAvailable, "%s converts to itself", from)
	case from == c.hub:
		return c.hub + "/" + to, BaseToQuote, nil
	case to == c.hub:
		return c.hub + "/" + from, QuoteToBase, nil
	default:
		return "", "", payerr.New(payerr.KindNoRouteAvailable, "no direct rate between %s and %s", from, to)
	}
}

// Quote prices req against the current rates.
func (c *Calculator) Quote(req Request) (Result, error) {
	pair, dir, err := c.Route(req.From, req.To)
	if err != nil {
		return Result{}, err
	}
	amountIn, err := fixedpoint.ParseDecimal(req.Amount)
	if err != nil {
		return Result{}, payerr.Wrap(payerr.KindInvalidAmount, err)
	}
	slippage := c.slippage
	if req.SlippagePct != nil {
		if slippage, err = percent(*req.SlippagePct); err != nil {
			return Result{}, err
		}
	}
	rate, ok := c.rates.RateFor(pair)
	if !ok {
		return Result{}, payerr.New(payerr.KindRegistryUnavailable, "rate for %s unavailable", pair)
	}
	out, minOut, err := MinAmountOut(amountIn, rate, dir, slippage)
	if err != nil {
		return Result{}, err
	}
	return Result{
		From:         strings.ToUpper(strings.TrimSpace(req.From)),
		To:           strings.ToUpper(strings.TrimSpace(req.To)),
		Pair:         pair,
		Direction:    dir,
		Rate:         rate,
		AmountIn:     amountIn,
		AmountOut:    out,
		AmountOutMin: minOut,
		SlippagePct:  slippage,
	}, nil
}

// percent converts a float percentage to its shortest exact decimal.
func percent(v float64) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'f', -1, 64))
	if !ok || r.Sign() < 0 || r.Cmp(hundred) >= 0 {
		return nil, payerr.New(payerr.KindInvalidAmount, "slippage %v%% outside [0, 100)", v)
	}
	return r, nil
}
