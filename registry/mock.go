package registry

import (
	"context"
	"fmt"
	"math/big"

	"fxpay/fixedpoint"
)

// DefaultMockPrices are illustrative demo prices keyed by registry label.
var DefaultMockPrices = map[string]string{
	"USDC/VNDC": "26250",
	"USDC/KRW":  "1385.12",
	"USDC/GBP":  "0.79",
	"USDC/JPY":  "151.45",
	"USDC/CNY":  "7.24",
	"USDC/EUR":  "0.92",
}

// MockReader serves fixed prices behind the PriceReader interface, for
// demos and for networks without a deployed registry.
type MockReader struct {
	prices map[string]*big.Int
}

// NewMockReader parses human decimal prices at registry precision.
func NewMockReader(prices map[string]string) (*MockReader, error) {
	if len(prices) == 0 {
		prices = DefaultMockPrices
	}
	m := &MockReader{prices: make(map[string]*big.Int, len(prices))}
	for pair, human := range prices {
		raw, err := fixedpoint.ToRaw(human, Decimals)
		if err != nil {
			return nil, fmt.Errorf("mock price %s: %w", pair, err)
		}
		m.prices[pair] = raw
	}
	return m, nil
}

// LatestPrice implements PriceReader.
func (m *MockReader) LatestPrice(ctx context.Context, pair string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, ok := m.prices[pair]
	if !ok {
		return nil, fmt.Errorf("no mock price for %s", pair)
	}
	return new(big.Int).Set(raw), nil
}
