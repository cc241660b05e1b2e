package rates

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxpay/registry"
)

var testPairs = []Pair{
	{Label: "USDC/VNDC", Code: "VND", Name: "Vietnamese Dong"},
	{Label: "USDC/KRW", Code: "KRW", Name: "Korean Won"},
	{Label: "USDC/GBP", Code: "GBP", Name: "British Pound"},
}

// gatedReader blocks reads for pairs in gate until released.
type gatedReader struct {
	mu     sync.Mutex
	prices map[string]int64
	fail   map[string]bool
	gate   map[string]chan struct{}
}

func (r *gatedReader) LatestPrice(ctx context.Context, pair string) (*big.Int, error) {
	r.mu.Lock()
	gate := r.gate[pair]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[pair] {
		return nil, errors.New("execution reverted")
	}
	return big.NewInt(r.prices[pair]), nil
}

func newReader() *gatedReader {
	return &gatedReader{
		prices: map[string]int64{
			"USDC/VNDC": 2_625_000_000_000,
			"USDC/KRW":  138_512_000_000,
			"USDC/GBP":  79_000_000,
		},
		fail: map[string]bool{},
		gate: map[string]chan struct{}{},
	}
}

func fixedRand(v float64) func() float64 { return func() float64 { return v } }

func TestAggregateIsEmptyWhileAnyPairLoads(t *testing.T) {
	reader := newReader()
	release := make(chan struct{})
	reader.gate["USDC/GBP"] = release
	client := registry.NewClient(reader)
	agg, err := NewAggregator(client, testPairs)
	require.NoError(t, err)

	table := agg.Aggregate()
	assert.True(t, table.Loading)
	assert.Empty(t, table.Entries)

	done := make(chan error, 1)
	go func() { done <- agg.RefreshAll(context.Background()) }()

	assert.Eventually(t, func() bool {
		return !client.LatestPrice("USDC/KRW").IsLoading && !client.LatestPrice("USDC/VNDC").IsLoading
	}, time.Second, time.Millisecond)

	table = agg.Aggregate()
	assert.True(t, table.Loading, "partial table must not be emitted")
	assert.Empty(t, table.Entries)

	close(release)
	require.NoError(t, <-done)

	table = agg.Aggregate()
	assert.False(t, table.Loading)
	require.Len(t, table.Entries, len(testPairs))
	for i, e := range table.Entries {
		assert.Equal(t, testPairs[i].Label, e.Pair)
	}
}

func TestErroredPairIsFlaggedNotZero(t *testing.T) {
	reader := newReader()
	reader.fail["USDC/KRW"] = true
	reader.prices["USDC/GBP"] = 0
	agg, err := NewAggregator(registry.NewClient(reader), testPairs)
	require.NoError(t, err)
	require.NoError(t, agg.RefreshAll(context.Background()))

	table := agg.Aggregate()
	require.False(t, table.Loading)

	for _, pair := range []string{"USDC/KRW", "USDC/GBP"} {
		e, ok := table.Get(pair)
		require.True(t, ok)
		assert.True(t, e.IsError, pair)
		assert.Nil(t, e.Rate, pair)
		assert.Empty(t, e.RateText, pair)
		assert.Nil(t, e.Derived, pair)
		_, ok = table.RateFor(pair)
		assert.False(t, ok)
	}

	vnd, ok := table.Get("USDC/VNDC")
	require.True(t, ok)
	assert.False(t, vnd.IsError)
	require.NotNil(t, vnd.Rate)
	assert.Equal(t, 26250.0, *vnd.Rate)
	assert.Equal(t, "26250.0000", vnd.RateText)
	rate, ok := table.RateFor("USDC/VNDC")
	require.True(t, ok)
	assert.Equal(t, "26250", rate.RatString())
}

func TestDecorationStableUntilPriceChanges(t *testing.T) {
	reader := newReader()
	var calls atomic.Int64
	decorator := DecoratorFunc(func(_ string, rate float64) *Derived {
		calls.Add(1)
		return &Derived{Illustrative: true, High24h: rate}
	})
	agg, err := NewAggregator(registry.NewClient(reader), testPairs[:1], WithDecorator(decorator))
	require.NoError(t, err)
	require.NoError(t, agg.RefreshAll(context.Background()))

	agg.Aggregate()
	agg.Aggregate()
	assert.Equal(t, int64(1), calls.Load())

	reader.mu.Lock()
	reader.prices["USDC/VNDC"] = 2_630_000_000_000
	reader.mu.Unlock()
	require.NoError(t, agg.RefreshAll(context.Background()))
	e, _ := agg.Aggregate().Get("USDC/VNDC")
	assert.Equal(t, int64(2), calls.Load())
	require.NotNil(t, e.Derived)
	assert.Equal(t, 26300.0, e.Derived.High24h)
}

func TestNoDecoration(t *testing.T) {
	agg, err := NewAggregator(registry.NewClient(newReader()), testPairs, WithDecorator(NoDecoration))
	require.NoError(t, err)
	require.NoError(t, agg.RefreshAll(context.Background()))
	for _, e := range agg.Aggregate().Entries {
		assert.Nil(t, e.Derived)
	}
}

func TestIllustrativeDecorator(t *testing.T) {
	up := NewIllustrativeDecorator(fixedRand(1)).Decorate("USDC/KRW", 1000)
	assert.True(t, up.Illustrative)
	assert.True(t, up.IsPositive)
	assert.InDelta(t, 0.1, up.ChangePct, 1e-9)
	assert.Equal(t, "+0.10%", up.Change)
	assert.InDelta(t, 1001, up.High24h, 1e-9)
	assert.Equal(t, 1000.0, up.Low24h)
	assert.Less(t, up.Bid, 1000.0)
	assert.Greater(t, up.Ask, 1000.0)

	down := NewIllustrativeDecorator(fixedRand(0)).Decorate("USDC/KRW", 1000)
	assert.False(t, down.IsPositive)
	assert.Equal(t, "-0.10%", down.Change)
	assert.Equal(t, 1000.0, down.High24h)
	assert.InDelta(t, 999, down.Low24h, 1e-9)
}

func TestStartPublishesCompleteTables(t *testing.T) {
	agg, err := NewAggregator(registry.NewClient(newReader()), testPairs, WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	updates, unsubscribe := agg.Subscribe()
	defer unsubscribe()

	require.NoError(t, agg.Start(context.Background()))
	assert.ErrorIs(t, agg.Start(context.Background()), registry.ErrPollerRunning)

	select {
	case table := <-updates:
		assert.False(t, table.Loading)
		assert.Len(t, table.Entries, len(testPairs))
	case <-time.After(time.Second):
		t.Fatal("no table published")
	}
	agg.Stop()
	agg.Stop()
	assert.False(t, agg.Latest().Loading)
}

func TestNewAggregatorValidates(t *testing.T) {
	_, err := NewAggregator(nil, testPairs)
	assert.Error(t, err)
	_, err = NewAggregator(registry.NewClient(newReader()), nil)
	assert.Error(t, err)
}
