// Package registry reads currency-pair prices from the on-chain FX registry
// and keeps per-pair loading/error state for consumers.
package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/payerr"
)

// Decimals is the fixed-point precision of every registry price.
const Decimals uint8 = 8

// PriceReader returns the raw signed price for a pair label.
type PriceReader interface {
	LatestPrice(ctx context.Context, pair string) (*big.Int, error)
}

// PriceReaderFunc adapts a function to PriceReader.
type PriceReaderFunc func(ctx context.Context, pair string) (*big.Int, error)

// LatestPrice implements PriceReader.
func (f PriceReaderFunc) LatestPrice(ctx context.Context, pair string) (*big.Int, error) {
	return f(ctx, pair)
}

// Quote is the read state of a single pair. Raw is nil whenever IsLoading
// or IsError is set; a missing price is never reported as zero.
type Quote struct {
	Pair      string    `json:"pair"`
	Raw       *big.Int  `json:"raw,omitempty"`
	Decimals  uint8     `json:"decimals"`
	IsLoading bool      `json:"is_loading"`
	IsError   bool      `json:"is_error"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Rate returns the price as an exact rational, or false when no usable
// price is available.
func (q Quote) Rate() (*big.Rat, bool) {
	if q.IsLoading || q.IsError || q.Raw == nil || q.Raw.Sign() <= 0 {
		return nil, false
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(q.Decimals)), nil)
	return new(big.Rat).SetFrac(q.Raw, denom), true
}

func (q Quote) clone() Quote {
	if q.Raw != nil {
		q.Raw = new(big.Int).Set(q.Raw)
	}
	return q
}

// Client tracks per-pair registry state.
type Client struct {
	reader  PriceReader
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	quotes map[string]Quote
	seq    map[string]uint64
	subs   map[int]chan string
	nextID int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger installs a logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l).Named("registry") }
}

// WithMetrics records read outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout bounds each registry read.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient constructs a registry client on top of reader.
func NewClient(reader PriceReader, opts ...Option) *Client {
	c := &Client{
		reader:  reader,
		timeout: 15 * time.Second,
		log:     logger.Nop(),
		now:     time.Now,
		quotes:  make(map[string]Quote),
		seq:     make(map[string]uint64),
		subs:    make(map[int]chan string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Track registers pairs so they report IsLoading until their first read lands.
func (c *Client) Track(pairs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range pairs {
		if _, ok := c.quotes[pair]; !ok {
			c.quotes[pair] = Quote{Pair: pair, Decimals: Decimals, IsLoading: true}
		}
	}
}

// LatestPrice returns the current state for pair without touching the
// network. Unknown pairs are tracked and reported as loading.
func (c *Client) LatestPrice(pair string) Quote {
	c.mu.RLock()
	q, ok := c.quotes[pair]
	c.mu.RUnlock()
	if ok {
		return q.clone()
	}
	c.Track(pair)
	return Quote{Pair: pair, Decimals: Decimals, IsLoading: true}
}

// Refetch forces a fresh read of pair. The outcome is stored on the pair's
// state; the returned error is informational.
func (c *Client) Refetch(ctx context.Context, pair string) error {
	c.mu.Lock()
	if _, ok := c.quotes[pair]; !ok {
		c.quotes[pair] = Quote{Pair: pair, Decimals: Decimals, IsLoading: true}
	}
	c.seq[pair]++
	ticket := c.seq[pair]
	c.mu.Unlock()

	readCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	raw, err := c.reader.LatestPrice(readCtx, pair)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// torn down mid-read; keep the last known state
		return err
	}
	if err == nil && (raw == nil || raw.Sign() <= 0) {
		err = payerr.New(payerr.KindRegistryUnavailable, "registry returned no positive price for %s", pair)
	} else if err != nil {
		err = payerr.Wrap(payerr.KindRegistryUnavailable, err)
	}

	q := Quote{Pair: pair, Decimals: Decimals, UpdatedAt: c.now()}
	if err != nil {
		q.IsError = true
		q.Error = err.Error()
	} else {
		q.Raw = new(big.Int).Set(raw)
	}
	c.metrics.RecordRegistryRead(pair, err == nil)
	c.log.LogRPCCall("getLatestPrice", err, zap.String("pair", pair))

	c.mu.Lock()
	if c.seq[pair] != ticket {
		c.mu.Unlock()
		return err
	}
	c.quotes[pair] = q
	subs := make([]chan string, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- pair:
		default:
		}
	}
	return err
}

// RefetchAll reads every pair concurrently and returns once all reads have
// settled. The first read error is returned; every pair's state is updated
// regardless.
func (c *Client) RefetchAll(ctx context.Context, pairs []string) error {
	var g errgroup.Group
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			return c.Refetch(ctx, pair)
		})
	}
	return g.Wait()
}

// Subscribe returns a channel receiving the label of every pair whose
// state changes. Slow subscribers miss notifications rather than block
// readers. The returned func unsubscribes.
func (c *Client) Subscribe(buffer int) (<-chan string, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan string, buffer)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}
