// Package rates merges per-pair registry reads into a single rate table.
package rates

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"fxpay/fixedpoint"
	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/registry"
)

// DisplayPlaces is the precision of Entry.RateText.
const DisplayPlaces = 4

// Pair is a configured registry feed.
type Pair struct {
	Label string `json:"pair"`
	Code  string `json:"code"`
	Name  string `json:"name"`
}

// Entry is one row of the rate table. Rate and RateText are empty when
// IsError is set.
type Entry struct {
	Pair      string    `json:"pair"`
	Code      string    `json:"code,omitempty"`
	Name      string    `json:"name,omitempty"`
	Raw       *big.Int  `json:"raw,omitempty"`
	Decimals  uint8     `json:"decimals"`
	Rate      *float64  `json:"rate"`
	RateText  string    `json:"rate_text"`
	IsError   bool      `json:"is_error"`
	Error     string    `json:"error,omitempty"`
	Derived   *Derived  `json:"derived,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Table is the merged view. Entries is empty while Loading; otherwise it
// holds every configured pair in configured order.
type Table struct {
	Loading bool    `json:"loading"`
	Entries []Entry `json:"entries"`
}

// Get returns the entry for pair.
func (t Table) Get(pair string) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Pair == pair {
			return e, true
		}
	}
	return Entry{}, false
}

// RateFor returns the exact registry rate for pair, or false if absent or errored.
func (t Table) RateFor(pair string) (*big.Rat, bool) {
	e, ok := t.Get(pair)
	if !ok || e.IsError || e.Raw == nil {
		return nil, false
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.Decimals)), nil)
	return new(big.Rat).SetFrac(e.Raw, denom), true
}

type decoration struct {
	raw     string
	derived *Derived
}

// Aggregator fans registry reads out across the configured pairs and gates
// the merged table on every pair having settled.
type Aggregator struct {
	client    *registry.Client
	pairs     []Pair
	decorator Decorator
	interval  time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger

	mu          sync.Mutex
	decorations map[string]decoration
	latest      Table
	listeners   map[int]chan Table
	nextID      int

	lifecycle sync.Mutex
	poller    *registry.Poller
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDecorator replaces the derived-field decorator.
func WithDecorator(d Decorator) Option {
	return func(a *Aggregator) {
		if d == nil {
			d = NoDecoration
		}
		a.decorator = d
	}
}

// WithInterval sets the background refresh interval used by Start.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.interval = d }
}

// WithLogger installs a logger.
func WithLogger(l *logger.Logger) Option {
	return func(a *Aggregator) { a.log = logger.OrNop(l).Named("rates") }
}

// WithMetrics stamps completed tables.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator constructs an aggregator over pairs.
func NewAggregator(client *registry.Client, pairs []Pair, opts ...Option) (*Aggregator, error) {
	if client == nil {
		return nil, fmt.Errorf("registry client required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair required")
	}
	a := &Aggregator{
		client:      client,
		pairs:       append([]Pair{}, pairs...),
		decorator:   NewIllustrativeDecorator(nil),
		interval:    time.Minute,
		log:         logger.Nop(),
		decorations: make(map[string]decoration),
		latest:      Table{Loading: true, Entries: []Entry{}},
		listeners:   make(map[int]chan Table),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	client.Track(a.labels()...)
	return a, nil
}

func (a *Aggregator) labels() []string {
	labels := make([]string, 0, len(a.pairs))
	for _, p := range a.pairs {
		labels = append(labels, p.Label)
	}
	return labels
}

// Pairs returns the configured pairs.
func (a *Aggregator) Pairs() []Pair {
	return append([]Pair{}, a.pairs...)
}

// Aggregate builds the merged table from the current per-pair state. While
// any pair is still loading it returns an empty, loading table.
func (a *Aggregator) Aggregate() Table {
	quotes := make([]registry.Quote, 0, len(a.pairs))
	for _, p := range a.pairs {
		q := a.client.LatestPrice(p.Label)
		if q.IsLoading {
			return Table{Loading: true, Entries: []Entry{}}
		}
		quotes = append(quotes, q)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	entries := make([]Entry, 0, len(quotes))
	for i, q := range quotes {
		entries = append(entries, a.entryLocked(a.pairs[i], q))
	}
	return Table{Entries: entries}
}

func (a *Aggregator) entryLocked(p Pair, q registry.Quote) Entry {
	e := Entry{
		Pair:      p.Label,
		Code:      p.Code,
		Name:      p.Name,
		Decimals:  q.Decimals,
		IsError:   q.IsError,
		Error:     q.Error,
		UpdatedAt: q.UpdatedAt,
	}
	if q.IsError || q.Raw == nil || q.Raw.Sign() <= 0 {
		e.IsError = true
		if e.Error == "" {
			e.Error = "no price"
		}
		delete(a.decorations, p.Label)
		return e
	}
	e.Raw = new(big.Int).Set(q.Raw)
	rate := fixedpoint.ToHumanPlaces(q.Raw, q.Decimals, 8)
	e.Rate = &rate
	e.RateText = fixedpoint.FormatRate(q.Raw, q.Decimals, DisplayPlaces)

	key := q.Raw.String()
	cached, ok := a.decorations[p.Label]
	if !ok || cached.raw != key {
		cached = decoration{raw: key, derived: a.decorator.Decorate(p.Label, rate)}
		a.decorations[p.Label] = cached
	}
	if cached.derived != nil {
		d := *cached.derived
		e.Derived = &d
	}
	return e
}

// RefreshAll refetches every configured pair and returns once all reads
// have settled. Per-pair failures are reflected in the table, not here,
// unless ctx itself was cancelled.
func (a *Aggregator) RefreshAll(ctx context.Context) error {
	err := a.client.RefetchAll(ctx, a.labels())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		a.log.Warn("Rate refresh incomplete", zap.Error(err))
	}
	a.publish()
	return nil
}

// Latest returns the last complete table, or a loading table if none has
// been published yet.
func (a *Aggregator) Latest() Table {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// Subscribe delivers every newly published complete table. The returned
// func unsubscribes.
func (a *Aggregator) Subscribe() (<-chan Table, func()) {
	ch := make(chan Table, 1)
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Aggregator) publish() {
	table := a.Aggregate()
	if table.Loading {
		return
	}
	a.mu.Lock()
	a.latest = table
	listeners := make([]chan Table, 0, len(a.listeners))
	for _, ch := range a.listeners {
		listeners = append(listeners, ch)
	}
	a.mu.Unlock()
	a.metrics.MarkRatesRefreshed(time.Now())

	for _, ch := range listeners {
		// keep only the newest table for slow listeners
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- table:
		default:
		}
	}
}

// Start begins background polling and recomputes the table on every
// price change. Stop must be called to release the loop.
func (a *Aggregator) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.poller != nil {
		return registry.ErrPollerRunning
	}
	poller, err := registry.NewPoller(a.client, a.labels(), a.interval)
	if err != nil {
		return err
	}

	changes, unsubscribe := a.client.Subscribe(len(a.pairs) * 2)
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-changes:
				a.publish()
			}
		}
	}()

	if err := poller.Start(ctx); err != nil {
		cancel()
		<-done
		return err
	}
	a.poller = poller
	a.stopWatch = cancel
	a.watchDone = done
	return nil
}

// Stop halts polling and the change watcher. Safe to call when not started.
func (a *Aggregator) Stop() {
	a.lifecycle.Lock()
	poller, cancel, done := a.poller, a.stopWatch, a.watchDone
	a.poller, a.stopWatch, a.watchDone = nil, nil, nil
	a.lifecycle.Unlock()
	if poller == nil {
		return
	}
	poller.Stop()
	cancel()
	<-done
}
