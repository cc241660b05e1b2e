package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrPollerRunning is returned by Start on a running poller.
var ErrPollerRunning = errors.New("poller already running")

// Poller refreshes a fixed set of pairs on an interval. It has an explicit
// Start/Stop lifecycle; Stop blocks until the loop has exited.
type Poller struct {
	client   *Client
	pairs    []string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller constructs a poller for pairs.
func NewPoller(client *Client, pairs []string, interval time.Duration) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("registry client required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	client.Track(pairs...)
	return &Poller{
		client:   client,
		pairs:    append([]string{}, pairs...),
		interval: interval,
	}, nil
}

// Start launches the polling loop. The first read happens immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrPollerRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, p.done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Tick performs a single refresh of every pair.
func (p *Poller) Tick(ctx context.Context) error {
	return p.client.RefetchAll(ctx, p.pairs)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.client.log.Warn("Registry poll incomplete", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
