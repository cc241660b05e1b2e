package rates

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Derived holds display-only fields computed from a single price sample.
// There is no on-chain history; when Illustrative is set these figures are
// synthetic and must be labelled as such wherever they are shown.
type Derived struct {
	Illustrative bool    `json:"illustrative"`
	ChangePct    float64 `json:"change_pct"`
	Change       string  `json:"change"`
	IsPositive   bool    `json:"is_positive"`
	High24h      float64 `json:"high_24h"`
	Low24h       float64 `json:"low_24h"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
}

// Decorator computes derived fields for a pair at rate. It is called once
// per distinct raw price, never on unchanged prices.
type Decorator interface {
	Decorate(pair string, rate float64) *Derived
}

// DecoratorFunc adapts a function to Decorator.
type DecoratorFunc func(pair string, rate float64) *Derived

// Decorate implements Decorator.
func (f DecoratorFunc) Decorate(pair string, rate float64) *Derived { return f(pair, rate) }

// NoDecoration omits derived fields entirely.
var NoDecoration = DecoratorFunc(func(string, float64) *Derived { return nil })

const (
	maxIllustrativeMove = 0.001
	illustrativeSpread  = 0.0005
)

// IllustrativeDecorator fabricates a change within +/-0.1% and a matching
// high/low band and bid/ask spread around the current rate.
type IllustrativeDecorator struct {
	mu   sync.Mutex
	rand func() float64
}

// NewIllustrativeDecorator uses rnd as the [0,1) source; nil uses math/rand/v2.
func NewIllustrativeDecorator(rnd func() float64) *IllustrativeDecorator {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &IllustrativeDecorator{rand: rnd}
}

// Decorate implements Decorator.
func (d *IllustrativeDecorator) Decorate(_ string, rate float64) *Derived {
	d.mu.Lock()
	move := d.rand()*2*maxIllustrativeMove - maxIllustrativeMove
	d.mu.Unlock()

	out := &Derived{
		Illustrative: true,
		ChangePct:    move * 100,
		IsPositive:   move > 0,
		High24h:      rate,
		Low24h:       rate,
		Bid:          rate * (1 - illustrativeSpread),
		Ask:          rate * (1 + illustrativeSpread),
	}
	if out.IsPositive {
		out.Change = fmt.Sprintf("+%.2f%%", out.ChangePct)
		out.High24h = rate * (1 + maxIllustrativeMove)
	} else {
		out.Change = fmt.Sprintf("%.2f%%", out.ChangePct)
		out.Low24h = rate * (1 - maxIllustrativeMove)
	}
	return out
}
