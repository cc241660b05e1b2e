package permit

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NonceSource yields a fresh nonce per authorization.
type NonceSource interface {
	Next() (*big.Int, error)
}

// NonceFunc adapts a function to NonceSource.
type NonceFunc func() (*big.Int, error)

// Next implements NonceSource.
func (f NonceFunc) Next() (*big.Int, error) { return f() }

const nonceSpread = 10_000

// TimeNonce returns unixMillis*10000 + r with r uniform in [0, 10000).
// Uniqueness is what matters; the timestamp prefix only keeps nonces
// roughly increasing.
type TimeNonce struct {
	Now func() time.Time
}

// Next implements NonceSource.
func (t TimeNonce) Next() (*big.Int, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	suffix, err := rand.Int(rand.Reader, big.NewInt(nonceSpread))
	if err != nil {
		return nil, fmt.Errorf("nonce entropy: %w", err)
	}
	n := new(big.Int).Mul(big.NewInt(now().UnixMilli()), big.NewInt(nonceSpread))
	return n.Add(n, suffix), nil
}

// Deadline returns now+ttl in unix seconds.
func Deadline(now time.Time, ttl time.Duration) *big.Int {
	return big.NewInt(now.Add(ttl).Unix())
}
