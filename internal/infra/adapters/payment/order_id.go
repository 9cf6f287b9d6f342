// File: internal/infra/adapters/payment/order_id.go
package payment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	DefaultSuffixDigits = 3
	MaxSuffixDigits     = 18
	maxOrderIDLength    = 36
)

// OrderIDGenerator produces digit-only order ids: a millisecond timestamp followed by a
// zero-padded random suffix. Ids from one generator are strictly increasing.
type OrderIDGenerator struct {
	mu     sync.Mutex
	digits int
	limit  *big.Int
	now    func() time.Time
	lastMs int64
}

func NewOrderIDGenerator(suffixDigits int) (*OrderIDGenerator, error) {
	if suffixDigits <= 0 {
		suffixDigits = DefaultSuffixDigits
	}
	if suffixDigits > MaxSuffixDigits {
		return nil, fmt.Errorf("order id suffix width %d exceeds %d", suffixDigits, MaxSuffixDigits)
	}
	return &OrderIDGenerator{
		digits: suffixDigits,
		limit:  new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(suffixDigits)), nil),
		now:    time.Now,
	}, nil
}

// Next returns a fresh order id.
func (g *OrderIDGenerator) Next() string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.lastMs {
		ms = g.lastMs + 1
	}
	g.lastMs = ms
	g.mu.Unlock()

	n, err := rand.Int(rand.Reader, g.limit)
	if err != nil {
		// crypto/rand does not fail on supported platforms
		n = big.NewInt(0)
	}
	return fmt.Sprintf("%d%0*d", ms, g.digits, n.Int64())
}

// ValidOrderID reports whether id is acceptable to the gateway as an OrderId.
func ValidOrderID(id string) bool {
	if id == "" || len(id) > maxOrderIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
