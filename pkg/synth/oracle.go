package synth

import (
	"math/big"
	"sync"
	"time"
)

// PriceOracle supplies the exposure-asset price in stable terms. Price is an
// integer scaled by the returned decimals; updatedAt is the time of the last
// refresh. Readers enforce their own staleness bound.
type PriceOracle interface {
	LatestPrice() (price *big.Int, decimals uint8, updatedAt time.Time, err error)
}

// SimplePriceOracle is a settable in-memory oracle used by the simulator and
// tests, and as a stand-in where no external feed is wired.
type SimplePriceOracle struct {
	mu        sync.RWMutex
	price     *big.Int
	decimals  uint8
	updatedAt time.Time
}

// NewSimplePriceOracle creates an oracle reporting the given price.
func NewSimplePriceOracle(price *big.Int, decimals uint8, updatedAt time.Time) *SimplePriceOracle {
	return &SimplePriceOracle{
		price:     bigCopy(price),
		decimals:  decimals,
		updatedAt: updatedAt,
	}
}

// LatestPrice implements PriceOracle.
func (o *SimplePriceOracle) LatestPrice() (*big.Int, uint8, time.Time, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil || o.price.Sign() <= 0 {
		return nil, 0, time.Time{}, ErrInvalidPrice
	}
	return bigCopy(o.price), o.decimals, o.updatedAt, nil
}

// SetPrice updates the reported price and refresh time.
func (o *SimplePriceOracle) SetPrice(price *big.Int, updatedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = bigCopy(price)
	o.updatedAt = updatedAt
}

// Decimals returns the oracle's price scale.
func (o *SimplePriceOracle) Decimals() uint8 {
	return o.decimals
}
