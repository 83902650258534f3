package synth

import (
	"fmt"
	"math/big"
	"sync"
)

// SwapVenue converts between the two assets of a market. Callers supply the
// slippage bound; the venue fails the trade rather than fill outside it.
// Token custody is modeled by the caller's ledgers: the venue computes and
// reports executed amounts.
type SwapVenue interface {
	// SwapExactIn sells amountIn of tokenIn for tokenOut, failing with
	// ErrSlippageExceeded if the output would be below minAmountOut.
	SwapExactIn(tokenIn, tokenOut string, amountIn, minAmountOut *big.Int) (amountOut *big.Int, err error)

	// SwapExactOut buys exactly amountOut of tokenOut with tokenIn, failing
	// with ErrSlippageExceeded if the input would exceed maxAmountIn.
	SwapExactOut(tokenIn, tokenOut string, amountOut, maxAmountIn *big.Int) (amountIn *big.Int, err error)
}

// OracleQuotedVenue executes swaps at the oracle price, shaded by a
// configurable execution spread. Spread models venue fees and market impact:
// SwapExactIn pays out spreadBps less than the oracle quote, SwapExactOut
// charges spreadBps more.
type OracleQuotedVenue struct {
	mu        sync.RWMutex
	market    Market
	oracle    PriceOracle
	spreadBps uint64
}

// NewOracleQuotedVenue creates a venue quoting the given market off the
// oracle with zero spread.
func NewOracleQuotedVenue(market Market, oracle PriceOracle) (*OracleQuotedVenue, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle: %w", ErrInvalidInput)
	}
	return &OracleQuotedVenue{market: market, oracle: oracle}, nil
}

// SetSpread sets the execution spread in basis points.
func (v *OracleQuotedVenue) SetSpread(bps uint64) {
	v.mu.Lock()
	v.spreadBps = bps
	v.mu.Unlock()
}

// SwapExactIn implements SwapVenue.
func (v *OracleQuotedVenue) SwapExactIn(tokenIn, tokenOut string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	price, priceDec, _, err := v.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}

	quote, err := v.quote(tokenIn, tokenOut, amountIn, price, priceDec)
	if err != nil {
		return nil, err
	}

	// out = quote * (10000 - spread) / 10000
	out := bpsMul(quote, BpsDenominator-v.spreadBps)
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: out %s below min %s", ErrSlippageExceeded, out, minAmountOut)
	}
	return out, nil
}

// SwapExactOut implements SwapVenue.
func (v *OracleQuotedVenue) SwapExactOut(tokenIn, tokenOut string, amountOut, maxAmountIn *big.Int) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	price, priceDec, _, err := v.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}

	quote, err := v.quote(tokenOut, tokenIn, amountOut, price, priceDec)
	if err != nil {
		return nil, err
	}

	// in = quote * (10000 + spread) / 10000
	in := bpsMul(quote, BpsDenominator+v.spreadBps)
	if maxAmountIn != nil && in.Cmp(maxAmountIn) > 0 {
		return nil, fmt.Errorf("%w: in %s above max %s", ErrSlippageExceeded, in, maxAmountIn)
	}
	return in, nil
}

// quote converts an amount of the from asset into the to asset at the oracle
// price, before spread.
func (v *OracleQuotedVenue) quote(from, to string, amount, price *big.Int, priceDec uint8) (*big.Int, error) {
	switch {
	case from == v.market.StableAsset && to == v.market.ExposureAsset:
		return v.market.StableToExposure(amount, price, priceDec), nil
	case from == v.market.ExposureAsset && to == v.market.StableAsset:
		return v.market.ExposureToStable(amount, price, priceDec), nil
	default:
		return nil, fmt.Errorf("%w: unsupported pair %s/%s", ErrInvalidInput, from, to)
	}
}
