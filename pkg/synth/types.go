package synth

import (
	"math/big"
)

// Direction selects which side of the exposure asset a position takes.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Basis point scale: 10000 bps = 100%.
const BpsDenominator = 10000

// SecondsPerYear is the accrual year used by the simple-interest model.
const SecondsPerYear = 31536000

const (
	MaxInterestRateBps       = 5000
	DefaultMaxUtilizationBps = 9000
	MinLeverageRatioBps      = 10000
	MaxLeverageRatioBps      = 50000
	MaxSlippageToleranceBps  = 1000
)

// Market describes the stable/exposure asset pair a leveraged position
// trades. Amounts are integers scaled by each asset's decimals; prices quote
// stable units per whole exposure unit at the oracle's own decimal scale.
type Market struct {
	StableAsset      string
	ExposureAsset    string
	StableDecimals   uint8
	ExposureDecimals uint8
}

// StableToExposure converts a stable amount into exposure-asset units at the
// given price.
// units = amount * 10^(priceDecimals + exposureDecimals) / (price * 10^stableDecimals)
func (m Market) StableToExposure(amount, price *big.Int, priceDecimals uint8) *big.Int {
	n := new(big.Int).Mul(amount, pow10(int(priceDecimals)+int(m.ExposureDecimals)))
	d := new(big.Int).Mul(price, pow10(int(m.StableDecimals)))
	return n.Div(n, d)
}

// ExposureToStable converts exposure-asset units into a stable amount at the
// given price.
// amount = units * price * 10^stableDecimals / 10^(priceDecimals + exposureDecimals)
func (m Market) ExposureToStable(units, price *big.Int, priceDecimals uint8) *big.Int {
	n := new(big.Int).Mul(units, price)
	n.Mul(n, pow10(int(m.StableDecimals)))
	return n.Div(n, pow10(int(priceDecimals)+int(m.ExposureDecimals)))
}

func pow10(d int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}

// bpsMul returns amount * bps / 10000, floor division.
func bpsMul(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// mulDiv returns a * b / c, floor division.
func mulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, c)
}

func bigCopy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
