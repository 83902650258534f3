package synth

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// MinRebalanceInterval is the mandatory spacing between unforced rebalances.
const MinRebalanceInterval = 20 * time.Hour

// DefaultOracleStaleAfter bounds oracle age on the canonical network; test
// deployments usually widen it.
const DefaultOracleStaleAfter = time.Hour

// PositionConfig configures a LeveragedPosition.
type PositionConfig struct {
	Symbol               string
	Direction            Direction
	Market               Market
	Owner                string
	LeverageRatioBps     uint64        // [10000, 50000]
	SlippageToleranceBps uint64        // <= 1000
	OracleStaleAfter     time.Duration // 0 means DefaultOracleStaleAfter
	Vault                *LendingVault
	Oracle               PriceOracle
	Venue                SwapVenue
	Logger               log.Logger
	NowFn                func() time.Time
	Sink                 EventSink
}

// LeveragedPosition mints and redeems leveraged shares against stable
// collateral. Long borrows stable and buys the exposure asset; Short borrows
// the exposure asset and sells it for stable. NAV-per-share follows oracle
// price drift at the target leverage.
//
// Rebalance only re-anchors the NAV bookkeeping. It does not trade and does
// not touch the collateral/borrow/exposure ledgers, so realized leverage
// drifts with price while reported NAV behaves as if leverage were restored
// every period. The simulated system works this way; keep it.
type LeveragedPosition struct {
	mu  sync.RWMutex
	log log.Logger

	symbol    string
	direction Direction
	market    Market
	owner     string
	paused    bool

	leverageRatioBps     uint64
	slippageToleranceBps uint64
	oracleStaleAfter     time.Duration
	priceDecimals        uint8

	navPerShare        *big.Int // scaled by navScale
	navScale           *big.Int // 10^StableDecimals
	lastRebalancePrice *big.Int
	lastRebalanceAt    time.Time

	totalCollateral *big.Int // stable units deposited
	totalBorrowed   *big.Int // stable (Long) or exposure units (Short)
	totalExposure   *big.Int // exposure units (Long) or sale proceeds in stable (Short)
	stableHeld      *big.Int // physical stable custody, Short only

	totalSupply *big.Int
	shares      map[string]*big.Int

	vault  *LendingVault
	oracle PriceOracle
	venue  SwapVenue

	nowFn func() time.Time
	sink  EventSink
}

// NewLeveragedPosition wires a position to its vault, oracle, and venue. The
// oracle is read once to anchor the NAV drift calculation; genesis NAV is
// one collateral unit.
func NewLeveragedPosition(cfg PositionConfig) (*LeveragedPosition, error) {
	if cfg.Symbol == "" || cfg.Owner == "" {
		return nil, fmt.Errorf("symbol and owner required: %w", ErrInvalidInput)
	}
	if cfg.Vault == nil || cfg.Oracle == nil || cfg.Venue == nil {
		return nil, fmt.Errorf("vault, oracle, and venue required: %w", ErrInvalidInput)
	}
	if cfg.LeverageRatioBps < MinLeverageRatioBps || cfg.LeverageRatioBps > MaxLeverageRatioBps {
		return nil, fmt.Errorf("leverage %d outside [%d, %d]: %w",
			cfg.LeverageRatioBps, MinLeverageRatioBps, MaxLeverageRatioBps, ErrInvalidInput)
	}
	if cfg.SlippageToleranceBps > MaxSlippageToleranceBps {
		return nil, fmt.Errorf("slippage tolerance %d above %d: %w",
			cfg.SlippageToleranceBps, MaxSlippageToleranceBps, ErrInvalidInput)
	}

	// the vault must hold the asset this direction borrows
	borrowAsset := cfg.Market.StableAsset
	if cfg.Direction == Short {
		borrowAsset = cfg.Market.ExposureAsset
	}
	if cfg.Vault.Asset() != borrowAsset {
		return nil, fmt.Errorf("vault holds %s, direction borrows %s: %w",
			cfg.Vault.Asset(), borrowAsset, ErrInvalidInput)
	}

	if cfg.OracleStaleAfter == 0 {
		cfg.OracleStaleAfter = DefaultOracleStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root().New("module", "position")
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = NoopSink()
	}

	p := &LeveragedPosition{
		log:                  cfg.Logger,
		symbol:               cfg.Symbol,
		direction:            cfg.Direction,
		market:               cfg.Market,
		owner:                cfg.Owner,
		leverageRatioBps:     cfg.LeverageRatioBps,
		slippageToleranceBps: cfg.SlippageToleranceBps,
		oracleStaleAfter:     cfg.OracleStaleAfter,
		navScale:             pow10(int(cfg.Market.StableDecimals)),
		totalCollateral:      big.NewInt(0),
		totalBorrowed:        big.NewInt(0),
		totalExposure:        big.NewInt(0),
		stableHeld:           big.NewInt(0),
		totalSupply:          big.NewInt(0),
		shares:               make(map[string]*big.Int),
		vault:                cfg.Vault,
		oracle:               cfg.Oracle,
		venue:                cfg.Venue,
		nowFn:                cfg.NowFn,
		sink:                 cfg.Sink,
	}
	p.navPerShare = bigCopy(p.navScale)

	price, decimals, updatedAt, err := cfg.Oracle.LatestPrice()
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if p.nowFn().Sub(updatedAt) > p.oracleStaleAfter {
		return nil, ErrStalePrice
	}
	p.priceDecimals = decimals
	p.lastRebalancePrice = bigCopy(price)
	p.lastRebalanceAt = p.nowFn()

	return p, nil
}

// getPriceLocked reads and validates the oracle. Caller holds a lock.
func (p *LeveragedPosition) getPriceLocked() (*big.Int, error) {
	price, decimals, updatedAt, err := p.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if decimals != p.priceDecimals {
		return nil, fmt.Errorf("oracle decimals changed %d -> %d: %w", p.priceDecimals, decimals, ErrInvalidPrice)
	}
	if age := p.nowFn().Sub(updatedAt); age > p.oracleStaleAfter {
		return nil, fmt.Errorf("%w: age %s, bound %s", ErrStalePrice, age, p.oracleStaleAfter)
	}
	return price, nil
}

// navAtPriceLocked projects NAV from the last anchor to the given price.
// percentChange = (p - pLast) * navScale / pLast, signed.
// leveragedReturn = leverageRatioBps * percentChange / 10000, negated for
// Short. newNav = nav * (navScale + leveragedReturn) / navScale, floored at
// the smallest positive unit. Caller holds a lock.
func (p *LeveragedPosition) navAtPriceLocked(price *big.Int) *big.Int {
	percentChange := new(big.Int).Sub(price, p.lastRebalancePrice)
	percentChange.Mul(percentChange, p.navScale)
	percentChange.Quo(percentChange, p.lastRebalancePrice)

	leveragedReturn := new(big.Int).Mul(percentChange, new(big.Int).SetUint64(p.leverageRatioBps))
	leveragedReturn.Quo(leveragedReturn, big.NewInt(BpsDenominator))
	if p.direction == Short {
		leveragedReturn.Neg(leveragedReturn)
	}

	factor := new(big.Int).Add(p.navScale, leveragedReturn)
	one := big.NewInt(1)
	if factor.Sign() <= 0 {
		return one
	}
	nav := new(big.Int).Mul(p.navPerShare, factor)
	nav.Quo(nav, p.navScale)
	if nav.Sign() <= 0 {
		return one
	}
	return nav
}

// Mint issues shares against collateral at the NAV read before any mutation
// from this call, then levers up through the vault and venue. A venue
// failure after the borrow unwinds the borrow so nothing commits.
func (p *LeveragedPosition) Mint(account string, collateral *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return nil, ErrPaused
	}
	if account == "" {
		return nil, fmt.Errorf("account: %w", ErrInvalidInput)
	}
	if amountInvalid(collateral) {
		return nil, ErrZeroAmount
	}

	price, err := p.getPriceLocked()
	if err != nil {
		return nil, err
	}
	nav := p.navAtPriceLocked(price)

	// shares = collateral * SCALE / nav
	shares := mulDiv(collateral, p.navScale, nav)
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}

	var borrowed, acquired *big.Int
	switch p.direction {
	case Long:
		// borrow = collateral * (leverage - 10000) / 10000 of stable
		borrowed = bpsMul(collateral, p.leverageRatioBps-BpsDenominator)
		if borrowed.Sign() > 0 {
			if err := p.vault.Borrow(p.symbol, borrowed); err != nil {
				return nil, err
			}
		}
		swapIn := new(big.Int).Add(collateral, borrowed)
		expected := p.market.StableToExposure(swapIn, price, p.priceDecimals)
		minOut := bpsMul(expected, BpsDenominator-p.slippageToleranceBps)
		acquired, err = p.venue.SwapExactIn(p.market.StableAsset, p.market.ExposureAsset, swapIn, minOut)
		if err != nil {
			p.unwindBorrow(borrowed)
			return nil, err
		}

	case Short:
		// exposureUsd = collateral * leverage / 10000, borrowed in exposure units
		exposureUsd := bpsMul(collateral, p.leverageRatioBps)
		borrowed = p.market.StableToExposure(exposureUsd, price, p.priceDecimals)
		if borrowed.Sign() == 0 {
			return nil, ErrZeroAmount
		}
		if err := p.vault.Borrow(p.symbol, borrowed); err != nil {
			return nil, err
		}
		expected := p.market.ExposureToStable(borrowed, price, p.priceDecimals)
		minOut := bpsMul(expected, BpsDenominator-p.slippageToleranceBps)
		acquired, err = p.venue.SwapExactIn(p.market.ExposureAsset, p.market.StableAsset, borrowed, minOut)
		if err != nil {
			p.unwindBorrow(borrowed)
			return nil, err
		}
	}

	p.totalCollateral.Add(p.totalCollateral, collateral)
	p.totalBorrowed.Add(p.totalBorrowed, borrowed)
	p.totalExposure.Add(p.totalExposure, acquired)
	if p.direction == Short {
		// collateral stays in stable alongside the sale proceeds
		p.stableHeld.Add(p.stableHeld, collateral)
		p.stableHeld.Add(p.stableHeld, acquired)
	}
	p.creditShares(account, shares)

	p.log.Debug("mint", "symbol", p.symbol, "account", account,
		"collateral", collateral.String(), "shares", shares.String(),
		"borrowed", borrowed.String(), "nav", nav.String())
	p.sink.Publish(MintEvent{
		Symbol:     p.symbol,
		Direction:  p.direction.String(),
		Account:    account,
		Collateral: bigCopy(collateral),
		Borrowed:   bigCopy(borrowed),
		Shares:     bigCopy(shares),
		Nav:        bigCopy(nav),
		At:         p.nowFn(),
	})
	return bigCopy(shares), nil
}

// unwindBorrow returns a failed mint's borrow so the whole operation rolls
// back. Caller holds the lock.
func (p *LeveragedPosition) unwindBorrow(borrowed *big.Int) {
	if borrowed == nil || borrowed.Sign() == 0 {
		return
	}
	if err := p.vault.Repay(p.symbol, borrowed, borrowed); err != nil {
		p.log.Error("borrow unwind failed", "symbol", p.symbol, "amount", borrowed.String(), "error", err)
	}
}

// Redeem burns shares and returns stable. The proportional slice of each
// ledger is released; for Long the exposure slice is sold and the debt slice
// repaid out of proceeds; when proceeds fall short the vault's books are
// still cleared in full and the shortfall silently becomes LP loss. For Short
// the debt slice is bought back from held stable and the NAV-based return is
// capped by what physically remains.
func (p *LeveragedPosition) Redeem(account string, shares *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return nil, ErrPaused
	}
	if amountInvalid(shares) {
		return nil, ErrZeroAmount
	}
	if p.totalSupply.Sign() == 0 {
		return nil, ErrNoSupply
	}
	held := p.shares[account]
	if held == nil || held.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: account %s", ErrInsufficientBalance, account)
	}

	price, err := p.getPriceLocked()
	if err != nil {
		return nil, err
	}
	nav := p.navAtPriceLocked(price)

	// slice = ledger * shares / totalSupply
	exposureSlice := mulDiv(p.totalExposure, shares, p.totalSupply)
	debtSlice := mulDiv(p.totalBorrowed, shares, p.totalSupply)
	collateralSlice := mulDiv(p.totalCollateral, shares, p.totalSupply)

	var returned, repaid, shortfall *big.Int
	switch p.direction {
	case Long:
		proceeds := big.NewInt(0)
		if exposureSlice.Sign() > 0 {
			expected := p.market.ExposureToStable(exposureSlice, price, p.priceDecimals)
			minOut := bpsMul(expected, BpsDenominator-p.slippageToleranceBps)
			proceeds, err = p.venue.SwapExactIn(p.market.ExposureAsset, p.market.StableAsset, exposureSlice, minOut)
			if err != nil {
				return nil, err
			}
		}
		// books clear the full debt slice even when proceeds cannot cover it
		repaid = minBig(bigCopy(proceeds), debtSlice)
		if debtSlice.Sign() > 0 {
			if err := p.vault.Repay(p.symbol, debtSlice, repaid); err != nil {
				return nil, err
			}
		}
		returned = new(big.Int).Sub(proceeds, repaid)
		shortfall = new(big.Int).Sub(debtSlice, repaid)

	case Short:
		spent := big.NewInt(0)
		if debtSlice.Sign() > 0 {
			expected := p.market.ExposureToStable(debtSlice, price, p.priceDecimals)
			maxIn := bpsMul(expected, BpsDenominator+p.slippageToleranceBps)
			spent, err = p.venue.SwapExactOut(p.market.StableAsset, p.market.ExposureAsset, debtSlice, maxIn)
			if err != nil {
				return nil, err
			}
			if err := p.vault.Repay(p.symbol, debtSlice, debtSlice); err != nil {
				return nil, err
			}
		}
		remaining := new(big.Int).Sub(p.stableHeld, spent)
		if remaining.Sign() < 0 {
			p.log.Warn("buyback overspent held stable", "symbol", p.symbol,
				"spent", spent.String(), "held", p.stableHeld.String())
			remaining.SetInt64(0)
		}
		// stableReturned = shares * nav / SCALE, capped at available stable
		navBased := mulDiv(shares, nav, p.navScale)
		returned = minBig(navBased, remaining)
		p.stableHeld.Sub(remaining, returned)
		repaid = debtSlice
		shortfall = big.NewInt(0)
	}

	p.totalExposure.Sub(p.totalExposure, exposureSlice)
	p.totalBorrowed.Sub(p.totalBorrowed, debtSlice)
	p.totalCollateral.Sub(p.totalCollateral, collateralSlice)
	p.debitShares(account, shares)

	p.log.Debug("redeem", "symbol", p.symbol, "account", account,
		"shares", shares.String(), "returned", returned.String(),
		"repaid", repaid.String(), "shortfall", shortfall.String())
	p.sink.Publish(RedeemEvent{
		Symbol:          p.symbol,
		Direction:       p.direction.String(),
		Account:         account,
		Shares:          bigCopy(shares),
		StableReturned:  bigCopy(returned),
		RepaidPrincipal: bigCopy(repaid),
		RepayShortfall:  bigCopy(shortfall),
		Nav:             bigCopy(nav),
		At:              p.nowFn(),
	})
	return bigCopy(returned), nil
}

// CurrentNav computes NAV at the latest oracle price without mutating
// anything.
func (p *LeveragedPosition) CurrentNav() (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, err := p.getPriceLocked()
	if err != nil {
		return nil, err
	}
	return p.navAtPriceLocked(price), nil
}

// Rebalance checkpoints NAV at the current price and re-anchors the drift
// calculation. Nothing else changes: no trade happens and the ledgers keep
// their pre-rebalance values. Callable by anyone once the interval elapses.
func (p *LeveragedPosition) Rebalance() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return ErrPaused
	}
	if p.nowFn().Before(p.lastRebalanceAt.Add(MinRebalanceInterval)) {
		return fmt.Errorf("%w: next rebalance at %s", ErrTooSoon, p.lastRebalanceAt.Add(MinRebalanceInterval))
	}
	return p.rebalanceLocked(false)
}

// ForceRebalance is the owner's bypass of the rebalance rate limit.
func (p *LeveragedPosition) ForceRebalance(caller string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOwner(caller); err != nil {
		return err
	}
	return p.rebalanceLocked(true)
}

func (p *LeveragedPosition) rebalanceLocked(forced bool) error {
	price, err := p.getPriceLocked()
	if err != nil {
		return err
	}

	oldNav := bigCopy(p.navPerShare)
	newNav := p.navAtPriceLocked(price)

	p.navPerShare = newNav
	p.lastRebalancePrice = bigCopy(price)
	p.lastRebalanceAt = p.nowFn()

	p.log.Info("rebalanced", "symbol", p.symbol, "nav", newNav.String(),
		"price", price.String(), "forced", forced)
	p.sink.Publish(RebalanceEvent{
		Symbol:    p.symbol,
		Direction: p.direction.String(),
		OldNav:    oldNav,
		NewNav:    bigCopy(newNav),
		Price:     bigCopy(price),
		Forced:    forced,
		At:        p.lastRebalanceAt,
	})
	return nil
}

// NeedsRebalance reports whether the rate limit has elapsed.
func (p *LeveragedPosition) NeedsRebalance() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.nowFn().Before(p.lastRebalanceAt.Add(MinRebalanceInterval))
}

// Symbol returns the position's identifier, also its borrower id at the
// vault.
func (p *LeveragedPosition) Symbol() string { return p.symbol }

// Direction returns Long or Short.
func (p *LeveragedPosition) Direction() Direction { return p.direction }

// Market returns the traded pair.
func (p *LeveragedPosition) Market() Market { return p.market }

// Vault returns the position's borrowing source.
func (p *LeveragedPosition) Vault() *LendingVault { return p.vault }

// NavPerShare returns the last checkpointed NAV.
func (p *LeveragedPosition) NavPerShare() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.navPerShare)
}

// NavScale returns the fixed-point scale of NAV values.
func (p *LeveragedPosition) NavScale() *big.Int {
	return bigCopy(p.navScale)
}

// LastRebalancePrice returns the current drift anchor.
func (p *LeveragedPosition) LastRebalancePrice() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.lastRebalancePrice)
}

// LastRebalanceAt returns the time of the last NAV checkpoint.
func (p *LeveragedPosition) LastRebalanceAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRebalanceAt
}

// TotalCollateral returns the collateral ledger.
func (p *LeveragedPosition) TotalCollateral() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.totalCollateral)
}

// TotalBorrowed returns the borrow ledger, in the borrowed asset's units.
func (p *LeveragedPosition) TotalBorrowed() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.totalBorrowed)
}

// TotalExposure returns the holdings ledger: exposure units for Long, sale
// proceeds in stable for Short.
func (p *LeveragedPosition) TotalExposure() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.totalExposure)
}

// StableHeld returns physical stable custody (Short only; zero for Long).
func (p *LeveragedPosition) StableHeld() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.stableHeld)
}

// TotalSupply returns the share supply.
func (p *LeveragedPosition) TotalSupply() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bigCopy(p.totalSupply)
}

// ShareBalance returns account's share balance.
func (p *LeveragedPosition) ShareBalance(account string) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s := p.shares[account]; s != nil {
		return bigCopy(s)
	}
	return big.NewInt(0)
}

// LeverageRatioBps returns the target leverage.
func (p *LeveragedPosition) LeverageRatioBps() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leverageRatioBps
}

// SlippageToleranceBps returns the venue bound applied to swaps.
func (p *LeveragedPosition) SlippageToleranceBps() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slippageToleranceBps
}

// IsPaused reports the pause flag.
func (p *LeveragedPosition) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// SetLeverageRatio changes the target leverage within [10000, 50000]. Owner
// only. Takes effect on the next NAV projection; existing holdings are not
// resized.
func (p *LeveragedPosition) SetLeverageRatio(caller string, bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if bps < MinLeverageRatioBps || bps > MaxLeverageRatioBps {
		return fmt.Errorf("leverage %d outside [%d, %d]: %w", bps, MinLeverageRatioBps, MaxLeverageRatioBps, ErrInvalidInput)
	}
	p.leverageRatioBps = bps
	p.log.Info("leverage ratio set", "symbol", p.symbol, "bps", bps)
	p.sink.Publish(PositionParamEvent{Symbol: p.symbol, Param: "leverageRatioBps", Value: bps, At: p.nowFn()})
	return nil
}

// SetSlippageTolerance changes the venue bound. Owner only.
func (p *LeveragedPosition) SetSlippageTolerance(caller string, bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if bps > MaxSlippageToleranceBps {
		return fmt.Errorf("slippage tolerance %d above %d: %w", bps, MaxSlippageToleranceBps, ErrInvalidInput)
	}
	p.slippageToleranceBps = bps
	p.log.Info("slippage tolerance set", "symbol", p.symbol, "bps", bps)
	p.sink.Publish(PositionParamEvent{Symbol: p.symbol, Param: "slippageToleranceBps", Value: bps, At: p.nowFn()})
	return nil
}

// SetOracle swaps the price source. The replacement must quote at the same
// decimal scale and pass the usual validity checks. Owner only.
func (p *LeveragedPosition) SetOracle(caller string, oracle PriceOracle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if oracle == nil {
		return fmt.Errorf("oracle: %w", ErrInvalidInput)
	}
	price, decimals, updatedAt, err := oracle.LatestPrice()
	if err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if decimals != p.priceDecimals {
		return fmt.Errorf("oracle decimals %d, want %d: %w", decimals, p.priceDecimals, ErrInvalidInput)
	}
	if p.nowFn().Sub(updatedAt) > p.oracleStaleAfter {
		return ErrStalePrice
	}
	p.oracle = oracle
	p.log.Info("oracle set", "symbol", p.symbol)
	return nil
}

// Pause blocks mint, redeem, and scheduled rebalances.
func (p *LeveragedPosition) Pause(caller string) error {
	return p.setPaused(caller, true)
}

// Unpause lifts the pause.
func (p *LeveragedPosition) Unpause(caller string) error {
	return p.setPaused(caller, false)
}

func (p *LeveragedPosition) setPaused(caller string, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOwner(caller); err != nil {
		return err
	}
	p.paused = paused
	p.log.Info("position pause state", "symbol", p.symbol, "paused", paused)
	p.sink.Publish(PauseEvent{Component: "position:" + p.symbol, Paused: paused, At: p.nowFn()})
	return nil
}

// requireOwner is the permission check guarding every admin entry point.
func (p *LeveragedPosition) requireOwner(caller string) error {
	if caller != p.owner {
		return fmt.Errorf("caller %s is not owner: %w", caller, ErrUnauthorized)
	}
	return nil
}

func (p *LeveragedPosition) creditShares(account string, amount *big.Int) {
	if s := p.shares[account]; s != nil {
		s.Add(s, amount)
	} else {
		p.shares[account] = bigCopy(amount)
	}
	p.totalSupply.Add(p.totalSupply, amount)
}

func (p *LeveragedPosition) debitShares(account string, amount *big.Int) {
	s := p.shares[account]
	s.Sub(s, amount)
	if s.Sign() == 0 {
		delete(p.shares, account)
	}
	p.totalSupply.Sub(p.totalSupply, amount)
}
