package synth

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// interestDenominator = secondsPerYear * 10000, the divisor of the simple
// linear accrual formula.
var interestDenominator = new(big.Int).Mul(big.NewInt(SecondsPerYear), big.NewInt(BpsDenominator))

// VaultConfig configures a LendingVault.
type VaultConfig struct {
	Asset                 string
	Owner                 string
	InterestRateAnnualBps uint64 // <= 5000
	MaxUtilizationBps     uint64 // <= 10000, 0 means the 9000 default
	Logger                log.Logger
	NowFn                 func() time.Time
	Sink                  EventSink
}

// LendingVault holds a single asset, issues LP shares against it, and lends
// to an allow-list of borrowers under a utilization cap. Interest accrues
// linearly on outstanding principal and is checkpointed on every mutating
// call.
//
// Accounting note: accrued interest is added to the vault's recognized
// assets the moment it is checkpointed, but tokens only arrive if a borrower
// repays through RepayWithInterest. Plain Repay never collects it, so
// recognized assets can exceed the held balance. That gap is deliberate; it
// mirrors the system being simulated.
type LendingVault struct {
	mu  sync.RWMutex
	log log.Logger

	asset  string
	owner  string
	paused bool

	heldBalance            *big.Int
	totalShares            *big.Int
	shares                 map[string]*big.Int
	totalBorrowedPrincipal *big.Int
	accumulatedInterest    *big.Int
	lastAccrual            time.Time
	interestRateAnnualBps  uint64
	maxUtilizationBps      uint64
	authorizedBorrowers    map[string]bool
	borrowerPrincipal      map[string]*big.Int

	nowFn func() time.Time
	sink  EventSink
}

// NewLendingVault creates an empty vault for the configured asset.
func NewLendingVault(cfg VaultConfig) (*LendingVault, error) {
	if cfg.Asset == "" || cfg.Owner == "" {
		return nil, fmt.Errorf("asset and owner required: %w", ErrInvalidInput)
	}
	if cfg.InterestRateAnnualBps > MaxInterestRateBps {
		return nil, fmt.Errorf("interest rate %d above cap: %w", cfg.InterestRateAnnualBps, ErrInvalidInput)
	}
	if cfg.MaxUtilizationBps > BpsDenominator {
		return nil, fmt.Errorf("max utilization %d above 10000: %w", cfg.MaxUtilizationBps, ErrInvalidInput)
	}
	if cfg.MaxUtilizationBps == 0 {
		cfg.MaxUtilizationBps = DefaultMaxUtilizationBps
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root().New("module", "vault")
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = NoopSink()
	}

	return &LendingVault{
		log:                    cfg.Logger,
		asset:                  cfg.Asset,
		owner:                  cfg.Owner,
		heldBalance:            big.NewInt(0),
		totalShares:            big.NewInt(0),
		shares:                 make(map[string]*big.Int),
		totalBorrowedPrincipal: big.NewInt(0),
		accumulatedInterest:    big.NewInt(0),
		lastAccrual:            cfg.NowFn(),
		interestRateAnnualBps:  cfg.InterestRateAnnualBps,
		maxUtilizationBps:      cfg.MaxUtilizationBps,
		authorizedBorrowers:    make(map[string]bool),
		borrowerPrincipal:      make(map[string]*big.Int),
		nowFn:                  cfg.NowFn,
		sink:                   cfg.Sink,
	}, nil
}

// Asset returns the identity of the vault's single asset.
func (v *LendingVault) Asset() string { return v.asset }

// accrue checkpoints pending interest up to now. Caller holds the lock.
func (v *LendingVault) accrue() {
	now := v.nowFn()
	pending := v.pendingInterestAt(now)
	if pending.Sign() > 0 {
		v.accumulatedInterest.Add(v.accumulatedInterest, pending)
	}
	v.lastAccrual = now
}

// pendingInterestAt computes interest accrued since the last checkpoint
// without mutating state. Caller holds at least the read lock.
// pending = principal * rateBps * elapsedSeconds / (secondsPerYear * 10000)
func (v *LendingVault) pendingInterestAt(now time.Time) *big.Int {
	elapsed := now.Unix() - v.lastAccrual.Unix()
	if elapsed <= 0 || v.interestRateAnnualBps == 0 || v.totalBorrowedPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}
	pending := new(big.Int).Mul(v.totalBorrowedPrincipal, new(big.Int).SetUint64(v.interestRateAnnualBps))
	pending.Mul(pending, big.NewInt(elapsed))
	return pending.Div(pending, interestDenominator)
}

// totalAssetsLocked = heldBalance + totalBorrowedPrincipal +
// accumulatedInterest + pending interest. Caller holds at least the read
// lock.
func (v *LendingVault) totalAssetsLocked() *big.Int {
	total := new(big.Int).Add(v.heldBalance, v.totalBorrowedPrincipal)
	total.Add(total, v.accumulatedInterest)
	return total.Add(total, v.pendingInterestAt(v.nowFn()))
}

// Deposit mints LP shares for amount of the asset at the current share
// price (1:1 when supply is zero).
func (v *LendingVault) Deposit(account string, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return nil, ErrPaused
	}
	if account == "" {
		return nil, fmt.Errorf("account: %w", ErrInvalidInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	v.accrue()

	// shares = amount * totalShares / totalAssets, 1:1 on first deposit
	var minted *big.Int
	totalAssets := v.totalAssetsLocked()
	if v.totalShares.Sign() == 0 || totalAssets.Sign() == 0 {
		minted = bigCopy(amount)
	} else {
		minted = mulDiv(amount, v.totalShares, totalAssets)
	}

	v.heldBalance.Add(v.heldBalance, amount)
	v.creditShares(account, minted)

	v.log.Debug("vault deposit", "asset", v.asset, "account", account,
		"amount", amount.String(), "shares", minted.String())
	v.sink.Publish(VaultDepositEvent{
		Asset:   v.asset,
		Account: account,
		Amount:  bigCopy(amount),
		Shares:  bigCopy(minted),
		At:      v.nowFn(),
	})
	return bigCopy(minted), nil
}

// Withdraw burns shares worth assetAmount and releases that many tokens.
// Only the held balance gates withdrawal: borrowed-out funds are simply
// unavailable, whatever the recognized total says.
func (v *LendingVault) Withdraw(account string, assetAmount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return nil, ErrPaused
	}
	if amountInvalid(assetAmount) {
		return nil, ErrZeroAmount
	}

	v.accrue()

	// shares = assetAmount * totalShares / totalAssets
	totalAssets := v.totalAssetsLocked()
	if v.totalShares.Sign() == 0 || totalAssets.Sign() == 0 {
		return nil, ErrNoSupply
	}
	burned := mulDiv(assetAmount, v.totalShares, totalAssets)

	held := v.shares[account]
	if held == nil || held.Cmp(burned) < 0 {
		return nil, fmt.Errorf("%w: need %s shares", ErrInsufficientBalance, burned)
	}
	if assetAmount.Cmp(v.heldBalance) > 0 {
		return nil, fmt.Errorf("%w: want %s, held %s", ErrInsufficientLiquidity, assetAmount, v.heldBalance)
	}

	v.debitShares(account, burned)
	v.heldBalance.Sub(v.heldBalance, assetAmount)

	v.log.Debug("vault withdraw", "asset", v.asset, "account", account,
		"amount", assetAmount.String(), "shares", burned.String())
	v.sink.Publish(VaultWithdrawEvent{
		Asset:   v.asset,
		Account: account,
		Amount:  bigCopy(assetAmount),
		Shares:  bigCopy(burned),
		At:      v.nowFn(),
	})
	return bigCopy(burned), nil
}

// Borrow lends amount to an authorized borrower, subject to held liquidity
// and the utilization cap.
func (v *LendingVault) Borrow(borrower string, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if !v.authorizedBorrowers[borrower] {
		return fmt.Errorf("borrower %s: %w", borrower, ErrUnauthorized)
	}
	if amountInvalid(amount) {
		return ErrZeroAmount
	}

	v.accrue()

	if amount.Cmp(v.heldBalance) > 0 {
		return fmt.Errorf("%w: want %s, held %s", ErrInsufficientLiquidity, amount, v.heldBalance)
	}

	// (principal + amount) * 10000 <= maxUtilizationBps * totalAssets
	newPrincipal := new(big.Int).Add(v.totalBorrowedPrincipal, amount)
	lhs := new(big.Int).Mul(newPrincipal, big.NewInt(BpsDenominator))
	rhs := new(big.Int).Mul(v.totalAssetsLocked(), new(big.Int).SetUint64(v.maxUtilizationBps))
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: cap %d bps", ErrUtilizationExceeded, v.maxUtilizationBps)
	}

	v.heldBalance.Sub(v.heldBalance, amount)
	v.totalBorrowedPrincipal.Set(newPrincipal)
	v.creditPrincipal(borrower, amount)

	v.log.Debug("vault borrow", "asset", v.asset, "borrower", borrower,
		"amount", amount.String(), "utilization", v.utilizationBpsLocked())
	v.sink.Publish(VaultBorrowEvent{
		Asset:          v.asset,
		Borrower:       borrower,
		Amount:         bigCopy(amount),
		UtilizationBps: v.utilizationBpsLocked(),
		At:             v.nowFn(),
	})
	return nil
}

// Repay clears principal from the borrower's ledger while receiving payment
// tokens. The ledger is decremented by principal unconditionally; a payment
// below principal leaves the books cleared but the vault short, which is the
// documented bad-debt path. Accrued interest is untouched.
func (v *LendingVault) Repay(borrower string, principal, payment *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if amountInvalid(principal) {
		return ErrZeroAmount
	}
	if payment == nil || payment.Sign() < 0 {
		return fmt.Errorf("payment: %w", ErrInvalidInput)
	}

	v.accrue()

	owed := v.borrowerPrincipal[borrower]
	if owed == nil || principal.Cmp(owed) > 0 {
		return fmt.Errorf("%w: repay %s, owed %s", ErrExceedsDebt, principal, owed)
	}

	v.debitPrincipal(borrower, principal)
	v.totalBorrowedPrincipal.Sub(v.totalBorrowedPrincipal, principal)
	v.heldBalance.Add(v.heldBalance, payment)

	shortfall := new(big.Int).Sub(principal, payment)
	if shortfall.Sign() < 0 {
		shortfall.SetInt64(0)
	}
	if shortfall.Sign() > 0 {
		v.log.Warn("repay shortfall absorbed by LPs", "asset", v.asset,
			"borrower", borrower, "principal", principal.String(), "payment", payment.String())
	}

	v.sink.Publish(VaultRepayEvent{
		Asset:     v.asset,
		Borrower:  borrower,
		Principal: bigCopy(principal),
		Payment:   bigCopy(payment),
		Interest:  big.NewInt(0),
		Shortfall: shortfall,
		At:        v.nowFn(),
	})
	return nil
}

// RepayWithInterest repays principal plus an interest payment. Interest
// tokens actually arrive here, so the matching slice of accumulated
// interest is considered collected.
func (v *LendingVault) RepayWithInterest(borrower string, principal, interest *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if amountInvalid(principal) {
		return ErrZeroAmount
	}
	if interest == nil || interest.Sign() < 0 {
		return fmt.Errorf("interest: %w", ErrInvalidInput)
	}

	v.accrue()

	owed := v.borrowerPrincipal[borrower]
	if owed == nil || principal.Cmp(owed) > 0 {
		return fmt.Errorf("%w: repay %s, owed %s", ErrExceedsDebt, principal, owed)
	}

	v.debitPrincipal(borrower, principal)
	v.totalBorrowedPrincipal.Sub(v.totalBorrowedPrincipal, principal)
	v.heldBalance.Add(v.heldBalance, new(big.Int).Add(principal, interest))

	// collected interest comes off the accumulator, clamped at zero
	collected := minBig(bigCopy(interest), v.accumulatedInterest)
	v.accumulatedInterest.Sub(v.accumulatedInterest, collected)

	v.sink.Publish(VaultRepayEvent{
		Asset:     v.asset,
		Borrower:  borrower,
		Principal: bigCopy(principal),
		Payment:   new(big.Int).Add(principal, interest),
		Interest:  bigCopy(interest),
		Shortfall: big.NewInt(0),
		At:        v.nowFn(),
	})
	return nil
}

// GetDebt reports a borrower's outstanding principal and a pro-rata estimate
// of the interest attributable to it. The estimate splits the checkpointed
// accumulator by principal share; with borrowers entering at different times
// it is only approximately fair.
func (v *LendingVault) GetDebt(borrower string) (principal, interest *big.Int) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	owed := v.borrowerPrincipal[borrower]
	if owed == nil || owed.Sign() == 0 || v.totalBorrowedPrincipal.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	// interest = accumulatedInterest * borrowerPrincipal / totalBorrowedPrincipal
	return bigCopy(owed), mulDiv(v.accumulatedInterest, owed, v.totalBorrowedPrincipal)
}

// AvailableLiquidity returns the held token balance, the only funds that can
// actually leave the vault.
func (v *LendingVault) AvailableLiquidity() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return bigCopy(v.heldBalance)
}

// TotalAssets returns the recognized asset total including interest that may
// never have arrived as tokens.
func (v *LendingVault) TotalAssets() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalAssetsLocked()
}

// UtilizationRate returns borrowed principal over recognized assets in bps.
func (v *LendingVault) UtilizationRate() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.utilizationBpsLocked()
}

func (v *LendingVault) utilizationBpsLocked() uint64 {
	total := v.totalAssetsLocked()
	if total.Sign() == 0 {
		return 0
	}
	util := new(big.Int).Mul(v.totalBorrowedPrincipal, big.NewInt(BpsDenominator))
	return util.Div(util, total).Uint64()
}

// TotalSupply returns the LP share supply.
func (v *LendingVault) TotalSupply() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return bigCopy(v.totalShares)
}

// ShareBalance returns account's LP share balance.
func (v *LendingVault) ShareBalance(account string) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if s := v.shares[account]; s != nil {
		return bigCopy(s)
	}
	return big.NewInt(0)
}

// AccumulatedInterest returns interest recognized but not yet collected.
func (v *LendingVault) AccumulatedInterest() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return bigCopy(v.accumulatedInterest)
}

// TotalBorrowed returns outstanding principal across all borrowers.
func (v *LendingVault) TotalBorrowed() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return bigCopy(v.totalBorrowedPrincipal)
}

// InterestRateBps returns the annual rate in basis points.
func (v *LendingVault) InterestRateBps() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.interestRateAnnualBps
}

// MaxUtilizationBps returns the utilization cap.
func (v *LendingVault) MaxUtilizationBps() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.maxUtilizationBps
}

// IsPaused reports the pause flag.
func (v *LendingVault) IsPaused() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.paused
}

// IsAuthorizedBorrower reports allow-list membership.
func (v *LendingVault) IsAuthorizedBorrower(borrower string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.authorizedBorrowers[borrower]
}

// AuthorizeBorrower adds a borrower to the allow-list. Owner only.
func (v *LendingVault) AuthorizeBorrower(caller, borrower string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if borrower == "" {
		return fmt.Errorf("borrower: %w", ErrInvalidInput)
	}
	if v.authorizedBorrowers[borrower] {
		return fmt.Errorf("borrower %s already authorized: %w", borrower, ErrInvalidInput)
	}
	v.authorizedBorrowers[borrower] = true
	v.log.Info("borrower authorized", "asset", v.asset, "borrower", borrower)
	return nil
}

// RevokeBorrower removes a borrower from the allow-list. Outstanding debt is
// unaffected; the borrower just cannot draw more.
func (v *LendingVault) RevokeBorrower(caller, borrower string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if !v.authorizedBorrowers[borrower] {
		return fmt.Errorf("borrower %s not authorized: %w", borrower, ErrInvalidInput)
	}
	delete(v.authorizedBorrowers, borrower)
	v.log.Info("borrower revoked", "asset", v.asset, "borrower", borrower)
	return nil
}

// SetInterestRate changes the annual rate. The old rate is accrued up to now
// first so past intervals keep their pricing.
func (v *LendingVault) SetInterestRate(caller string, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if bps > MaxInterestRateBps {
		return fmt.Errorf("rate %d above cap %d: %w", bps, MaxInterestRateBps, ErrInvalidInput)
	}

	v.accrue()
	v.interestRateAnnualBps = bps

	v.log.Info("interest rate set", "asset", v.asset, "bps", bps)
	v.sink.Publish(VaultParamEvent{Asset: v.asset, Param: "interestRateAnnualBps", Value: bps, At: v.nowFn()})
	return nil
}

// SetMaxUtilization changes the utilization cap.
func (v *LendingVault) SetMaxUtilization(caller string, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if bps > BpsDenominator {
		return fmt.Errorf("utilization cap %d above 10000: %w", bps, ErrInvalidInput)
	}
	v.maxUtilizationBps = bps

	v.log.Info("max utilization set", "asset", v.asset, "bps", bps)
	v.sink.Publish(VaultParamEvent{Asset: v.asset, Param: "maxUtilizationBps", Value: bps, At: v.nowFn()})
	return nil
}

// Pause blocks all mutating operations.
func (v *LendingVault) Pause(caller string) error {
	return v.setPaused(caller, true)
}

// Unpause lifts the pause.
func (v *LendingVault) Unpause(caller string) error {
	return v.setPaused(caller, false)
}

func (v *LendingVault) setPaused(caller string, paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOwner(caller); err != nil {
		return err
	}
	v.paused = paused
	v.log.Info("vault pause state", "asset", v.asset, "paused", paused)
	v.sink.Publish(PauseEvent{Component: "vault:" + v.asset, Paused: paused, At: v.nowFn()})
	return nil
}

// requireOwner is the permission check guarding every admin entry point.
func (v *LendingVault) requireOwner(caller string) error {
	if caller != v.owner {
		return fmt.Errorf("caller %s is not owner: %w", caller, ErrUnauthorized)
	}
	return nil
}

func (v *LendingVault) creditShares(account string, amount *big.Int) {
	if s := v.shares[account]; s != nil {
		s.Add(s, amount)
	} else {
		v.shares[account] = bigCopy(amount)
	}
	v.totalShares.Add(v.totalShares, amount)
}

func (v *LendingVault) debitShares(account string, amount *big.Int) {
	s := v.shares[account]
	s.Sub(s, amount)
	if s.Sign() == 0 {
		delete(v.shares, account)
	}
	v.totalShares.Sub(v.totalShares, amount)
}

func (v *LendingVault) creditPrincipal(borrower string, amount *big.Int) {
	if p := v.borrowerPrincipal[borrower]; p != nil {
		p.Add(p, amount)
	} else {
		v.borrowerPrincipal[borrower] = bigCopy(amount)
	}
}

func (v *LendingVault) debitPrincipal(borrower string, amount *big.Int) {
	p := v.borrowerPrincipal[borrower]
	p.Sub(p, amount)
	if p.Sign() == 0 {
		delete(v.borrowerPrincipal, borrower)
	}
}

func amountInvalid(amount *big.Int) bool {
	return amount == nil || amount.Sign() <= 0
}
