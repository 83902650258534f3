package main

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/synth/pkg/synth"
)

// consoleSink prints every engine event as it happens.
type consoleSink struct{}

func (consoleSink) Publish(ev synth.Event) {
	switch e := ev.(type) {
	case synth.VaultDepositEvent:
		fmt.Printf("   → %-16s asset=%s account=%s amount=%s shares=%s\n",
			e.EventType(), e.Asset, e.Account, e.Amount, e.Shares)
	case synth.VaultWithdrawEvent:
		fmt.Printf("   → %-16s asset=%s account=%s amount=%s shares=%s\n",
			e.EventType(), e.Asset, e.Account, e.Amount, e.Shares)
	case synth.VaultBorrowEvent:
		fmt.Printf("   → %-16s asset=%s borrower=%s amount=%s\n",
			e.EventType(), e.Asset, e.Borrower, e.Amount)
	case synth.VaultRepayEvent:
		fmt.Printf("   → %-16s asset=%s borrower=%s principal=%s payment=%s shortfall=%s\n",
			e.EventType(), e.Asset, e.Borrower, e.Principal, e.Payment, e.Shortfall)
	case synth.MintEvent:
		fmt.Printf("   → %-16s symbol=%s account=%s collateral=%s shares=%s nav=%s\n",
			e.EventType(), e.Symbol, e.Account, e.Collateral, e.Shares, e.Nav)
	case synth.RedeemEvent:
		fmt.Printf("   → %-16s symbol=%s account=%s shares=%s returned=%s repaid=%s shortfall=%s\n",
			e.EventType(), e.Symbol, e.Account, e.Shares, e.StableReturned, e.RepaidPrincipal, e.RepayShortfall)
	case synth.RebalanceEvent:
		fmt.Printf("   → %-16s symbol=%s oldNav=%s newNav=%s price=%s\n",
			e.EventType(), e.Symbol, e.OldNav, e.NewNav, e.Price)
	default:
		fmt.Printf("   → %-16s\n", ev.EventType())
	}
}

type sim struct {
	current time.Time
	price   *big.Int

	market synth.Market
	oracle *synth.SimplePriceOracle
	venue  *synth.OracleQuotedVenue

	usdcVault *synth.LendingVault
	wethVault *synth.LendingVault
	eth2l     *synth.LeveragedPosition
	eth3l     *synth.LeveragedPosition
	eth2s     *synth.LeveragedPosition
}

func usdc(v *big.Int) string { return decimal.NewFromBigInt(v, -6).StringFixed(2) }
func weth(v *big.Int) string { return decimal.NewFromBigInt(v, -8).StringFixed(4) }
func nav(v *big.Int) string  { return decimal.NewFromBigInt(v, -6).StringFixed(4) }

func (s *sim) now() time.Time { return s.current }

// advance moves the simulated clock and refreshes the oracle so reads never
// go stale mid-scenario.
func (s *sim) advance(d time.Duration) {
	s.current = s.current.Add(d)
	s.oracle.SetPrice(s.price, s.current)
	fmt.Printf("\n⏩ Clock advanced %v (now %s)\n", d, s.current.Format(time.RFC3339))
}

func (s *sim) setPrice(p int64) {
	s.price = big.NewInt(p)
	s.oracle.SetPrice(s.price, s.current)
	fmt.Printf("💹 Oracle price set to %s USDC/WETH\n", decimal.NewFromBigInt(s.price, -8).StringFixed(2))
}

func (s *sim) printVault(v *synth.LendingVault) {
	fmtAmt := usdc
	if v.Asset() == "WETH" {
		fmtAmt = weth
	}
	held := v.AvailableLiquidity()
	borrowed := v.TotalBorrowed()
	assets := v.TotalAssets()
	gap := new(big.Int).Sub(assets, new(big.Int).Add(held, borrowed))

	fmt.Printf("   Vault %-5s held=%s borrowed=%s totalAssets=%s shares=%s util=%dbps",
		v.Asset(), fmtAmt(held), fmtAmt(borrowed), fmtAmt(assets),
		fmtAmt(v.TotalSupply()), v.UtilizationRate())
	if gap.Sign() != 0 {
		fmt.Printf("  [interest on books, no tokens: %s]", fmtAmt(gap))
	}
	fmt.Println()
}

func (s *sim) printPosition(p *synth.LeveragedPosition) {
	if p.Direction() == synth.Short {
		fmt.Printf("   Token %-5s nav=%s supply=%s collateral=%s borrowed=%s proceeds=%s stableHeld=%s\n",
			p.Symbol(), nav(p.NavPerShare()), usdc(p.TotalSupply()),
			usdc(p.TotalCollateral()), weth(p.TotalBorrowed()),
			usdc(p.TotalExposure()), usdc(p.StableHeld()))
		return
	}
	fmt.Printf("   Token %-5s nav=%s supply=%s collateral=%s borrowed=%s exposure=%s\n",
		p.Symbol(), nav(p.NavPerShare()), usdc(p.TotalSupply()),
		usdc(p.TotalCollateral()), usdc(p.TotalBorrowed()), weth(p.TotalExposure()))
}

func (s *sim) printBooks() {
	fmt.Println()
	s.printVault(s.usdcVault)
	s.printVault(s.wethVault)
	s.printPosition(s.eth2l)
	s.printPosition(s.eth3l)
	s.printPosition(s.eth2s)
}

func main() {
	fmt.Println("=== Synth Ledger Simulation ===")
	fmt.Println("Market: WETH/USDC | Start price: 2000.00 | Vault rate: 5% APR")
	fmt.Println()

	s := &sim{
		current: time.Unix(1_700_000_000, 0).UTC(),
		price:   big.NewInt(200_000_000_000),
		market: synth.Market{
			StableAsset:      "USDC",
			ExposureAsset:    "WETH",
			StableDecimals:   6,
			ExposureDecimals: 8,
		},
	}

	s.oracle = synth.NewSimplePriceOracle(s.price, 8, s.current)

	var err error
	s.venue, err = synth.NewOracleQuotedVenue(s.market, s.oracle)
	if err != nil {
		panic(err)
	}

	sink := consoleSink{}

	s.usdcVault, err = synth.NewLendingVault(synth.VaultConfig{
		Asset:                 "USDC",
		Owner:                 "owner",
		InterestRateAnnualBps: 500,
		NowFn:                 s.now,
		Sink:                  sink,
	})
	if err != nil {
		panic(err)
	}
	s.wethVault, err = synth.NewLendingVault(synth.VaultConfig{
		Asset:                 "WETH",
		Owner:                 "owner",
		InterestRateAnnualBps: 500,
		NowFn:                 s.now,
		Sink:                  sink,
	})
	if err != nil {
		panic(err)
	}

	mkPosition := func(symbol string, dir synth.Direction, leverageBps uint64, vault *synth.LendingVault) *synth.LeveragedPosition {
		p, err := synth.NewLeveragedPosition(synth.PositionConfig{
			Symbol:           symbol,
			Direction:        dir,
			Market:           s.market,
			Owner:            "owner",
			LeverageRatioBps: leverageBps,
			Vault:            vault,
			Oracle:           s.oracle,
			Venue:            s.venue,
			NowFn:            s.now,
			Sink:             sink,
		})
		if err != nil {
			panic(err)
		}
		if err := vault.AuthorizeBorrower("owner", symbol); err != nil {
			panic(err)
		}
		return p
	}

	s.eth2l = mkPosition("ETH2L", synth.Long, 20_000, s.usdcVault)
	s.eth3l = mkPosition("ETH3L", synth.Long, 30_000, s.usdcVault)
	s.eth2s = mkPosition("ETH2S", synth.Short, 20_000, s.wethVault)

	// ---------------------------------------------------------------
	fmt.Println("Phase 1: Vault funding")
	if _, err := s.usdcVault.Deposit("lp", big.NewInt(100_000_000_000)); err != nil {
		panic(err)
	}
	if _, err := s.wethVault.Deposit("lp", big.NewInt(10_000_000_000)); err != nil {
		panic(err)
	}
	fmt.Println("✓ lp funded 100,000.00 USDC and 100.0000 WETH")
	s.printBooks()

	// ---------------------------------------------------------------
	fmt.Println("\nPhase 2: Minting at 2000.00")
	if _, err := s.eth2l.Mint("alice", big.NewInt(1_000_000_000)); err != nil {
		panic(err)
	}
	if _, err := s.eth3l.Mint("carol", big.NewInt(2_000_000_000)); err != nil {
		panic(err)
	}
	if _, err := s.eth2s.Mint("dave", big.NewInt(1_000_000_000)); err != nil {
		panic(err)
	}
	fmt.Println("✓ alice minted ETH2L with 1,000.00 USDC (2x long)")
	fmt.Println("✓ carol minted ETH3L with 2,000.00 USDC (3x long)")
	fmt.Println("✓ dave minted ETH2S with 1,000.00 USDC (2x short, borrows WETH)")
	s.printBooks()

	// ---------------------------------------------------------------
	fmt.Println("\nPhase 3: Rally to 2200.00 (+10%), scheduled rebalance")
	s.advance(24 * time.Hour)
	s.setPrice(220_000_000_000)

	exposureBefore := s.eth2l.TotalExposure()
	borrowedBefore := s.eth2l.TotalBorrowed()

	for _, p := range []*synth.LeveragedPosition{s.eth2l, s.eth3l, s.eth2s} {
		if p.NeedsRebalance() {
			if err := p.Rebalance(); err != nil {
				panic(err)
			}
		}
	}

	fmt.Printf("✓ ETH2L NAV %s (2x of +10%%), ETH3L NAV %s (3x), ETH2S NAV %s (-2x)\n",
		nav(s.eth2l.NavPerShare()), nav(s.eth3l.NavPerShare()), nav(s.eth2s.NavPerShare()))
	fmt.Printf("✓ Rebalance re-anchored NAV only: ETH2L exposure %s → %s WETH, borrowed %s → %s USDC\n",
		weth(exposureBefore), weth(s.eth2l.TotalExposure()),
		usdc(borrowedBefore), usdc(s.eth2l.TotalBorrowed()))

	fmt.Println("\n   alice takes profit on half her ETH2L:")
	returned, err := s.eth2l.Redeem("alice", big.NewInt(500_000_000))
	if err != nil {
		panic(err)
	}
	fmt.Printf("✓ alice redeemed 500.0000 shares for %s USDC\n", usdc(returned))
	s.printBooks()

	// ---------------------------------------------------------------
	fmt.Println("\nPhase 4: One year of interest accrual")
	s.advance(364 * 24 * time.Hour)

	assets := s.usdcVault.TotalAssets()
	held := s.usdcVault.AvailableLiquidity()
	borrowed := s.usdcVault.TotalBorrowed()
	gap := new(big.Int).Sub(assets, new(big.Int).Add(held, borrowed))
	fmt.Printf("✓ USDC vault books: totalAssets=%s but held+borrowed=%s\n",
		usdc(assets), usdc(new(big.Int).Add(held, borrowed)))
	fmt.Printf("✓ %s USDC of interest is recognized as assets with no token inflow\n", usdc(gap))

	fmt.Println("\n   bob deposits 10,000.00 USDC at the inflated share price:")
	shares, err := s.usdcVault.Deposit("bob", big.NewInt(10_000_000_000))
	if err != nil {
		panic(err)
	}
	fmt.Printf("✓ bob received %s shares for 10,000.00 USDC (price >1 from accrued interest)\n", usdc(shares))
	s.printBooks()

	// ---------------------------------------------------------------
	fmt.Println("\nPhase 5: Crash to 1200.00 (-40% from entry), forced unwind")
	s.advance(24 * time.Hour)
	s.setPrice(120_000_000_000)

	assetsBefore := s.usdcVault.TotalAssets()
	carolShares := s.eth3l.ShareBalance("carol")

	returned, err = s.eth3l.Redeem("carol", carolShares)
	if err != nil {
		panic(err)
	}
	assetsAfter := s.usdcVault.TotalAssets()

	fmt.Printf("✓ carol redeemed all ETH3L shares, received %s USDC back\n", usdc(returned))
	fmt.Printf("✓ Sale proceeds fell short of the 4,000.00 USDC debt, yet the vault cleared it in full\n")
	fmt.Printf("✓ Vault totalAssets %s → %s: the gap left the books without any loss entry\n",
		usdc(assetsBefore), usdc(assetsAfter))
	s.printBooks()

	// ---------------------------------------------------------------
	fmt.Println("\nPhase 6: Unwind remainder")
	if _, err := s.eth2l.Redeem("alice", s.eth2l.ShareBalance("alice")); err != nil {
		panic(err)
	}
	if _, err := s.eth2s.Redeem("dave", s.eth2s.ShareBalance("dave")); err != nil {
		panic(err)
	}
	fmt.Println("✓ alice and dave closed their remaining positions")
	s.printBooks()

	fmt.Println("\n=== Ledger behaviors demonstrated ===")
	fmt.Println("1. Rebalance re-anchors NAV drift but trades nothing; exposure and debt stay put")
	fmt.Println("2. Accrued interest inflates vault assets and share price with no backing tokens")
	fmt.Println("3. Undercollateralized redemption clears the full debt and hides the shortfall")
}
