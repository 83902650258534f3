package synth

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The reference trade: 100k of LP liquidity, a 1000 mint at 2x and $2000.
// The position borrows another 1000 stable and ends up holding exactly one
// exposure unit.
func TestMintLong(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	requireBigEqual(t, usdc(1_000), shares)
	requireBigEqual(t, usdc(1_000), env.pos.TotalCollateral())
	requireBigEqual(t, usdc(1_000), env.pos.TotalBorrowed())
	requireBigEqual(t, weth(1), env.pos.TotalExposure())
	requireBigEqual(t, usdc(1_000), env.pos.ShareBalance(trader1))

	// vault side: 1000 went out the door to this borrower
	requireBigEqual(t, usdc(99_000), env.vault.AvailableLiquidity())
	principal, _ := env.vault.GetDebt(env.pos.Symbol())
	requireBigEqual(t, usdc(1_000), principal)
}

func TestMintShort(t *testing.T) {
	env := newTestEnv(t, Short, 20_000, weth(100))

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	// 2000 of exposure is one unit at $2000; selling it brings 2000 stable
	requireBigEqual(t, usdc(1_000), shares)
	requireBigEqual(t, usdc(1_000), env.pos.TotalCollateral())
	requireBigEqual(t, weth(1), env.pos.TotalBorrowed())
	requireBigEqual(t, usdc(2_000), env.pos.TotalExposure())
	requireBigEqual(t, usdc(3_000), env.pos.StableHeld())

	principal, _ := env.vault.GetDebt(env.pos.Symbol())
	requireBigEqual(t, weth(1), principal)
}

func TestMintValidation(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	_, err := env.pos.Mint(trader1, big.NewInt(0))
	require.ErrorIs(t, err, ErrZeroAmount)

	require.NoError(t, env.pos.Pause(testOwner))
	_, err = env.pos.Mint(trader1, usdc(1))
	require.ErrorIs(t, err, ErrPaused)
}

func TestMintPropagatesVaultErrors(t *testing.T) {
	t.Run("insufficient liquidity", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(500))

		_, err := env.pos.Mint(trader1, usdc(1_000))
		require.ErrorIs(t, err, ErrInsufficientLiquidity)

		// nothing committed on either side
		requireBigEqual(t, big.NewInt(0), env.pos.TotalSupply())
		requireBigEqual(t, usdc(500), env.vault.AvailableLiquidity())
	})

	t.Run("utilization cap", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(1_000))

		// borrowing 1000 against 1000 of assets would be 100% utilization
		_, err := env.pos.Mint(trader1, usdc(1_000))
		require.ErrorIs(t, err, ErrUtilizationExceeded)
		requireBigEqual(t, big.NewInt(0), env.pos.TotalSupply())
	})
}

// A venue refusal must unwind the borrow taken earlier in the same mint.
func TestMintSlippageRollback(t *testing.T) {
	for _, dir := range []Direction{Long, Short} {
		t.Run(dir.String(), func(t *testing.T) {
			liquidity := usdc(100_000)
			if dir == Short {
				liquidity = weth(100)
			}
			env := newTestEnv(t, dir, 20_000, liquidity)
			env.venue.SetSpread(200) // tolerance is 50 bps

			_, err := env.pos.Mint(trader1, usdc(1_000))
			require.ErrorIs(t, err, ErrSlippageExceeded)

			requireBigEqual(t, big.NewInt(0), env.pos.TotalSupply())
			requireBigEqual(t, big.NewInt(0), env.pos.TotalBorrowed())
			requireBigEqual(t, big.NewInt(0), env.vault.TotalBorrowed())
			requireBigEqual(t, liquidity, env.vault.AvailableLiquidity())
		})
	}
}

// Minting and immediately redeeming the full balance at an unchanged price
// and a frictionless venue returns the collateral, bar rounding dust.
func TestMintRedeemRoundTrip(t *testing.T) {
	leverages := []uint64{10_000, 15_000, 20_000, 35_000, 50_000}
	collaterals := []int64{1, 250, 1_000, 99_999}

	for _, dir := range []Direction{Long, Short} {
		t.Run(dir.String(), func(t *testing.T) {
			for _, lev := range leverages {
				for _, col := range collaterals {
					liquidity := usdc(1_000_000)
					if dir == Short {
						liquidity = weth(1_000)
					}
					env := newTestEnv(t, dir, lev, liquidity)

					shares, err := env.pos.Mint(trader1, usdc(col))
					require.NoError(t, err, "lev %d col %d", lev, col)

					returned, err := env.pos.Redeem(trader1, shares)
					require.NoError(t, err, "lev %d col %d", lev, col)

					requireBigWithin(t, usdc(col), returned, 2)
					requireBigEqual(t, big.NewInt(0), env.pos.TotalSupply())
				}
			}
		})
	}
}

func TestRedeemValidation(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	_, err := env.pos.Redeem(trader1, usdc(1))
	require.ErrorIs(t, err, ErrNoSupply)

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	_, err = env.pos.Redeem(trader1, big.NewInt(0))
	require.ErrorIs(t, err, ErrZeroAmount)

	tooMany := new(big.Int).Add(shares, big.NewInt(1))
	_, err = env.pos.Redeem(trader1, tooMany)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = env.pos.Redeem(trader2, shares)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRedeemProportional(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	half := new(big.Int).Div(shares, big.NewInt(2))
	returned, err := env.pos.Redeem(trader1, half)
	require.NoError(t, err)

	requireBigWithin(t, usdc(500), returned, 2)
	requireBigWithin(t, usdc(500), env.pos.TotalCollateral(), 2)
	requireBigWithin(t, usdc(500), env.pos.TotalBorrowed(), 2)
	requireBigWithin(t, new(big.Int).Div(weth(1), big.NewInt(2)), env.pos.TotalExposure(), 2)

	// the vault was repaid the same proportional principal
	principal, _ := env.vault.GetDebt(env.pos.Symbol())
	requireBigWithin(t, usdc(500), principal, 2)
}

// Price falls far enough that the exposure no longer covers the debt. The
// redeem sells for 900, owes 1000, hands the vault all 900, and the vault
// wipes the full 1000 from its books. The missing 100 never surfaces
// anywhere except the held-balance audit.
func TestRedeemInsolvencyLong(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)
	requireBigEqual(t, usdc(99_000), env.vault.AvailableLiquidity())

	env.setPrice(900)

	returned, err := env.pos.Redeem(trader1, shares)
	require.NoError(t, err)

	// the trader gets nothing back, the position is flat
	requireBigEqual(t, big.NewInt(0), returned)
	requireBigEqual(t, big.NewInt(0), env.pos.TotalSupply())
	requireBigEqual(t, big.NewInt(0), env.pos.TotalBorrowed())

	// vault books say the loan is cleared even though 100 never came back
	principal, _ := env.vault.GetDebt(env.pos.Symbol())
	requireBigEqual(t, big.NewInt(0), principal)
	requireBigEqual(t, big.NewInt(0), env.vault.TotalBorrowed())
	requireBigEqual(t, usdc(99_900), env.vault.AvailableLiquidity())

	// LPs deposited 100000 and the books now hold 99900
	requireBigEqual(t, usdc(99_900), env.vault.TotalAssets())

	redeems := env.sink.ofType("position.redeem")
	require.Len(t, redeems, 1)
	requireBigEqual(t, usdc(100), redeems[0].(RedeemEvent).RepayShortfall)
}

// A rising price squeezes the short: buying the debt back costs more than
// the NAV math admits, and the payout caps at the stable actually left.
func TestRedeemShortCapsAtAvailableStable(t *testing.T) {
	env := newTestEnv(t, Short, 20_000, weth(100))
	env.venue.SetSpread(30)

	shares, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	// sale at 30 bps spread brought 1994 instead of 2000
	requireBigEqual(t, usdc(2_994), env.pos.StableHeld())

	env.setPrice(2_600)

	returned, err := env.pos.Redeem(trader1, shares)
	require.NoError(t, err)

	// buyback cost 2600 * 1.003 = 2607.80; 386.20 of stable remained,
	// which is less than the NAV-based 400
	requireBigEqual(t, big.NewInt(386_200_000), returned)
	requireBigEqual(t, big.NewInt(0), env.pos.StableHeld())

	// debt fully bought back and repaid in kind
	requireBigEqual(t, big.NewInt(0), env.vault.TotalBorrowed())
	requireBigEqual(t, weth(100), env.vault.AvailableLiquidity())
}

// §leverage drift: a 2x position moves twice the price, both directions.
func TestNavLeverageScenario(t *testing.T) {
	cases := []struct {
		name    string
		dir     Direction
		price   int64
		wantNav int64
	}{
		{"long +10%", Long, 2_200, 1_200_000},
		{"long -10%", Long, 1_800, 800_000},
		{"short +10%", Short, 2_200, 800_000},
		{"short -10%", Short, 1_800, 1_200_000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			liquidity := usdc(100_000)
			if tc.dir == Short {
				liquidity = weth(100)
			}
			env := newTestEnv(t, tc.dir, 20_000, liquidity)

			_, err := env.pos.Mint(trader1, usdc(1_000))
			require.NoError(t, err)

			env.setPrice(tc.price)
			nav, err := env.pos.CurrentNav()
			require.NoError(t, err)
			requireBigEqual(t, big.NewInt(tc.wantNav), nav)
		})
	}
}

// The concrete reference numbers: $2000 -> $2200 at 2x long lifts NAV from
// 1.0 to at least 1.195.
func TestNavConcreteScenario(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	_, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)
	requireBigEqual(t, usdc(1_000), env.pos.TotalBorrowed())
	requireBigEqual(t, weth(1), env.pos.TotalExposure())

	env.setPrice(2_200)
	nav, err := env.pos.CurrentNav()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, nav.Int64(), int64(1_195_000))
}

// Rebalance must not resize anything: ledgers before and after are
// identical, only the NAV checkpoint and its anchors move.
func TestRebalanceDoesNotResize(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	_, err := env.pos.Mint(trader1, usdc(1_000))
	require.NoError(t, err)

	collateralBefore := env.pos.TotalCollateral()
	borrowedBefore := env.pos.TotalBorrowed()
	exposureBefore := env.pos.TotalExposure()

	env.pass(21 * time.Hour)
	env.setPrice(2_200)
	require.NoError(t, env.pos.Rebalance())

	requireBigEqual(t, collateralBefore, env.pos.TotalCollateral())
	requireBigEqual(t, borrowedBefore, env.pos.TotalBorrowed())
	requireBigEqual(t, exposureBefore, env.pos.TotalExposure())

	requireBigEqual(t, big.NewInt(1_200_000), env.pos.NavPerShare())
	requireBigEqual(t, px(2_200), env.pos.LastRebalancePrice())
	require.Equal(t, env.clock.Now(), env.pos.LastRebalanceAt())

	// real leverage drifted: 1.1 units-worth of exposure on 0.6 of equity,
	// yet the books claim the 2x target as if the trade had happened
	requireBigEqual(t, exposureBefore, env.pos.TotalExposure())
}

func TestRebalanceTooSoon(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	require.ErrorIs(t, env.pos.Rebalance(), ErrTooSoon)

	// 20 hours exactly clears the gate
	env.pass(20 * time.Hour)
	require.NoError(t, env.pos.Rebalance())

	require.ErrorIs(t, env.pos.Rebalance(), ErrTooSoon)

	// the owner can always force one through
	require.NoError(t, env.pos.ForceRebalance(testOwner))
	require.ErrorIs(t, env.pos.ForceRebalance("mallory"), ErrUnauthorized)
}

func TestNeedsRebalance(t *testing.T) {
	env := newTestEnv(t, Long, 20_000, usdc(100_000))

	assert.False(t, env.pos.NeedsRebalance())
	env.pass(19 * time.Hour)
	assert.False(t, env.pos.NeedsRebalance())
	env.pass(time.Hour)
	assert.True(t, env.pos.NeedsRebalance())
}

// Sequentially rebalanced NAV equals the compounded per-step return applied
// to genesis, within per-step flooring.
func TestNavReplayConsistency(t *testing.T) {
	path := []int64{2_100, 1_950, 2_300, 2_250, 2_400, 2_150}

	for _, dir := range []Direction{Long, Short} {
		t.Run(dir.String(), func(t *testing.T) {
			liquidity := usdc(1_000_000)
			if dir == Short {
				liquidity = weth(1_000)
			}
			env := newTestEnv(t, dir, 20_000, liquidity)

			// expected = genesis * prod(1 + 2 * delta_i), in rationals
			expected := new(big.Rat).SetInt(env.pos.NavScale())
			last := big.NewRat(2_000, 1)

			for _, p := range path {
				env.pass(20 * time.Hour)
				env.setPrice(p)
				require.NoError(t, env.pos.Rebalance())

				now := big.NewRat(p, 1)
				delta := new(big.Rat).Sub(now, last)
				delta.Quo(delta, last)
				lev := new(big.Rat).Mul(big.NewRat(2, 1), delta)
				if dir == Short {
					lev.Neg(lev)
				}
				expected.Mul(expected, new(big.Rat).Add(big.NewRat(1, 1), lev))
				last = now
			}

			want := new(big.Int).Quo(expected.Num(), expected.Denom())
			requireBigWithin(t, want, env.pos.NavPerShare(), int64(len(path)))
		})
	}
}

func TestNavFloorsAtOneUnit(t *testing.T) {
	env := newTestEnv(t, Long, 50_000, usdc(100_000))

	// a 5x position hit by -30% computes a negative factor; NAV pins at
	// the smallest positive unit instead
	env.setPrice(1_400)
	nav, err := env.pos.CurrentNav()
	require.NoError(t, err)
	requireBigEqual(t, big.NewInt(1), nav)
}

func TestOracleValidation(t *testing.T) {
	t.Run("invalid price", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))
		env.oracle.SetPrice(big.NewInt(0), env.clock.Now())

		_, err := env.pos.CurrentNav()
		require.ErrorIs(t, err, ErrInvalidPrice)
		_, err = env.pos.Mint(trader1, usdc(1))
		require.ErrorIs(t, err, ErrInvalidPrice)
	})

	t.Run("stale price", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))

		// let the feed go quiet past the 24h test bound
		env.clock.Advance(25 * time.Hour)
		_, err := env.pos.CurrentNav()
		require.ErrorIs(t, err, ErrStalePrice)

		env.setPrice(2_000)
		_, err = env.pos.CurrentNav()
		require.NoError(t, err)
	})

	t.Run("constructor rejects bad feeds", func(t *testing.T) {
		clock := newSimClock()
		oracle := NewSimplePriceOracle(big.NewInt(0), priceDec, clock.Now())
		venue, err := NewOracleQuotedVenue(testMarket, NewSimplePriceOracle(px(2_000), priceDec, clock.Now()))
		require.NoError(t, err)
		vault, err := NewLendingVault(VaultConfig{Asset: "USDC", Owner: testOwner, NowFn: clock.Now})
		require.NoError(t, err)

		_, err = NewLeveragedPosition(PositionConfig{
			Symbol: "ETH2L", Direction: Long, Market: testMarket, Owner: testOwner,
			LeverageRatioBps: 20_000, Vault: vault, Oracle: oracle, Venue: venue,
			NowFn: clock.Now,
		})
		require.ErrorIs(t, err, ErrInvalidPrice)
	})
}

func TestPositionAdmin(t *testing.T) {
	t.Run("leverage bounds", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))

		require.ErrorIs(t, env.pos.SetLeverageRatio(testOwner, 9_999), ErrInvalidInput)
		require.ErrorIs(t, env.pos.SetLeverageRatio(testOwner, 50_001), ErrInvalidInput)
		require.ErrorIs(t, env.pos.SetLeverageRatio("mallory", 30_000), ErrUnauthorized)
		require.NoError(t, env.pos.SetLeverageRatio(testOwner, 30_000))
		assert.Equal(t, uint64(30_000), env.pos.LeverageRatioBps())
	})

	t.Run("slippage bounds", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))

		require.ErrorIs(t, env.pos.SetSlippageTolerance(testOwner, 1_001), ErrInvalidInput)
		require.NoError(t, env.pos.SetSlippageTolerance(testOwner, 1_000))
	})

	t.Run("oracle replacement must match scale", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))

		other := NewSimplePriceOracle(px(2_100), priceDec, env.clock.Now())
		require.NoError(t, env.pos.SetOracle(testOwner, other))

		mismatched := NewSimplePriceOracle(big.NewInt(2_100), 0, env.clock.Now())
		require.ErrorIs(t, env.pos.SetOracle(testOwner, mismatched), ErrInvalidInput)
		require.ErrorIs(t, env.pos.SetOracle(testOwner, nil), ErrInvalidInput)
	})

	t.Run("pause blocks flows but not the owner override", func(t *testing.T) {
		env := newTestEnv(t, Long, 20_000, usdc(100_000))

		shares, err := env.pos.Mint(trader1, usdc(100))
		require.NoError(t, err)
		require.NoError(t, env.pos.Pause(testOwner))

		_, err = env.pos.Mint(trader1, usdc(1))
		require.ErrorIs(t, err, ErrPaused)
		_, err = env.pos.Redeem(trader1, shares)
		require.ErrorIs(t, err, ErrPaused)
		require.ErrorIs(t, env.pos.Rebalance(), ErrPaused)

		// the owner's forced checkpoint still works while paused
		require.NoError(t, env.pos.ForceRebalance(testOwner))

		require.NoError(t, env.pos.Unpause(testOwner))
		_, err = env.pos.Redeem(trader1, shares)
		require.NoError(t, err)
	})
}

func BenchmarkMintLong(b *testing.B) {
	env := newTestEnv(b, Long, 20_000, usdc(1_000_000_000))
	collateral := usdc(10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.pos.Mint(trader1, collateral); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRebalance(b *testing.B) {
	env := newTestEnv(b, Long, 20_000, usdc(100_000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := env.pos.ForceRebalance(testOwner); err != nil {
			b.Fatal(err)
		}
	}
}
