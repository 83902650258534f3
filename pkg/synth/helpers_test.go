package synth

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

const (
	testOwner = "owner"
	testLP    = "lp1"
	trader1   = "alice"
	trader2   = "bob"

	stableDec uint8 = 6
	expDec    uint8 = 8
	priceDec  uint8 = 8
)

var testMarket = Market{
	StableAsset:      "USDC",
	ExposureAsset:    "WETH",
	StableDecimals:   stableDec,
	ExposureDecimals: expDec,
}

// usdc scales whole stable units to 6 decimals.
func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

// weth scales whole exposure units to 8 decimals.
func weth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

// px scales a whole-dollar price to the oracle's 8 decimals.
func px(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

// simClock is a hand-driven clock shared by every component in a test.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock() *simClock {
	return &simClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureSink records every published event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) ofType(kind string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.EventType() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() log.Logger {
	level, _ := log.ToLevel("info")
	return log.NewTestLogger(level)
}

// testEnv wires a vault, oracle, venue, and position against one simClock.
type testEnv struct {
	clock  *simClock
	oracle *SimplePriceOracle
	venue  *OracleQuotedVenue
	vault  *LendingVault
	pos    *LeveragedPosition
	sink   *captureSink
}

// setPrice moves the oracle and refreshes its timestamp.
func (e *testEnv) setPrice(dollars int64) {
	e.oracle.SetPrice(px(dollars), e.clock.Now())
}

// pass advances time and keeps the oracle fresh.
func (e *testEnv) pass(d time.Duration) {
	e.clock.Advance(d)
	price, _, _, _ := e.oracle.LatestPrice()
	e.oracle.SetPrice(price, e.clock.Now())
}

func newVaultEnv(t testing.TB, asset string, rateBps uint64) (*simClock, *LendingVault, *captureSink) {
	t.Helper()
	clock := newSimClock()
	sink := &captureSink{}
	vault, err := NewLendingVault(VaultConfig{
		Asset:                 asset,
		Owner:                 testOwner,
		InterestRateAnnualBps: rateBps,
		Logger:                testLogger(),
		NowFn:                 clock.Now,
		Sink:                  sink,
	})
	require.NoError(t, err)
	return clock, vault, sink
}

// newTestEnv builds a funded environment for the given direction: the vault
// holds the borrowed asset (stable for Long, exposure for Short) with the
// LP's liquidity already deposited, the oracle starts at $2000, and the
// position is authorized to borrow.
func newTestEnv(t testing.TB, dir Direction, leverageBps uint64, liquidity *big.Int) *testEnv {
	t.Helper()

	clock := newSimClock()
	sink := &captureSink{}
	oracle := NewSimplePriceOracle(px(2000), priceDec, clock.Now())

	venue, err := NewOracleQuotedVenue(testMarket, oracle)
	require.NoError(t, err)

	asset := testMarket.StableAsset
	symbol := "ETH2L"
	if dir == Short {
		asset = testMarket.ExposureAsset
		symbol = "ETH2S"
	}

	vault, err := NewLendingVault(VaultConfig{
		Asset:  asset,
		Owner:  testOwner,
		Logger: testLogger(),
		NowFn:  clock.Now,
		Sink:   sink,
	})
	require.NoError(t, err)

	pos, err := NewLeveragedPosition(PositionConfig{
		Symbol:               symbol,
		Direction:            dir,
		Market:               testMarket,
		Owner:                testOwner,
		LeverageRatioBps:     leverageBps,
		SlippageToleranceBps: 50,
		OracleStaleAfter:     24 * time.Hour,
		Vault:                vault,
		Oracle:               oracle,
		Venue:                venue,
		Logger:               testLogger(),
		NowFn:                clock.Now,
		Sink:                 sink,
	})
	require.NoError(t, err)

	require.NoError(t, vault.AuthorizeBorrower(testOwner, pos.Symbol()))
	if liquidity != nil && liquidity.Sign() > 0 {
		_, err = vault.Deposit(testLP, liquidity)
		require.NoError(t, err)
	}

	return &testEnv{clock: clock, oracle: oracle, venue: venue, vault: vault, pos: pos, sink: sink}
}

// requireBigEqual compares big.Ints through their strings for readable
// failures.
func requireBigEqual(t testing.TB, want, got *big.Int) {
	t.Helper()
	require.Equal(t, want.String(), got.String())
}

// requireBigWithin asserts |want - got| <= tolerance.
func requireBigWithin(t testing.TB, want, got *big.Int, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	diff.Abs(diff)
	require.LessOrEqual(t, diff.Int64(), tolerance,
		"want %s got %s (tolerance %d)", want.String(), got.String(), tolerance)
}
