package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/synth/pkg/synth"
)

func newTestStore(t *testing.T) (*Store, database.Database) {
	t.Helper()
	m := manager.NewManager(t.TempDir(), nil)
	db, err := m.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)

	level, _ := log.ToLevel("error")
	s := New(db, log.NewTestLogger(level))
	require.NoError(t, s.Migrate())
	return s, db
}

func testCheckpoint(symbol string, at time.Time, nav int64) PositionCheckpoint {
	return PositionCheckpoint{
		Symbol:             symbol,
		Direction:          "long",
		At:                 at,
		NavPerShare:        big.NewInt(nav),
		NavScale:           big.NewInt(1_000_000),
		LastRebalancePrice: big.NewInt(200_000_000_000),
		TotalSupply:        big.NewInt(1_000_000_000),
		TotalCollateral:    big.NewInt(1_000_000_000),
		TotalBorrowed:      big.NewInt(1_000_000_000),
		TotalExposure:      big.NewInt(100_000_000),
		StableHeld:         new(big.Int),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, s.SavePosition(testCheckpoint("ETH2L", base, 1_000_000)))
	require.NoError(t, s.SavePosition(testCheckpoint("ETH2L", base.Add(time.Hour), 1_200_000)))
	require.NoError(t, s.SavePosition(testCheckpoint("BTC3S", base, 1_000_000)))

	latest, err := s.LatestPosition("ETH2L")
	require.NoError(t, err)
	require.Equal(t, "1200000", latest.NavPerShare.String())
	require.True(t, latest.At.Equal(base.Add(time.Hour)))

	history, err := s.Positions("ETH2L", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "1000000", history[0].NavPerShare.String())
	require.Equal(t, "1200000", history[1].NavPerShare.String())

	newest, err := s.Positions("ETH2L", 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	require.Equal(t, "1200000", newest[0].NavPerShare.String())

	_, err = s.LatestPosition("DOGE5L")
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestStoreVaultRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	at := time.Unix(1_700_000_000, 0).UTC()

	cp := VaultCheckpoint{
		Asset:               "USDC",
		At:                  at,
		Held:                big.NewInt(99_000_000_000),
		TotalBorrowed:       big.NewInt(1_000_000_000),
		AccumulatedInterest: big.NewInt(114_155),
		TotalAssets:         big.NewInt(100_000_114_155),
		TotalSupply:         big.NewInt(100_000_000_000),
		UtilizationBps:      99,
	}
	require.NoError(t, s.SaveVault(cp))

	got, err := s.LatestVault("USDC")
	require.NoError(t, err)
	require.Equal(t, cp.Held.String(), got.Held.String())
	require.Equal(t, cp.AccumulatedInterest.String(), got.AccumulatedInterest.String())
	require.Equal(t, cp.UtilizationBps, got.UtilizationBps)
}

func TestStoreChecksum(t *testing.T) {
	s, db := newTestStore(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, s.SavePosition(testCheckpoint("ETH2L", at, 1_000_000)))

	// tamper with the stored payload without refreshing the checksum
	key, err := db.Get([]byte(posLatestPrefix + "ETH2L"))
	require.NoError(t, err)
	raw, err := db.Get(key)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var cp PositionCheckpoint
	require.NoError(t, json.Unmarshal(env.Payload, &cp))
	cp.NavPerShare = big.NewInt(9_999_999)
	env.Payload, err = json.Marshal(cp)
	require.NoError(t, err)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, db.Put(key, tampered))

	_, err = s.LatestPosition("ETH2L")
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestStoreLegacyMigration(t *testing.T) {
	m := manager.NewManager(t.TempDir(), nil)
	db, err := m.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)

	// seed a version-1 layout: bare records under RFC3339 keys, schema
	// marker at 1
	base := time.Unix(1_700_000_000, 0).UTC()
	for i, nav := range []int64{1_000_000, 1_100_000, 1_200_000} {
		at := base.Add(time.Duration(i) * time.Hour)
		cp := testCheckpoint("ETH2L", at, nav)
		cp.StableHeld = nil // the field did not exist in v1
		raw, err := json.Marshal(cp)
		require.NoError(t, err)
		key := fmt.Sprintf("checkpoint:ETH2L:%s", at.Format(time.RFC3339))
		require.NoError(t, db.Put([]byte(key), raw))
	}
	require.NoError(t, db.Put([]byte("checkpoint:garbage"), []byte("{}")))
	require.NoError(t, db.Put([]byte(schemaKey), []byte("1")))

	level, _ := log.ToLevel("error")
	s := New(db, log.NewTestLogger(level))
	require.NoError(t, s.Migrate())

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	// records were re-keyed, checksummed, and backfilled
	history, err := s.Positions("ETH2L", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "1000000", history[0].NavPerShare.String())
	require.NotNil(t, history[0].StableHeld)

	latest, err := s.LatestPosition("ETH2L")
	require.NoError(t, err)
	require.Equal(t, "1200000", latest.NavPerShare.String())

	// legacy keys are gone
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Hour)
		key := fmt.Sprintf("checkpoint:ETH2L:%s", at.Format(time.RFC3339))
		has, err := db.Has([]byte(key))
		require.NoError(t, err)
		require.False(t, has)
	}

	// a second migrate is a no-op
	require.NoError(t, s.Migrate())
}

func TestStoreRefusesFutureSchema(t *testing.T) {
	m := manager.NewManager(t.TempDir(), nil)
	db, err := m.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte(schemaKey), []byte("99")))

	level, _ := log.ToLevel("error")
	s := New(db, log.NewTestLogger(level))
	require.ErrorIs(t, s.Migrate(), ErrFutureSchema)
}

func TestCaptureFromEngine(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	nowFn := func() time.Time { return now }

	market := synth.Market{StableAsset: "USDC", ExposureAsset: "WETH", StableDecimals: 6, ExposureDecimals: 8}
	oracle := synth.NewSimplePriceOracle(big.NewInt(200_000_000_000), 8, now)
	venue, err := synth.NewOracleQuotedVenue(market, oracle)
	require.NoError(t, err)

	vault, err := synth.NewLendingVault(synth.VaultConfig{Asset: "USDC", Owner: "owner", NowFn: nowFn})
	require.NoError(t, err)
	_, err = vault.Deposit("lp", big.NewInt(100_000_000_000))
	require.NoError(t, err)

	pos, err := synth.NewLeveragedPosition(synth.PositionConfig{
		Symbol: "ETH2L", Direction: synth.Long, Market: market, Owner: "owner",
		LeverageRatioBps: 20_000, Vault: vault, Oracle: oracle, Venue: venue, NowFn: nowFn,
	})
	require.NoError(t, err)
	require.NoError(t, vault.AuthorizeBorrower("owner", "ETH2L"))
	_, err = pos.Mint("alice", big.NewInt(1_000_000_000))
	require.NoError(t, err)

	s, _ := newTestStore(t)
	pcp := CapturePosition(pos, now)
	require.NoError(t, s.SavePosition(pcp))
	vcp := CaptureVault(vault, now)
	require.NoError(t, s.SaveVault(vcp))

	gotPos, err := s.LatestPosition("ETH2L")
	require.NoError(t, err)
	require.Equal(t, "1000000000", gotPos.TotalSupply.String())
	require.Equal(t, "100000000", gotPos.TotalExposure.String())

	gotVault, err := s.LatestVault("USDC")
	require.NoError(t, err)
	require.Equal(t, "99000000000", gotVault.Held.String())
	require.Equal(t, "1000000000", gotVault.TotalBorrowed.String())
}
