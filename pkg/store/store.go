// Package store persists engine checkpoints to a luxfi/database backend.
// Checkpoints are append-only, keyed by capture time, and wrapped in a
// checksummed envelope so corrupted records fail loudly on read instead of
// feeding bad numbers downstream.
package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"golang.org/x/crypto/blake2b"

	"github.com/luxfi/synth/pkg/synth"
)

// SchemaVersion is the on-disk layout this package writes. Version 1 stored
// bare JSON records keyed by RFC3339 timestamps; version 2 keys by padded
// unix nanos and adds the checksum envelope.
const SchemaVersion = 2

// Errors
var (
	ErrChecksumMismatch = fmt.Errorf("store: checksum mismatch")
	ErrFutureSchema     = fmt.Errorf("store: schema newer than this binary")
)

const (
	schemaKey       = "meta:schema"
	posPrefix       = "cp:pos:"
	posLatestPrefix = "cp:pos:latest:"
	vltPrefix       = "cp:vault:"
	vltLatestPrefix = "cp:vault:latest:"
	legacyPrefix    = "checkpoint:"
)

// PositionCheckpoint is a point-in-time audit record of one position engine.
type PositionCheckpoint struct {
	Symbol             string    `json:"symbol"`
	Direction          string    `json:"direction"`
	At                 time.Time `json:"at"`
	NavPerShare        *big.Int  `json:"navPerShare"`
	NavScale           *big.Int  `json:"navScale"`
	LastRebalancePrice *big.Int  `json:"lastRebalancePrice"`
	TotalSupply        *big.Int  `json:"totalSupply"`
	TotalCollateral    *big.Int  `json:"totalCollateral"`
	TotalBorrowed      *big.Int  `json:"totalBorrowed"`
	TotalExposure      *big.Int  `json:"totalExposure"`
	StableHeld         *big.Int  `json:"stableHeld"`
	Paused             bool      `json:"paused"`
}

// VaultCheckpoint is a point-in-time audit record of one lending vault. Held
// plus TotalBorrowed against TotalAssets exposes how much recognized
// interest has no tokens behind it.
type VaultCheckpoint struct {
	Asset               string    `json:"asset"`
	At                  time.Time `json:"at"`
	Held                *big.Int  `json:"held"`
	TotalBorrowed       *big.Int  `json:"totalBorrowed"`
	AccumulatedInterest *big.Int  `json:"accumulatedInterest"`
	TotalAssets         *big.Int  `json:"totalAssets"`
	TotalSupply         *big.Int  `json:"totalSupply"`
	UtilizationBps      uint64    `json:"utilizationBps"`
}

// CapturePosition snapshots a position engine through its public views.
func CapturePosition(p *synth.LeveragedPosition, at time.Time) PositionCheckpoint {
	return PositionCheckpoint{
		Symbol:             p.Symbol(),
		Direction:          p.Direction().String(),
		At:                 at,
		NavPerShare:        p.NavPerShare(),
		NavScale:           p.NavScale(),
		LastRebalancePrice: p.LastRebalancePrice(),
		TotalSupply:        p.TotalSupply(),
		TotalCollateral:    p.TotalCollateral(),
		TotalBorrowed:      p.TotalBorrowed(),
		TotalExposure:      p.TotalExposure(),
		StableHeld:         p.StableHeld(),
		Paused:             p.IsPaused(),
	}
}

// CaptureVault snapshots a vault through its public views.
func CaptureVault(v *synth.LendingVault, at time.Time) VaultCheckpoint {
	return VaultCheckpoint{
		Asset:               v.Asset(),
		At:                  at,
		Held:                v.AvailableLiquidity(),
		TotalBorrowed:       v.TotalBorrowed(),
		AccumulatedInterest: v.AccumulatedInterest(),
		TotalAssets:         v.TotalAssets(),
		TotalSupply:         v.TotalSupply(),
		UtilizationBps:      v.UtilizationRate(),
	}
}

// envelope wraps every stored record with its payload checksum.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Store reads and writes checkpoints.
type Store struct {
	db  database.Database
	log log.Logger
}

// New wraps an open database. Call Migrate before first use.
func New(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root().New("module", "store")
	}
	return &Store{db: db, log: logger}
}

// SchemaVersion reads the stored layout version, 0 for a fresh database.
func (s *Store) SchemaVersion() (int, error) {
	raw, err := s.db.Get([]byte(schemaKey))
	if err == database.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("store: bad schema marker %q: %w", raw, err)
	}
	return v, nil
}

// Migrate brings the database to the current schema. Fresh databases are
// stamped directly; version 1 records are re-keyed, checksummed, and their
// legacy keys removed.
func (s *Store) Migrate() error {
	v, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	switch {
	case v == SchemaVersion:
		return nil
	case v > SchemaVersion:
		return fmt.Errorf("%w: found %d, support up to %d", ErrFutureSchema, v, SchemaVersion)
	}

	if err := s.migrateLegacy(); err != nil {
		return err
	}
	return s.db.Put([]byte(schemaKey), []byte(strconv.Itoa(SchemaVersion)))
}

// migrateLegacy rewrites version-1 position records. Legacy keys were
// checkpoint:<symbol>:<RFC3339>, values bare PositionCheckpoint JSON.
func (s *Store) migrateLegacy() error {
	iter := s.db.NewIteratorWithPrefix([]byte(legacyPrefix))
	if iter == nil {
		return nil
	}
	defer iter.Release()

	batch := s.db.NewBatch()
	defer batch.Reset()

	newest := make(map[string]time.Time)
	migrated := 0
	for iter.Next() {
		key := string(iter.Key())
		rest := strings.TrimPrefix(key, legacyPrefix)
		sep := strings.Index(rest, ":")
		if sep < 0 {
			s.log.Warn("skipping malformed legacy key", "key", key)
			continue
		}
		symbol := rest[:sep]
		at, err := time.Parse(time.RFC3339, rest[sep+1:])
		if err != nil {
			s.log.Warn("skipping legacy key with bad timestamp", "key", key, "error", err)
			continue
		}

		var cp PositionCheckpoint
		if err := json.Unmarshal(iter.Value(), &cp); err != nil {
			return fmt.Errorf("store: legacy record %s: %w", key, err)
		}
		cp.Symbol = symbol
		if cp.At.IsZero() {
			cp.At = at
		}
		if cp.StableHeld == nil {
			cp.StableHeld = new(big.Int)
		}

		buf, err := seal(cp)
		if err != nil {
			return err
		}
		if err := batch.Put(posKey(symbol, cp.At), buf); err != nil {
			return err
		}
		if err := batch.Delete(iter.Key()); err != nil {
			return err
		}
		if cp.At.After(newest[symbol]) {
			newest[symbol] = cp.At
		}
		migrated++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	for symbol, at := range newest {
		if err := batch.Put([]byte(posLatestPrefix+symbol), posKey(symbol, at)); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	if migrated > 0 {
		s.log.Info("migrated legacy checkpoints", "count", migrated)
	}
	return nil
}

// SavePosition appends a position checkpoint and moves the latest pointer.
func (s *Store) SavePosition(cp PositionCheckpoint) error {
	buf, err := seal(cp)
	if err != nil {
		return err
	}
	key := posKey(cp.Symbol, cp.At)
	if err := s.db.Put(key, buf); err != nil {
		return err
	}
	return s.db.Put([]byte(posLatestPrefix+cp.Symbol), key)
}

// SaveVault appends a vault checkpoint and moves the latest pointer.
func (s *Store) SaveVault(cp VaultCheckpoint) error {
	buf, err := seal(cp)
	if err != nil {
		return err
	}
	key := vltKey(cp.Asset, cp.At)
	if err := s.db.Put(key, buf); err != nil {
		return err
	}
	return s.db.Put([]byte(vltLatestPrefix+cp.Asset), key)
}

// LatestPosition returns the newest checkpoint for a symbol, or
// database.ErrNotFound if none was ever written.
func (s *Store) LatestPosition(symbol string) (PositionCheckpoint, error) {
	var cp PositionCheckpoint
	key, err := s.db.Get([]byte(posLatestPrefix + symbol))
	if err != nil {
		return cp, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return cp, err
	}
	err = open(raw, &cp)
	return cp, err
}

// LatestVault returns the newest checkpoint for a vault asset.
func (s *Store) LatestVault(asset string) (VaultCheckpoint, error) {
	var cp VaultCheckpoint
	key, err := s.db.Get([]byte(vltLatestPrefix + asset))
	if err != nil {
		return cp, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return cp, err
	}
	err = open(raw, &cp)
	return cp, err
}

// Positions lists a symbol's checkpoints oldest first. A positive limit
// keeps only the newest records.
func (s *Store) Positions(symbol string, limit int) ([]PositionCheckpoint, error) {
	iter := s.db.NewIteratorWithPrefix([]byte(posPrefix + symbol + ":"))
	if iter == nil {
		return nil, nil
	}
	defer iter.Release()

	var out []PositionCheckpoint
	for iter.Next() {
		var cp PositionCheckpoint
		if err := open(iter.Value(), &cp); err != nil {
			return nil, fmt.Errorf("store: %s: %w", iter.Key(), err)
		}
		out = append(out, cp)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// seal marshals a record into its checksummed envelope.
func seal(record any) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(payload)
	return json.Marshal(envelope{
		Version:  SchemaVersion,
		Checksum: hex.EncodeToString(sum[:]),
		Payload:  payload,
	})
}

// open unwraps an envelope, verifying version and checksum.
func open(raw []byte, record any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Version > SchemaVersion {
		return fmt.Errorf("%w: record version %d", ErrFutureSchema, env.Version)
	}
	sum := blake2b.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return ErrChecksumMismatch
	}
	return json.Unmarshal(env.Payload, record)
}

// posKey orders checkpoints by capture time within a symbol.
func posKey(symbol string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", posPrefix, symbol, at.UnixNano()))
}

func vltKey(asset string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", vltPrefix, asset, at.UnixNano()))
}
