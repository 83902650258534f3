package bus

import (
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/synth/pkg/synth"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs []fakeMsg
}

type fakeMsg struct {
	subject string
	data    []byte
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, fakeMsg{subject: subj, data: data})
	return nil
}

func (f *fakeConn) Flush() error { return nil }

func (f *fakeConn) all() []fakeMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeMsg, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func newTestPublisher(buffer int) (*Publisher, *fakeConn) {
	conn := &fakeConn{}
	level, _ := log.ToLevel("error")
	at := time.Unix(1_700_000_000, 0).UTC()
	pub := NewPublisher(conn, Config{
		Buffer: buffer,
		Logger: log.NewTestLogger(level),
		NowFn:  func() time.Time { return at },
	})
	return pub, conn
}

func TestPublisherDelivers(t *testing.T) {
	pub, conn := newTestPublisher(16)

	pub.Publish(synth.MintEvent{
		Symbol:     "ETH2L",
		Direction:  "long",
		Account:    "alice",
		Collateral: big.NewInt(1_000_000_000),
		Borrowed:   big.NewInt(1_000_000_000),
		Shares:     big.NewInt(1_000_000_000),
		Nav:        big.NewInt(1_000_000),
	})
	pub.Publish(synth.RebalanceEvent{
		Symbol: "ETH2L",
		OldNav: big.NewInt(1_000_000),
		NewNav: big.NewInt(1_200_000),
		Price:  big.NewInt(220_000_000_000),
	})

	pub.Start()
	pub.Stop()

	msgs := conn.all()
	require.Len(t, msgs, 2)
	require.Equal(t, "synth.events.position.mint", msgs[0].subject)
	require.Equal(t, "synth.events.position.rebalance", msgs[1].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].data, &env))
	require.Equal(t, "position.mint", env.Type)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), env.At)

	var mint synth.MintEvent
	require.NoError(t, json.Unmarshal(env.Data, &mint))
	require.Equal(t, "alice", mint.Account)
	require.Equal(t, "1000000000", mint.Collateral.String())
}

func TestPublisherDropsOnFullBuffer(t *testing.T) {
	pub, _ := newTestPublisher(2)

	// pump not started, so the third enqueue has nowhere to go
	for range 3 {
		pub.Publish(synth.PauseEvent{Component: "vault:USDC", Paused: true})
	}
	require.Equal(t, uint64(1), pub.Dropped())

	pub.Start()
	pub.Stop()
	require.Equal(t, uint64(1), pub.Dropped())
}

func TestPublisherCustomPrefix(t *testing.T) {
	conn := &fakeConn{}
	level, _ := log.ToLevel("error")
	pub := NewPublisher(conn, Config{Prefix: "lab.synth", Logger: log.NewTestLogger(level)})

	pub.Publish(synth.VaultDepositEvent{Account: "lp1", Amount: big.NewInt(1), Shares: big.NewInt(1)})
	pub.Start()
	pub.Stop()

	msgs := conn.all()
	require.Len(t, msgs, 1)
	require.Equal(t, "lab.synth.vault.deposit", msgs[0].subject)
}
