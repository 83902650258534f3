package synth

import (
	"math/big"
	"time"
)

// Event is emitted after a ledger operation commits. Carriers (NATS, the
// websocket feed) serialize events for the outside world; the engine itself
// only hands them to the configured sink.
type Event interface {
	EventType() string
}

// EventSink receives committed events. Implementations must not block for
// long: events are published inside the emitting component's critical
// section.
type EventSink interface {
	Publish(ev Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// NoopSink discards all events.
func NoopSink() EventSink { return noopSink{} }

type multiSink []EventSink

func (m multiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// MultiSink fans each event out to every sink in order. Nil sinks are
// skipped.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return NoopSink()
	}
	return out
}

// VaultDepositEvent records an LP deposit.
type VaultDepositEvent struct {
	Asset   string    `json:"asset"`
	Account string    `json:"account"`
	Amount  *big.Int  `json:"amount"`
	Shares  *big.Int  `json:"shares"`
	At      time.Time `json:"at"`
}

func (VaultDepositEvent) EventType() string { return "vault.deposit" }

// VaultWithdrawEvent records an LP withdrawal.
type VaultWithdrawEvent struct {
	Asset   string    `json:"asset"`
	Account string    `json:"account"`
	Amount  *big.Int  `json:"amount"`
	Shares  *big.Int  `json:"shares"`
	At      time.Time `json:"at"`
}

func (VaultWithdrawEvent) EventType() string { return "vault.withdraw" }

// VaultBorrowEvent records a borrower drawdown.
type VaultBorrowEvent struct {
	Asset          string    `json:"asset"`
	Borrower       string    `json:"borrower"`
	Amount         *big.Int  `json:"amount"`
	UtilizationBps uint64    `json:"utilizationBps"`
	At             time.Time `json:"at"`
}

func (VaultBorrowEvent) EventType() string { return "vault.borrow" }

// VaultRepayEvent records a repayment. Shortfall is principal minus the
// payment actually received; nonzero shortfall is bad debt absorbed by LPs.
type VaultRepayEvent struct {
	Asset     string    `json:"asset"`
	Borrower  string    `json:"borrower"`
	Principal *big.Int  `json:"principal"`
	Payment   *big.Int  `json:"payment"`
	Interest  *big.Int  `json:"interest"`
	Shortfall *big.Int  `json:"shortfall"`
	At        time.Time `json:"at"`
}

func (VaultRepayEvent) EventType() string { return "vault.repay" }

// VaultParamEvent records an admin parameter change.
type VaultParamEvent struct {
	Asset string    `json:"asset"`
	Param string    `json:"param"`
	Value uint64    `json:"value"`
	At    time.Time `json:"at"`
}

func (VaultParamEvent) EventType() string { return "vault.param" }

// PauseEvent records a pause state flip on any component.
type PauseEvent struct {
	Component string    `json:"component"`
	Paused    bool      `json:"paused"`
	At        time.Time `json:"at"`
}

func (PauseEvent) EventType() string { return "pause" }

// MintEvent records a leveraged share mint.
type MintEvent struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Account    string    `json:"account"`
	Collateral *big.Int  `json:"collateral"`
	Borrowed   *big.Int  `json:"borrowed"`
	Shares     *big.Int  `json:"shares"`
	Nav        *big.Int  `json:"nav"`
	At         time.Time `json:"at"`
}

func (MintEvent) EventType() string { return "position.mint" }

// RedeemEvent records a leveraged share redemption. RepayShortfall is
// nonzero when sale proceeds could not cover the proportional debt.
type RedeemEvent struct {
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"`
	Account         string    `json:"account"`
	Shares          *big.Int  `json:"shares"`
	StableReturned  *big.Int  `json:"stableReturned"`
	RepaidPrincipal *big.Int  `json:"repaidPrincipal"`
	RepayShortfall  *big.Int  `json:"repayShortfall"`
	Nav             *big.Int  `json:"nav"`
	At              time.Time `json:"at"`
}

func (RedeemEvent) EventType() string { return "position.redeem" }

// RebalanceEvent records a NAV checkpoint.
type RebalanceEvent struct {
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"`
	OldNav    *big.Int  `json:"oldNav"`
	NewNav    *big.Int  `json:"newNav"`
	Price     *big.Int  `json:"price"`
	Forced    bool      `json:"forced"`
	At        time.Time `json:"at"`
}

func (RebalanceEvent) EventType() string { return "position.rebalance" }

// PositionParamEvent records an admin parameter change on a position.
type PositionParamEvent struct {
	Symbol string    `json:"symbol"`
	Param  string    `json:"param"`
	Value  uint64    `json:"value"`
	At     time.Time `json:"at"`
}

func (PositionParamEvent) EventType() string { return "position.param" }
