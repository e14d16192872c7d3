package raffle

import (
	"math"

	"github.com/dedis/lottery/raffle/base"
)

// Ledger admits entries into the live round and tracks the pool balance.
type Ledger struct {
	fee   uint64
	round *base.Round
}

// NewLedger returns a ledger operating on round.
func NewLedger(fee uint64, round *base.Round) *Ledger {
	return &Ledger{fee: fee, round: round}
}

// Enter appends caller to the participants and adds amount to the pool.
// Entering several times is allowed and weights the caller's chances.
func (l *Ledger) Enter(caller base.Address, amount uint64) error {
	if caller == "" {
		return ErrInvalidAddress
	}
	if amount < l.fee {
		return ErrInsufficientFee
	}
	if l.round.State != base.StateOpen {
		return ErrRoundNotOpen
	}
	if l.round.PoolBalance > math.MaxUint64-amount {
		return ErrPoolOverflow
	}
	l.round.Participants = append(l.round.Participants, caller)
	l.round.PoolBalance += amount
	return nil
}

// Reset empties the participants and the pool.
func (l *Ledger) Reset() {
	l.round.Participants = nil
	l.round.PoolBalance = 0
}

// Player returns the participant at index i.
func (l *Ledger) Player(i int) (base.Address, error) {
	if i < 0 || i >= len(l.round.Participants) {
		return "", ErrIndexOutOfRange
	}
	return l.round.Participants[i], nil
}

// NumPlayers returns the number of entries in the round.
func (l *Ledger) NumPlayers() int {
	return len(l.round.Participants)
}
