package raffle

import (
	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Transferer moves funds to a winner. A nil error means the whole amount
// was transferred; any error means nothing was.
type Transferer interface {
	Transfer(to base.Address, amount uint64) error
}

// Settler commits a successful draw as one transaction: the transfer to
// the winner, the reset round and the winner record. When Settle fails
// nothing is committed. Failed transfers wrap ErrTransferFailed.
type Settler interface {
	Settle(winner base.Address, amount uint64, next *base.Round,
		w *base.WinnerRecord) error
}

// PayoutExecutor pays the pool out to the winner.
type PayoutExecutor struct {
	transferer Transferer
	settler    Settler
}

// NewPayoutExecutor wraps t.
func NewPayoutExecutor(t Transferer) *PayoutExecutor {
	return &PayoutExecutor{transferer: t}
}

// NewSettledPayoutExecutor commits every payout through s.
func NewSettledPayoutExecutor(s Settler) *PayoutExecutor {
	return &PayoutExecutor{settler: s}
}

// Payout transfers amount to winner. Failures are reported as
// ErrTransferFailed and are never retried here.
func (p *PayoutExecutor) Payout(winner base.Address, amount uint64) error {
	if p.transferer == nil {
		return xerrors.Errorf("no transferer: %w", ErrTransferFailed)
	}
	if err := p.transferer.Transfer(winner, amount); err != nil {
		return xerrors.Errorf("paying %d to %s (%v): %w", amount, winner, err,
			ErrTransferFailed)
	}
	return nil
}

// Settle pays amount to winner and commits next, the round that follows
// the payout. Without a Settler, next is saved to store before the
// transfer: if that write fails nothing is paid, and a round that was
// saved but not paid is restored by the caller.
func (p *PayoutExecutor) Settle(winner base.Address, amount uint64,
	next *base.Round, w *base.WinnerRecord, store Store) error {
	if p.settler != nil {
		return p.settler.Settle(winner, amount, next, w)
	}
	if store != nil {
		if err := store.SaveRound(next); err != nil {
			return xerrors.Errorf("saving round: %v", err)
		}
	}
	if err := p.Payout(winner, amount); err != nil {
		return err
	}
	if store != nil {
		if err := store.AppendWinner(w); err != nil {
			log.Errorf("Recording winner of round %d: %v", w.Round, err)
		}
	}
	return nil
}
