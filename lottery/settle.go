package lottery

import (
	"github.com/dedis/lottery/payment"
	"github.com/dedis/lottery/raffle"
	"github.com/dedis/lottery/raffle/base"
	"github.com/dedis/lottery/state"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// settler pays the winner out of the escrow and saves the round that
// follows in a single bbolt transaction. The bank and the store must share
// db.
type settler struct {
	db    *bbolt.DB
	bank  *payment.Bank
	store *state.Store
}

// Settle implements raffle.Settler.
func (s *settler) Settle(winner base.Address, amount uint64, next *base.Round,
	w *base.WinnerRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := s.bank.TransferTx(tx, winner, amount); err != nil {
			return xerrors.Errorf("paying %d to %s (%v): %w", amount, winner,
				err, raffle.ErrTransferFailed)
		}
		if err := s.store.SaveRoundTx(tx, next); err != nil {
			return xerrors.Errorf("saving round: %v", err)
		}
		return s.store.AppendWinnerTx(tx, w)
	})
}
