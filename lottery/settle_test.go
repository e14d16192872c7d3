package lottery

import (
	"testing"

	"github.com/dedis/lottery/payment"
	"github.com/dedis/lottery/raffle"
	"github.com/dedis/lottery/raffle/base"
	"github.com/dedis/lottery/state"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

func TestSettler_Commit(t *testing.T) {
	db := openDB(t)
	store, err := state.New(db, bucket)
	require.NoError(t, err)
	bank, err := payment.NewBank(db, bucket)
	require.NoError(t, err)
	require.NoError(t, bank.Deposit("a", 30))
	require.NoError(t, bank.Charge("a", 30, 1))

	s := &settler{db: db, bank: bank, store: store}
	next := &base.Round{Number: 1, RecentWinner: "a"}
	w := &base.WinnerRecord{Round: 0, Winner: "a", Amount: 30}
	require.NoError(t, s.Settle("a", 30, next, w))

	bal, err := bank.Balance("a")
	require.NoError(t, err)
	require.Equal(t, uint64(30), bal)
	r, err := store.LoadRound()
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.Number)
	ws, err := store.Winners(0)
	require.NoError(t, err)
	require.Len(t, ws, 1)

	// the escrow is empty now
	err = s.Settle("a", 30, next, w)
	require.True(t, xerrors.Is(err, raffle.ErrTransferFailed))
}

func TestSettler_RollbackOnSaveFailure(t *testing.T) {
	db := openDB(t)
	store, err := state.New(db, []byte("rounds"))
	require.NoError(t, err)
	bank, err := payment.NewBank(db, []byte("accounts"))
	require.NoError(t, err)
	require.NoError(t, bank.Deposit("a", 20))
	require.NoError(t, bank.Charge("a", 20, 1))
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte("rounds"))
	}))

	s := &settler{db: db, bank: bank, store: store}
	err = s.Settle("a", 20, &base.Round{Number: 1},
		&base.WinnerRecord{Winner: "a", Amount: 20})
	require.Error(t, err)
	require.False(t, xerrors.Is(err, raffle.ErrTransferFailed))

	bal, err := bank.Balance("a")
	require.NoError(t, err)
	require.Equal(t, uint64(0), bal)
	esc, err := bank.Balance(payment.Escrow)
	require.NoError(t, err)
	require.Equal(t, uint64(20), esc)
}
