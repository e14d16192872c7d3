package raffle

import (
	"math"
	"testing"

	"github.com/dedis/lottery/raffle/base"
	"github.com/stretchr/testify/require"
)

func TestLedger(t *testing.T) {
	r := &base.Round{}
	l := NewLedger(100, r)

	require.Equal(t, ErrInsufficientFee, l.Enter("a", 99))
	require.NoError(t, l.Enter("a", 100))
	require.NoError(t, l.Enter("b", 150))
	require.NoError(t, l.Enter("a", 100))
	require.Equal(t, []base.Address{"a", "b", "a"}, r.Participants)
	require.Equal(t, uint64(350), r.PoolBalance)

	p, err := l.Player(1)
	require.NoError(t, err)
	require.Equal(t, base.Address("b"), p)
	_, err = l.Player(-1)
	require.Equal(t, ErrIndexOutOfRange, err)

	r.State = base.StateCalculating
	require.Equal(t, ErrRoundNotOpen, l.Enter("c", 100))
	// the fee is checked first
	require.Equal(t, ErrInsufficientFee, l.Enter("c", 1))
	require.Equal(t, 3, l.NumPlayers())

	r.State = base.StateOpen
	l.Reset()
	require.Equal(t, 0, l.NumPlayers())
	require.Equal(t, uint64(0), r.PoolBalance)
}

func TestLedger_Overflow(t *testing.T) {
	r := &base.Round{PoolBalance: math.MaxUint64 - 5}
	l := NewLedger(1, r)
	require.Equal(t, ErrPoolOverflow, l.Enter("a", 10))
	require.NoError(t, l.Enter("a", 5))
	require.Equal(t, uint64(math.MaxUint64), r.PoolBalance)
}
