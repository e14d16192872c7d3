package raffle

import (
	"testing"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"github.com/stretchr/testify/require"
)

func TestIsEligible(t *testing.T) {
	last := time.Unix(100, 0)
	interval := time.Minute
	eligible := func() *base.Round {
		return &base.Round{
			State:        base.StateOpen,
			Participants: []base.Address{"a"},
			PoolBalance:  10,
			LastDrawTime: last.UnixNano(),
		}
	}
	after := last.Add(interval + time.Nanosecond)
	require.True(t, IsEligible(eligible(), interval, after))

	r := eligible()
	r.State = base.StateCalculating
	require.False(t, IsEligible(r, interval, after))

	// the interval must strictly elapse
	require.False(t, IsEligible(eligible(), interval, last.Add(interval)))

	r = eligible()
	r.Participants = nil
	require.False(t, IsEligible(r, interval, after))

	r = eligible()
	r.PoolBalance = 0
	require.False(t, IsEligible(r, interval, after))
}
