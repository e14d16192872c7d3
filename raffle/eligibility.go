package raffle

import (
	"time"

	"github.com/dedis/lottery/raffle/base"
)

// IsEligible reports whether a draw may start: the round is open, the
// interval has strictly elapsed since the last draw, and there is at least
// one participant and a positive pool.
func IsEligible(r *base.Round, interval time.Duration, now time.Time) bool {
	isOpen := r.State == base.StateOpen
	timePassed := now.Sub(r.LastDraw()) > interval
	hasPlayers := len(r.Participants) > 0
	hasBalance := r.PoolBalance > 0
	return isOpen && timePassed && hasPlayers && hasBalance
}
