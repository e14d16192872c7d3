package raffle

import "github.com/dedis/lottery/raffle/base"

// SelectWinner maps a random value to a participant with
// randomValue mod len(participants). The distribution is uniform only up
// to modulo bias: when len(participants) does not divide 2^64 the lower
// indices are favored by at most len(participants)/2^64.
func SelectWinner(randomValue uint64, participants []base.Address) (base.Address, int, error) {
	if len(participants) == 0 {
		return "", -1, ErrNoParticipants
	}
	idx := randomValue % uint64(len(participants))
	return participants[idx], int(idx), nil
}
