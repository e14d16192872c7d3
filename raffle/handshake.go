package raffle

import (
	"bytes"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// RandomnessProvider issues randomness requests. The answer is delivered
// later, out of band, through Machine.Fulfill. Implementations must never
// deliver the answer from within RequestRandomness itself.
type RandomnessProvider interface {
	RequestRandomness(params base.RandomnessParams) (string, error)
}

// Handshake correlates randomness requests with the round they were issued
// for.
type Handshake struct {
	provider RandomnessProvider
	params   base.RandomnessParams
}

// NewHandshake returns a handshake issuing requests with params.
func NewHandshake(p RandomnessProvider, params base.RandomnessParams) *Handshake {
	return &Handshake{provider: p, params: params}
}

// Request asks the provider for randomness and moves the round to
// CALCULATING. On error the round is left untouched.
func (h *Handshake) Request(r *base.Round, now time.Time) (*base.DrawRequest, error) {
	if r.State == base.StateCalculating || r.Pending != nil {
		return nil, ErrAlreadyInProgress
	}
	if h.params.NumWords == 0 {
		return nil, ErrNoRandomWords
	}
	id, err := h.provider.RequestRandomness(h.params)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrRequestFailed)
	}
	if id == "" {
		return nil, xerrors.Errorf("empty request id: %w", ErrRequestFailed)
	}
	req := &base.DrawRequest{
		RequestID:    id,
		IssuedAt:     now.UnixNano(),
		SnapshotSize: uint64(len(r.Participants)),
		SnapshotHash: r.ParticipantsHash(),
	}
	r.Pending = req
	r.State = base.StateCalculating
	return req, nil
}

// Fulfill consumes the pending request if requestID matches it and returns
// the first random word. Any further words are ignored. Mismatching
// requests leave the round untouched.
func (h *Handshake) Fulfill(r *base.Round, requestID string, words []uint64) (uint64, error) {
	if r.Pending == nil || r.Pending.RequestID != requestID {
		log.Lvl2("Ignoring fulfillment for request", requestID)
		return 0, ErrUnknownRequest
	}
	if len(words) == 0 {
		return 0, ErrNoRandomWords
	}
	if uint64(len(r.Participants)) != r.Pending.SnapshotSize ||
		!bytes.Equal(r.ParticipantsHash(), r.Pending.SnapshotHash) {
		return 0, ErrSnapshotMismatch
	}
	r.Pending = nil
	return words[0], nil
}
