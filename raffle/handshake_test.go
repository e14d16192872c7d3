package raffle

import (
	"testing"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestHandshake(t *testing.T) {
	p := &fakeProvider{}
	h := NewHandshake(p, base.RandomnessParams{NumWords: 1})
	r := &base.Round{Participants: []base.Address{"a", "b"}, PoolBalance: 2}

	req, err := h.Request(r, time.Unix(5, 0))
	require.NoError(t, err)
	require.Equal(t, "req-1", req.RequestID)
	require.Equal(t, time.Unix(5, 0).UnixNano(), req.IssuedAt)
	require.Equal(t, base.StateCalculating, r.State)
	require.Equal(t, req, r.Pending)

	_, err = h.Request(r, time.Unix(6, 0))
	require.True(t, xerrors.Is(err, ErrAlreadyInProgress))
	require.Equal(t, 1, p.ctr)

	// participants cannot change under a pending request
	r.Participants = append(r.Participants, "c")
	_, err = h.Fulfill(r, req.RequestID, []uint64{1})
	require.Equal(t, ErrSnapshotMismatch, err)
	r.Participants = r.Participants[:2]

	v, err := h.Fulfill(r, req.RequestID, []uint64{42, 43})
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
	require.Nil(t, r.Pending)

	_, err = h.Fulfill(r, req.RequestID, []uint64{42})
	require.Equal(t, ErrUnknownRequest, err)
}

func TestHandshake_NoWords(t *testing.T) {
	h := NewHandshake(&fakeProvider{}, base.RandomnessParams{})
	r := &base.Round{Participants: []base.Address{"a"}, PoolBalance: 1}
	_, err := h.Request(r, time.Now())
	require.Equal(t, ErrNoRandomWords, err)
	require.Equal(t, base.StateOpen, r.State)
}
