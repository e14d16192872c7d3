package base

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

const UID string = "raffle"

// Address identifies a participant. Any non-empty string is accepted; the
// onet service uses the hex form of the participant's public key.
type Address string

// State is the lifecycle state of the live round.
type State int32

const (
	// StateOpen accepts entries and may start a draw.
	StateOpen State = iota
	// StateCalculating rejects entries while a randomness request is in
	// flight.
	StateCalculating
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return "UNKNOWN"
	}
}

// RandomnessParams are the fixed parameters sent with every randomness
// request.
type RandomnessParams struct {
	// GasLane selects the beacon key that answers the request.
	GasLane string
	// SubscriptionID is the consumer subscription billed by the beacon.
	SubscriptionID uint64
	// Confirmations is the number of beacon blocks to wait before the
	// request is answered.
	Confirmations uint32
	// CallbackLimit is the time budget in milliseconds the beacon grants
	// the fulfillment callback.
	CallbackLimit uint32
	// NumWords is the number of random words requested, at least one.
	NumWords uint32
}

// Config is fixed when the raffle is created and never changes.
type Config struct {
	EntranceFee uint64
	Interval    time.Duration
	Randomness  RandomnessParams
}

// DrawRequest correlates an outstanding randomness request with the round
// snapshot it was issued for.
type DrawRequest struct {
	RequestID    string
	IssuedAt     int64
	SnapshotSize uint64
	SnapshotHash []byte
}

// Round is the single live raffle round. It is mutated in place and reset
// after every successful payout.
type Round struct {
	Number       uint64
	State        State
	Participants []Address
	PoolBalance  uint64
	LastDrawTime int64
	Pending      *DrawRequest
	RecentWinner Address
}

// Copy returns a deep copy of the round.
func (r *Round) Copy() *Round {
	cp := *r
	if r.Participants != nil {
		cp.Participants = make([]Address, len(r.Participants))
		copy(cp.Participants, r.Participants)
	}
	if r.Pending != nil {
		p := *r.Pending
		p.SnapshotHash = append([]byte(nil), r.Pending.SnapshotHash...)
		cp.Pending = &p
	}
	return &cp
}

// LastDraw returns the last draw timestamp as a time.Time.
func (r *Round) LastDraw() time.Time {
	return time.Unix(0, r.LastDrawTime)
}

// ParticipantsHash commits to the ordered list of participants and the
// round number.
func (r *Round) ParticipantsHash() []byte {
	h := sha256.New()
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, r.Number)
	h.Write(b)
	for _, p := range r.Participants {
		binary.LittleEndian.PutUint64(b, uint64(len(p)))
		h.Write(b)
		h.Write([]byte(p))
	}
	return h.Sum(nil)
}

// WinnerRecord is the outcome of one successful draw.
type WinnerRecord struct {
	Round     uint64
	Winner    Address
	Amount    uint64
	RequestID string
	PickedAt  int64
}

// EventType names the observable state transitions.
type EventType string

const (
	EntryAccepted EventType = "EntryAccepted"
	RequestIssued EventType = "RequestIssued"
	WinnerPicked  EventType = "WinnerPicked"
	DrawReverted  EventType = "DrawReverted"
)

// Event is emitted exactly once per state transition. Seq is assigned by
// the event log when the event is persisted.
type Event struct {
	Seq         uint64
	Type        EventType
	Round       uint64
	Participant Address
	RequestID   string
	Winner      Address
	Amount      uint64
	Time        int64
}
