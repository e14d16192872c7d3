package lottery

import (
	"time"

	"github.com/dedis/lottery/raffle/base"
)

// InitRaffleRequest creates the raffle of the conode.
type InitRaffleRequest struct {
	EntranceFee   uint64
	Interval      time.Duration
	KeeperPeriod  time.Duration
	BlockTime     time.Duration
	Subscription  uint64
	Confirmations uint32
	CallbackLimit time.Duration
	NumWords      uint32
	Faucet        bool
}

// InitRaffleReply identifies the beacon of the raffle.
type InitRaffleReply struct {
	GasLane string
	Public  []byte
}

type DepositRequest struct {
	Address base.Address
	Amount  uint64
}

type DepositReply struct {
	Balance uint64
}

// EnterRequest carries a signed ticket.
type EnterRequest struct {
	Ticket Ticket
}

type EnterReply struct {
	Round   uint64
	Players uint64
}

type CheckUpkeepRequest struct{}

type CheckUpkeepReply struct {
	Needed bool
	Data   []byte
}

type PerformUpkeepRequest struct {
	Data []byte
}

type PerformUpkeepReply struct {
	RequestID string
}

type GetStateRequest struct{}

// GetStateReply is a snapshot of the raffle.
type GetStateReply struct {
	Round        uint64
	State        base.State
	EntranceFee  uint64
	Interval     time.Duration
	Participants []base.Address
	PoolBalance  uint64
	LastDrawTime time.Time
	RecentWinner base.Address
	Pending      *base.DrawRequest
	GasLane      string
}

type GetPlayerRequest struct {
	Index uint64
}

type GetPlayerReply struct {
	Address base.Address
}

type GetWinnersRequest struct {
	Limit int32
}

type GetWinnersReply struct {
	Winners []base.WinnerRecord
}

type GetBalanceRequest struct {
	Address base.Address
}

type GetBalanceReply struct {
	Balance uint64
	Counter uint64
	Frozen  bool
}
