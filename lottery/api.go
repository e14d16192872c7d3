package lottery

import (
	"time"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

// Client talks to the raffle of the first conode of the roster.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

// NewClient returns a client of the raffle running on r.
func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) dst() (*network.ServerIdentity, error) {
	if c.roster == nil || len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	return c.roster.List[0], nil
}

func (c *Client) send(req, reply interface{}) error {
	dst, err := c.dst()
	if err != nil {
		return err
	}
	return c.SendProtobuf(dst, req, reply)
}

// InitRaffle creates the raffle described by cfg.
func (c *Client) InitRaffle(cfg *Config) (*InitRaffleReply, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	req := &InitRaffleRequest{
		EntranceFee:   cfg.EntranceFee,
		Interval:      cfg.Interval.Duration,
		KeeperPeriod:  cfg.KeeperPeriod.Duration,
		BlockTime:     cfg.BlockTime.Duration,
		Subscription:  cfg.Subscription,
		Confirmations: cfg.Confirmations,
		CallbackLimit: cfg.CallbackLimit.Duration,
		NumWords:      cfg.NumWords,
		Faucet:        cfg.Faucet,
	}
	reply := &InitRaffleReply{}
	err := c.send(req, reply)
	return reply, err
}

// Deposit credits amount to addr, if the conode runs the test faucet.
func (c *Client) Deposit(addr base.Address, amount uint64) (*DepositReply, error) {
	reply := &DepositReply{}
	err := c.send(&DepositRequest{Address: addr, Amount: amount}, reply)
	return reply, err
}

// Enter submits a signed ticket.
func (c *Client) Enter(t *Ticket) (*EnterReply, error) {
	reply := &EnterReply{}
	err := c.send(&EnterRequest{Ticket: *t}, reply)
	return reply, err
}

// CheckUpkeep asks whether a draw may start.
func (c *Client) CheckUpkeep() (*CheckUpkeepReply, error) {
	reply := &CheckUpkeepReply{}
	err := c.send(&CheckUpkeepRequest{}, reply)
	return reply, err
}

// PerformUpkeep starts a draw with the data returned by CheckUpkeep.
func (c *Client) PerformUpkeep(data []byte) (*PerformUpkeepReply, error) {
	reply := &PerformUpkeepReply{}
	err := c.send(&PerformUpkeepRequest{Data: data}, reply)
	return reply, err
}

// GetState returns a snapshot of the raffle.
func (c *Client) GetState() (*GetStateReply, error) {
	reply := &GetStateReply{}
	err := c.send(&GetStateRequest{}, reply)
	return reply, err
}

// GetPlayer returns the participant at index i.
func (c *Client) GetPlayer(i uint64) (*GetPlayerReply, error) {
	reply := &GetPlayerReply{}
	err := c.send(&GetPlayerRequest{Index: i}, reply)
	return reply, err
}

// GetWinners returns up to limit winners, the most recent first.
func (c *Client) GetWinners(limit int) (*GetWinnersReply, error) {
	reply := &GetWinnersReply{}
	err := c.send(&GetWinnersRequest{Limit: int32(limit)}, reply)
	return reply, err
}

// GetBalance returns the bank account of addr.
func (c *Client) GetBalance(addr base.Address) (*GetBalanceReply, error) {
	reply := &GetBalanceReply{}
	err := c.send(&GetBalanceRequest{Address: addr}, reply)
	return reply, err
}

// WaitWinner polls until the raffle has n winners or the timeout expires.
func (c *Client) WaitWinner(n int, timeout time.Duration) (*GetWinnersReply, error) {
	deadline := time.Now().Add(timeout)
	for {
		reply, err := c.GetWinners(0)
		if err != nil {
			return nil, err
		}
		if len(reply.Winners) >= n {
			return reply, nil
		}
		if time.Now().After(deadline) {
			return nil, xerrors.Errorf("no winner after %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
