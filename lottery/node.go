package lottery

/*
The node.go assembles a raffle: the state machine, its bbolt store and
bank, the randomness beacon answering its requests, the keeper triggering
the draws and the hub publishing the events. Both the onet service and the
standalone command run a Node.
*/

import (
	"bytes"

	"github.com/dedis/lottery/easyrand"
	randbase "github.com/dedis/lottery/easyrand/base"
	"github.com/dedis/lottery/keeper"
	"github.com/dedis/lottery/payment"
	"github.com/dedis/lottery/raffle"
	"github.com/dedis/lottery/raffle/base"
	"github.com/dedis/lottery/state"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	// ErrInvalidTicket is returned for tickets with a bad signature.
	ErrInvalidTicket = xerrors.New("invalid ticket")
	// ErrFaucetDisabled is returned by Deposit unless the faucet is on.
	ErrFaucetDisabled = xerrors.New("faucet is disabled")
)

// Node runs one raffle.
type Node struct {
	cfg     base.Config
	machine *raffle.Machine
	store   *state.Store
	bank    *payment.Bank
	beacon  *easyrand.EasyRand
	keeper  *keeper.Keeper
	hub     *Hub
	faucet  bool
}

// NewNode creates the raffle stored in bucket of db, or restores it. The
// raffle configuration is fixed at creation: on restore the stored one
// wins over cfg. The node is idle until Start.
func NewNode(db *bbolt.DB, bucket []byte, cfg *Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := state.New(db, bucket)
	if err != nil {
		return nil, err
	}
	bank, err := payment.NewBank(db, bucket)
	if err != nil {
		return nil, err
	}
	beacon, err := openBeacon(store, cfg)
	if err != nil {
		return nil, err
	}

	rc, err := store.LoadConfig()
	switch {
	case err == state.ErrNotFound:
		c := cfg.Raffle(beacon.KeyHash())
		rc = &c
		if err := store.SaveConfig(rc); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case *rc != cfg.Raffle(beacon.KeyHash()):
		log.Warn("Configuration changed, keeping the one of the existing raffle")
	}

	round, err := store.LoadRound()
	if err != nil && err != state.ErrNotFound {
		return nil, err
	}
	n := &Node{
		cfg:    *rc,
		store:  store,
		bank:   bank,
		beacon: beacon,
		hub:    NewHub(store),
		faucet: cfg.Faucet,
	}
	n.machine, err = raffle.NewMachine(*rc, raffle.Options{
		Provider: beacon,
		Settler:  &settler{db: db, bank: bank, store: store},
		Store:    store,
		Events:   n.hub,
		Round:    round,
	})
	if err != nil {
		return nil, err
	}
	if round == nil {
		if err := store.SaveRound(n.machine.Round()); err != nil {
			return nil, err
		}
	}
	beacon.SetCallback(n.onRandomness)
	n.keeper = keeper.New(n.machine, cfg.KeeperPeriod.Duration)
	return n, nil
}

func openBeacon(store *state.Store, cfg *Config) (*easyrand.EasyRand, error) {
	key, err := store.LoadBeaconKey()
	if err != nil && err != state.ErrNotFound {
		return nil, err
	}
	beacon, err := easyrand.NewEasyRand(key, cfg.BlockTime.Duration,
		cfg.Subscription)
	if err != nil {
		return nil, err
	}
	if key == nil {
		key, err = beacon.PrivateKey()
		if err != nil {
			return nil, err
		}
		if err := store.SaveBeaconKey(key); err != nil {
			return nil, err
		}
	}
	return beacon, nil
}

// Start runs the beacon and the keeper. A request left pending by a
// previous run is submitted again.
func (n *Node) Start() error {
	n.beacon.Start()
	if req, ok := n.machine.Pending(); ok {
		log.Lvl1("Resubmitting pending request", req.RequestID)
		if err := n.beacon.Resubmit(req.RequestID, n.cfg.Randomness); err != nil {
			return xerrors.Errorf("resubmitting %s: %v", req.RequestID, err)
		}
	}
	n.keeper.Start()
	return nil
}

// Close stops the node. It does not close the database.
func (n *Node) Close() {
	n.keeper.Stop()
	n.beacon.Stop()
	n.hub.Close()
}

// onRandomness runs on the beacon's goroutine.
func (n *Node) onRandomness(requestID string, out *randbase.RandomnessOutput) {
	if !bytes.Equal(out.Public, n.beacon.Public()) {
		log.Error("Randomness from an unknown beacon for", requestID)
		return
	}
	if err := out.Verify(); err != nil {
		log.Error("Invalid randomness for", requestID, err)
		return
	}
	words := out.Words(int(n.cfg.Randomness.NumWords))
	err := n.machine.Fulfill(requestID, words)
	switch {
	case err == nil:
	case xerrors.Is(err, raffle.ErrUnknownRequest):
		log.Lvl2("Dropping answer to", requestID)
	default:
		log.Error("Fulfilling", requestID, err)
	}
}

// Deposit credits amount to addr without any payment: it is a test
// faucet and fails with ErrFaucetDisabled unless Config.Faucet is set.
func (n *Node) Deposit(addr base.Address, amount uint64) (uint64, error) {
	if !n.faucet {
		return 0, ErrFaucetDisabled
	}
	if err := n.bank.Deposit(addr, amount); err != nil {
		return 0, err
	}
	return n.bank.Balance(addr)
}

// Enter charges the ticket to its owner and admits the owner into the
// current round. A rejected entry is refunded.
func (n *Node) Enter(t *Ticket) error {
	if err := t.Verify(); err != nil {
		return xerrors.Errorf("%v: %w", err, ErrInvalidTicket)
	}
	addr := t.Address()
	if err := n.bank.Charge(addr, t.Amount, t.Counter); err != nil {
		return err
	}
	if err := n.machine.Enter(addr, t.Amount); err != nil {
		if rerr := n.bank.Refund(addr, t.Amount); rerr != nil {
			log.Errorf("Refunding %d to %s: %v", t.Amount, addr, rerr)
		}
		return err
	}
	return nil
}

// CheckUpkeep reports whether a draw may start.
func (n *Node) CheckUpkeep() (bool, []byte) {
	return n.machine.CheckUpkeep()
}

// PerformUpkeep starts a draw.
func (n *Node) PerformUpkeep(data []byte) (string, error) {
	return n.machine.PerformUpkeep(data)
}

// Status returns a snapshot of the raffle.
func (n *Node) Status() raffle.Status {
	return n.machine.Status()
}

// Player returns the participant at index i.
func (n *Node) Player(i int) (base.Address, error) {
	return n.machine.Player(i)
}

// Winners returns up to limit winners, the most recent first.
func (n *Node) Winners(limit int) ([]base.WinnerRecord, error) {
	return n.store.Winners(limit)
}

// Events returns the stored events starting at sequence number from.
func (n *Node) Events(from uint64, limit int) ([]base.Event, error) {
	return n.store.Events(from, limit)
}

// Account returns the bank account of addr.
func (n *Node) Account(addr base.Address) (payment.Account, error) {
	return n.bank.Account(addr)
}

// Subscribe returns a subscriber to the events of the raffle.
func (n *Node) Subscribe() *Subscriber {
	return n.hub.Subscribe()
}

// Unsubscribe removes s.
func (n *Node) Unsubscribe(s *Subscriber) {
	n.hub.Unsubscribe(s)
}

// GasLane identifies the beacon of the node.
func (n *Node) GasLane() string {
	return n.beacon.KeyHash()
}

// Config returns the raffle configuration.
func (n *Node) Config() base.Config {
	return n.cfg
}
