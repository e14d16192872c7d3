package lottery

import (
	"sync"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

var lotteryID onet.ServiceID

// ServiceName is the name of the onet service.
var ServiceName = "LotteryService"

var configKey = []byte("config")

// ErrNotInitialized is returned before InitRaffle.
var ErrNotInitialized = xerrors.New("raffle is not initialized")

// Service runs the raffle of a conode. Its state lives in an additional
// bucket of the conode's database.
type Service struct {
	*onet.ServiceProcessor
	sync.Mutex
	node *Node
}

func init() {
	var err error
	lotteryID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
	network.RegisterMessages(&InitRaffleRequest{}, &InitRaffleReply{},
		&DepositRequest{}, &DepositReply{}, &EnterRequest{}, &EnterReply{},
		&CheckUpkeepRequest{}, &CheckUpkeepReply{}, &PerformUpkeepRequest{},
		&PerformUpkeepReply{}, &GetStateRequest{}, &GetStateReply{},
		&GetPlayerRequest{}, &GetPlayerReply{}, &GetWinnersRequest{},
		&GetWinnersReply{}, &GetBalanceRequest{}, &GetBalanceReply{})
}

// InitRaffle creates the raffle. It can be called once per conode.
func (s *Service) InitRaffle(req *InitRaffleRequest) (*InitRaffleReply, error) {
	s.Lock()
	defer s.Unlock()
	if s.node != nil {
		return nil, xerrors.New("raffle already initialized")
	}
	if err := s.startNode(req); err != nil {
		log.Errorf("Cannot start the raffle: %v", err)
		return nil, err
	}
	if err := s.Save(configKey, req); err != nil {
		log.Errorf("Could not save data: %v", err)
		return nil, err
	}
	return &InitRaffleReply{GasLane: s.node.GasLane(),
		Public: s.node.beacon.Public()}, nil
}

// Deposit credits an account through the test faucet, see Config.Faucet.
func (s *Service) Deposit(req *DepositRequest) (*DepositReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	bal, err := n.Deposit(req.Address, req.Amount)
	if err != nil {
		return nil, err
	}
	return &DepositReply{Balance: bal}, nil
}

// Enter charges a signed ticket and admits its owner to the round.
func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	if err := n.Enter(&req.Ticket); err != nil {
		log.Lvl2("Entry rejected:", err)
		return nil, err
	}
	st := n.Status()
	return &EnterReply{Round: st.Round,
		Players: uint64(len(st.Participants))}, nil
}

// CheckUpkeep reports whether a draw may start.
func (s *Service) CheckUpkeep(req *CheckUpkeepRequest) (*CheckUpkeepReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	ok, data := n.CheckUpkeep()
	return &CheckUpkeepReply{Needed: ok, Data: data}, nil
}

// PerformUpkeep starts the draw announced by CheckUpkeep.
func (s *Service) PerformUpkeep(req *PerformUpkeepRequest) (*PerformUpkeepReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	id, err := n.PerformUpkeep(req.Data)
	if err != nil {
		return nil, err
	}
	return &PerformUpkeepReply{RequestID: id}, nil
}

// GetState returns a snapshot of the raffle.
func (s *Service) GetState(req *GetStateRequest) (*GetStateReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	st := n.Status()
	return &GetStateReply{
		Round:        st.Round,
		State:        st.State,
		EntranceFee:  st.EntranceFee,
		Interval:     st.Interval,
		Participants: st.Participants,
		PoolBalance:  st.PoolBalance,
		LastDrawTime: st.LastDrawTime,
		RecentWinner: st.RecentWinner,
		Pending:      st.Pending,
		GasLane:      n.GasLane(),
	}, nil
}

// GetPlayer returns the participant at the requested index.
func (s *Service) GetPlayer(req *GetPlayerRequest) (*GetPlayerReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	addr, err := n.Player(int(req.Index))
	if err != nil {
		return nil, err
	}
	return &GetPlayerReply{Address: addr}, nil
}

// GetWinners returns the most recent winners first.
func (s *Service) GetWinners(req *GetWinnersRequest) (*GetWinnersReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	ws, err := n.Winners(int(req.Limit))
	if err != nil {
		return nil, err
	}
	return &GetWinnersReply{Winners: ws}, nil
}

// GetBalance returns the bank account of an address.
func (s *Service) GetBalance(req *GetBalanceRequest) (*GetBalanceReply, error) {
	n, err := s.getNode()
	if err != nil {
		return nil, err
	}
	acc, err := n.Account(req.Address)
	if err != nil {
		return nil, err
	}
	return &GetBalanceReply{Balance: acc.Balance, Counter: acc.Counter,
		Frozen: acc.Frozen}, nil
}

// Close stops the raffle of the conode.
func (s *Service) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.node != nil {
		s.node.Close()
		s.node = nil
	}
	return nil
}

func (s *Service) getNode() (*Node, error) {
	s.Lock()
	defer s.Unlock()
	if s.node == nil {
		return nil, ErrNotInitialized
	}
	return s.node, nil
}

func (s *Service) startNode(req *InitRaffleRequest) error {
	cfg := &Config{
		EntranceFee:   req.EntranceFee,
		Interval:      Duration{req.Interval},
		KeeperPeriod:  Duration{req.KeeperPeriod},
		BlockTime:     Duration{req.BlockTime},
		Subscription:  req.Subscription,
		Confirmations: req.Confirmations,
		CallbackLimit: Duration{req.CallbackLimit},
		NumWords:      req.NumWords,
		Faucet:        req.Faucet,
	}
	db, bucket := s.GetAdditionalBucket([]byte(base.UID))
	n, err := NewNode(db, bucket, cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Close()
		return err
	}
	s.node = n
	return nil
}

// tryLoad restarts the raffle of a conode that was initialized before.
func (s *Service) tryLoad() error {
	msg, err := s.Load(configKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	req, ok := msg.(*InitRaffleRequest)
	if !ok {
		return xerrors.New("stored config of wrong type")
	}
	start := time.Now()
	if err := s.startNode(req); err != nil {
		return err
	}
	log.Lvlf2("%v restored raffle in %v", s.ServerIdentity(), time.Since(start))
	return nil
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	err := s.RegisterHandlers(s.InitRaffle, s.Deposit, s.Enter, s.CheckUpkeep,
		s.PerformUpkeep, s.GetState, s.GetPlayer, s.GetWinners, s.GetBalance)
	if err != nil {
		return nil, xerrors.Errorf("could not register handlers: %v", err)
	}
	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}
	return s, nil
}
