package raffle

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Store persists the round after every transition.
type Store interface {
	SaveRound(r *base.Round) error
	AppendWinner(w *base.WinnerRecord) error
}

// EventSink receives the events of the state machine, in order. Emit is
// called while the machine is locked and must not call back into it.
type EventSink interface {
	Emit(ev *base.Event)
}

// Options holds the collaborators of a Machine. Provider is required, and
// either Transferer or Settler.
type Options struct {
	Provider   RandomnessProvider
	Transferer Transferer
	// Settler replaces Transferer and commits payouts together with Store.
	Settler Settler
	Store      Store
	Events     EventSink
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Round restores a persisted round. A fresh round is created if nil.
	Round *base.Round
}

// Status is a consistent snapshot of the raffle.
type Status struct {
	Round        uint64
	State        base.State
	EntranceFee  uint64
	Interval     time.Duration
	Participants []base.Address
	PoolBalance  uint64
	LastDrawTime time.Time
	RecentWinner base.Address
	Pending      *base.DrawRequest
}

// Machine is the raffle state machine. All transitions happen under its
// lock, so that Enter, StartDraw and Fulfill are serialized and a draw
// request is issued atomically with the OPEN->CALCULATING transition.
type Machine struct {
	sync.Mutex
	cfg       base.Config
	round     *base.Round
	ledger    *Ledger
	handshake *Handshake
	payout    *PayoutExecutor
	store     Store
	events    EventSink
	now       func() time.Time
}

// NewMachine creates a raffle with the immutable configuration cfg.
func NewMachine(cfg base.Config, opts Options) (*Machine, error) {
	if opts.Provider == nil {
		return nil, xerrors.New("missing randomness provider")
	}
	if opts.Transferer == nil && opts.Settler == nil {
		return nil, xerrors.New("missing transferer")
	}
	if cfg.Randomness.NumWords == 0 {
		return nil, ErrNoRandomWords
	}
	if cfg.Interval < 0 {
		return nil, xerrors.New("negative interval")
	}
	m := &Machine{
		cfg:       cfg,
		handshake: NewHandshake(opts.Provider, cfg.Randomness),
		payout:    NewPayoutExecutor(opts.Transferer),
		store:     opts.Store,
		events:    opts.Events,
		now:       opts.Clock,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.Settler != nil {
		m.payout = NewSettledPayoutExecutor(opts.Settler)
	}
	if opts.Round != nil {
		m.round = opts.Round.Copy()
	} else {
		m.round = &base.Round{
			State:        base.StateOpen,
			LastDrawTime: m.now().UnixNano(),
		}
	}
	m.ledger = NewLedger(cfg.EntranceFee, m.round)
	return m, nil
}

// Enter admits caller into the current round with the attached amount.
func (m *Machine) Enter(caller base.Address, amount uint64) error {
	m.Lock()
	defer m.Unlock()
	prev := m.round.Copy()
	if err := m.ledger.Enter(caller, amount); err != nil {
		return err
	}
	if err := m.persist(); err != nil {
		*m.round = *prev
		return err
	}
	m.emit(&base.Event{Type: base.EntryAccepted, Round: m.round.Number,
		Participant: caller, Amount: amount})
	return nil
}

// CheckUpkeep reports whether a draw may start. The returned data carries
// the round number and is handed back to PerformUpkeep.
func (m *Machine) CheckUpkeep() (bool, []byte) {
	m.Lock()
	defer m.Unlock()
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, m.round.Number)
	return IsEligible(m.round, m.cfg.Interval, m.now()), data
}

// PerformUpkeep starts a draw for the round announced by CheckUpkeep.
// Eligibility is checked again, the announcement may be stale.
func (m *Machine) PerformUpkeep(data []byte) (string, error) {
	if len(data) != 8 {
		return "", xerrors.Errorf("length %d: %w", len(data), ErrInvalidUpkeep)
	}
	m.Lock()
	defer m.Unlock()
	if n := binary.BigEndian.Uint64(data); n != m.round.Number {
		log.Lvlf2("Upkeep announced for round %d, current round is %d", n,
			m.round.Number)
	}
	id, err := m.startDraw()
	if err == ErrNotEligible {
		return "", ErrUpkeepNotNeeded
	}
	return id, err
}

// StartDraw requests randomness for the current round and moves it to
// CALCULATING. It returns the request id without waiting for the answer.
func (m *Machine) StartDraw() (string, error) {
	m.Lock()
	defer m.Unlock()
	return m.startDraw()
}

func (m *Machine) startDraw() (string, error) {
	if m.round.State == base.StateCalculating || m.round.Pending != nil {
		return "", ErrAlreadyInProgress
	}
	now := m.now()
	if !IsEligible(m.round, m.cfg.Interval, now) {
		return "", ErrNotEligible
	}
	prev := m.round.Copy()
	req, err := m.handshake.Request(m.round, now)
	if err != nil {
		return "", err
	}
	if err := m.persist(); err != nil {
		// The provider will still answer; the answer is rejected as stale.
		*m.round = *prev
		return "", err
	}
	log.Lvlf2("Round %d: requested randomness %s for %d participants",
		m.round.Number, req.RequestID, req.SnapshotSize)
	m.emit(&base.Event{Type: base.RequestIssued, Round: m.round.Number,
		RequestID: req.RequestID})
	return req.RequestID, nil
}

// Fulfill is the inbound randomness callback. A request id that does not
// match the pending request is rejected with ErrUnknownRequest and has no
// effect, which also makes duplicate deliveries harmless.
//
// When the payout fails the draw is reverted: the round goes back to OPEN
// with its participants and pool intact, the request is consumed, and
// ErrTransferFailed is returned. The same happens when the reset round
// cannot be saved, as nothing has been paid then.
func (m *Machine) Fulfill(requestID string, words []uint64) error {
	m.Lock()
	defer m.Unlock()
	prev := m.round.Copy()
	value, err := m.handshake.Fulfill(m.round, requestID, words)
	if err != nil {
		return err
	}
	winner, idx, err := SelectWinner(value, m.round.Participants)
	if err != nil {
		*m.round = *prev
		return err
	}
	amount := m.round.PoolBalance
	now := m.now()
	record := &base.WinnerRecord{
		Round:     m.round.Number,
		Winner:    winner,
		Amount:    amount,
		RequestID: requestID,
		PickedAt:  now.UnixNano(),
	}
	m.ledger.Reset()
	m.round.RecentWinner = winner
	m.round.LastDrawTime = now.UnixNano()
	m.round.State = base.StateOpen
	m.round.Number++
	if err := m.payout.Settle(winner, amount, m.round, record, m.store); err != nil {
		*m.round = *prev
		m.round.Pending = nil
		m.round.State = base.StateOpen
		log.Errorf("Round %d: reverting draw %s: %v", m.round.Number,
			requestID, err)
		// A failed write leaves the draw pending in the store, it is
		// run again after a restart.
		if perr := m.persist(); perr != nil {
			log.Error(perr)
		}
		m.emit(&base.Event{Type: base.DrawReverted, Round: m.round.Number,
			RequestID: requestID, Winner: winner, Amount: amount})
		return err
	}
	log.Lvlf1("Round %d: %s (index %d) won %d", record.Round, winner, idx,
		amount)
	m.emit(&base.Event{Type: base.WinnerPicked, Round: record.Round,
		RequestID: requestID, Winner: winner, Amount: amount})
	return nil
}

func (m *Machine) persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveRound(m.round); err != nil {
		return xerrors.Errorf("saving round: %v", err)
	}
	return nil
}

func (m *Machine) emit(ev *base.Event) {
	if m.events == nil {
		return
	}
	ev.Time = m.now().UnixNano()
	m.events.Emit(ev)
}

// Config returns the immutable configuration.
func (m *Machine) Config() base.Config {
	return m.cfg
}

// EntranceFee returns the minimum amount of an entry.
func (m *Machine) EntranceFee() uint64 {
	return m.cfg.EntranceFee
}

// Interval returns the minimum time between two draws.
func (m *Machine) Interval() time.Duration {
	return m.cfg.Interval
}

// NumWords returns the number of random words requested per draw.
func (m *Machine) NumWords() uint32 {
	return m.cfg.Randomness.NumWords
}

// RequestConfirmations returns the confirmation depth of the requests.
func (m *Machine) RequestConfirmations() uint32 {
	return m.cfg.Randomness.Confirmations
}

// Player returns the participant at index i.
func (m *Machine) Player(i int) (base.Address, error) {
	m.Lock()
	defer m.Unlock()
	return m.ledger.Player(i)
}

// NumPlayers returns the number of entries of the current round.
func (m *Machine) NumPlayers() int {
	m.Lock()
	defer m.Unlock()
	return m.ledger.NumPlayers()
}

// PoolBalance returns the amount that the next winner receives.
func (m *Machine) PoolBalance() uint64 {
	m.Lock()
	defer m.Unlock()
	return m.round.PoolBalance
}

// State returns the lifecycle state of the round.
func (m *Machine) State() base.State {
	m.Lock()
	defer m.Unlock()
	return m.round.State
}

// RecentWinner returns the winner of the previous round, if any.
func (m *Machine) RecentWinner() base.Address {
	m.Lock()
	defer m.Unlock()
	return m.round.RecentWinner
}

// LastTimestamp returns the time of the last successful draw, or the
// creation time of the raffle.
func (m *Machine) LastTimestamp() time.Time {
	m.Lock()
	defer m.Unlock()
	return m.round.LastDraw()
}

// Pending returns the outstanding draw request.
func (m *Machine) Pending() (base.DrawRequest, bool) {
	m.Lock()
	defer m.Unlock()
	if m.round.Pending == nil {
		return base.DrawRequest{}, false
	}
	return *m.round.Copy().Pending, true
}

// Round returns a copy of the live round.
func (m *Machine) Round() *base.Round {
	m.Lock()
	defer m.Unlock()
	return m.round.Copy()
}

// Status returns a snapshot of the whole raffle.
func (m *Machine) Status() Status {
	m.Lock()
	defer m.Unlock()
	r := m.round.Copy()
	return Status{
		Round:        r.Number,
		State:        r.State,
		EntranceFee:  m.cfg.EntranceFee,
		Interval:     m.cfg.Interval,
		Participants: r.Participants,
		PoolBalance:  r.PoolBalance,
		LastDrawTime: r.LastDraw(),
		RecentWinner: r.RecentWinner,
		Pending:      r.Pending,
	}
}
