package gateway

/*
The gateway.go exposes a lottery node over HTTP. Reads return JSON views of
the raffle, writes take the same signed tickets as the onet service, and
/events streams the raffle events as server-sent events.
*/

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/payment"
	"github.com/dedis/lottery/raffle"
	"github.com/dedis/lottery/raffle/base"
	"github.com/gin-gonic/gin"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Backend is implemented by *lottery.Node.
type Backend interface {
	Status() raffle.Status
	Player(i int) (base.Address, error)
	Enter(t *lottery.Ticket) error
	Deposit(addr base.Address, amount uint64) (uint64, error)
	Account(addr base.Address) (payment.Account, error)
	CheckUpkeep() (bool, []byte)
	PerformUpkeep(data []byte) (string, error)
	Winners(limit int) ([]base.WinnerRecord, error)
	Events(from uint64, limit int) ([]base.Event, error)
	Subscribe() *lottery.Subscriber
	Unsubscribe(s *lottery.Subscriber)
}

// Server serves the HTTP API of a backend.
type Server struct {
	backend Backend
	engine  *gin.Engine
	srv     *http.Server
}

// NewServer builds the routes.
func NewServer(b Backend) *Server {
	s := &Server{backend: b, engine: gin.New()}
	s.engine.Use(gin.Recovery(), cors)

	api := s.engine.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/players/:index", s.getPlayer)
		api.POST("/enter", s.enter)
		api.POST("/deposit", s.deposit)
		api.GET("/balance/:address", s.getBalance)
		api.GET("/upkeep", s.checkUpkeep)
		api.POST("/upkeep", s.performUpkeep)
		api.GET("/winners", s.getWinners)
		api.GET("/events", s.getEvents)
	}
	s.engine.GET("/events", s.streamEvents)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	log.Lvl1("Gateway listening on", addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server started by ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(s.backend.Status()))
}

func (s *Server) getPlayer(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "invalid index")
		return
	}
	addr, err := s.backend.Player(i)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": i, "address": addr})
}

func (s *Server) enter(c *gin.Context) {
	var payload TicketView
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := payload.Ticket()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.backend.Enter(t); err != nil {
		fail(c, err)
		return
	}
	st := s.backend.Status()
	c.JSON(http.StatusOK, gin.H{"address": t.Address(), "round": st.Round,
		"players": len(st.Participants)})
}

// deposit is the test faucet, refused unless the node enables it.
func (s *Server) deposit(c *gin.Context) {
	var payload struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid body")
		return
	}
	bal, err := s.backend.Deposit(base.Address(payload.Address), payload.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": payload.Address, "balance": bal})
}

func (s *Server) getBalance(c *gin.Context) {
	addr := base.Address(c.Param("address"))
	acc, err := s.backend.Account(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": acc.Balance,
		"counter": acc.Counter, "frozen": acc.Frozen})
}

func (s *Server) checkUpkeep(c *gin.Context) {
	ok, data := s.backend.CheckUpkeep()
	c.JSON(http.StatusOK, gin.H{"needed": ok, "data": hex.EncodeToString(data)})
}

func (s *Server) performUpkeep(c *gin.Context) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid body")
		return
	}
	data, err := hex.DecodeString(payload.Data)
	if err != nil {
		badRequest(c, "invalid upkeep data")
		return
	}
	id, err := s.backend.PerformUpkeep(data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": id})
}

func (s *Server) getWinners(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		badRequest(c, "invalid limit")
		return
	}
	ws, err := s.backend.Winners(limit)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]WinnerView, len(ws))
	for i, w := range ws {
		out[i] = newWinnerView(w)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getEvents(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		badRequest(c, "invalid from")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		badRequest(c, "invalid limit")
		return
	}
	evs, err := s.backend.Events(from, limit)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]EventView, len(evs))
	for i, ev := range evs {
		out[i] = newEventView(ev)
	}
	c.JSON(http.StatusOK, out)
}

// streamEvents starts with a "state" event, then forwards every event of
// the raffle until the client leaves or the node stops.
func (s *Server) streamEvents(c *gin.Context) {
	sub := s.backend.Subscribe()
	defer s.backend.Unsubscribe(sub)
	c.SSEvent("state", newStateView(s.backend.Status()))
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Chan():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), newEventView(ev))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case xerrors.Is(err, lottery.ErrInvalidTicket),
		xerrors.Is(err, raffle.ErrInsufficientFee),
		xerrors.Is(err, raffle.ErrInvalidAddress),
		xerrors.Is(err, payment.ErrBadCounter),
		xerrors.Is(err, payment.ErrZeroAmount),
		xerrors.Is(err, payment.ErrInvalidAccount),
		xerrors.Is(err, raffle.ErrInvalidUpkeep):
		return http.StatusBadRequest
	case xerrors.Is(err, payment.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case xerrors.Is(err, payment.ErrAccountFrozen),
		xerrors.Is(err, lottery.ErrFaucetDisabled):
		return http.StatusForbidden
	case xerrors.Is(err, raffle.ErrIndexOutOfRange):
		return http.StatusNotFound
	case xerrors.Is(err, raffle.ErrRoundNotOpen),
		xerrors.Is(err, raffle.ErrNotEligible),
		xerrors.Is(err, raffle.ErrPoolOverflow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// The views are the JSON shapes of the API.

type StateView struct {
	Round          uint64         `json:"round"`
	State          string         `json:"state"`
	EntranceFee    uint64         `json:"entrance_fee"`
	Interval       string         `json:"interval"`
	Participants   []base.Address `json:"participants"`
	PoolBalance    uint64         `json:"pool_balance"`
	LastDrawTime   time.Time      `json:"last_draw_time"`
	RecentWinner   base.Address   `json:"recent_winner,omitempty"`
	PendingRequest string         `json:"pending_request,omitempty"`
}

func newStateView(st raffle.Status) StateView {
	v := StateView{
		Round:        st.Round,
		State:        st.State.String(),
		EntranceFee:  st.EntranceFee,
		Interval:     st.Interval.String(),
		Participants: st.Participants,
		PoolBalance:  st.PoolBalance,
		LastDrawTime: st.LastDrawTime,
		RecentWinner: st.RecentWinner,
	}
	if v.Participants == nil {
		v.Participants = []base.Address{}
	}
	if st.Pending != nil {
		v.PendingRequest = st.Pending.RequestID
	}
	return v
}

type WinnerView struct {
	Round     uint64       `json:"round"`
	Winner    base.Address `json:"winner"`
	Amount    uint64       `json:"amount"`
	RequestID string       `json:"request_id"`
	PickedAt  time.Time    `json:"picked_at"`
}

func newWinnerView(w base.WinnerRecord) WinnerView {
	return WinnerView{Round: w.Round, Winner: w.Winner, Amount: w.Amount,
		RequestID: w.RequestID, PickedAt: time.Unix(0, w.PickedAt)}
}

type EventView struct {
	Seq         uint64       `json:"seq"`
	Type        string       `json:"type"`
	Round       uint64       `json:"round"`
	Participant base.Address `json:"participant,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
	Winner      base.Address `json:"winner,omitempty"`
	Amount      uint64       `json:"amount,omitempty"`
	Time        time.Time    `json:"time"`
}

func newEventView(ev base.Event) EventView {
	return EventView{Seq: ev.Seq, Type: string(ev.Type), Round: ev.Round,
		Participant: ev.Participant, RequestID: ev.RequestID,
		Winner: ev.Winner, Amount: ev.Amount, Time: time.Unix(0, ev.Time)}
}

// TicketView is a ticket with hex encoded keys and signature.
type TicketView struct {
	Public    string `json:"public"`
	Amount    uint64 `json:"amount"`
	Counter   uint64 `json:"counter"`
	Signature string `json:"signature"`
}

// NewTicketView encodes t.
func NewTicketView(t *lottery.Ticket) TicketView {
	return TicketView{Public: hex.EncodeToString(t.Public), Amount: t.Amount,
		Counter: t.Counter, Signature: hex.EncodeToString(t.Signature)}
}

// Ticket decodes the view.
func (v TicketView) Ticket() (*lottery.Ticket, error) {
	pub, err := hex.DecodeString(v.Public)
	if err != nil {
		return nil, xerrors.New("invalid public key")
	}
	sig, err := hex.DecodeString(v.Signature)
	if err != nil {
		return nil, xerrors.New("invalid signature")
	}
	return &lottery.Ticket{Public: pub, Amount: v.Amount, Counter: v.Counter,
		Signature: sig}, nil
}
