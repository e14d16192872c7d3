package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/raffle/base"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.MainTest(m)
}

func newNode(t *testing.T) *lottery.Node {
	return newNodeFaucet(t, true)
}

func newNodeFaucet(t *testing.T, faucet bool) *lottery.Node {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "gw.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := lottery.DefaultConfig()
	cfg.Interval = lottery.Duration{Duration: 20 * time.Millisecond}
	cfg.KeeperPeriod = lottery.Duration{}
	cfg.BlockTime = lottery.Duration{Duration: time.Millisecond}
	cfg.Confirmations = 1
	cfg.Faucet = faucet
	n, err := lottery.NewNode(db, []byte("raffle"), cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	return n
}

type participant struct {
	signer darc.Signer
	addr   string
	ctr    uint64
}

func newParticipant(t *testing.T) *participant {
	s := darc.NewSignerEd25519(nil, nil)
	addr, err := lottery.AddressOf(s.Ed25519.Point)
	require.NoError(t, err)
	return &participant{signer: s, addr: string(addr)}
}

func (p *participant) ticket(t *testing.T, amount uint64) TicketView {
	p.ctr++
	tk, err := lottery.NewTicket(p.signer.Ed25519.Secret, amount, p.ctr)
	require.NoError(t, err)
	return NewTicketView(tk)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestGateway_Draw(t *testing.T) {
	n := newNode(t)
	defer n.Close()
	h := NewServer(n).Handler()

	alice := newParticipant(t)
	w := do(t, h, http.MethodPost, "/api/deposit",
		gin.H{"address": alice.addr, "amount": 300})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/enter", alice.ticket(t, 100))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, h, http.MethodPost, "/api/enter", alice.ticket(t, 100))
	require.Equal(t, http.StatusOK, w.Code)

	var st StateView
	w = do(t, h, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &st)
	require.Equal(t, "OPEN", st.State)
	require.Equal(t, uint64(200), st.PoolBalance)
	require.Len(t, st.Participants, 2)

	w = do(t, h, http.MethodGet, "/api/players/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), alice.addr)

	var up struct {
		Needed bool   `json:"needed"`
		Data   string `json:"data"`
	}
	require.Eventually(t, func() bool {
		decode(t, do(t, h, http.MethodGet, "/api/upkeep", nil), &up)
		return up.Needed
	}, 5*time.Second, 5*time.Millisecond)
	w = do(t, h, http.MethodPost, "/api/upkeep", gin.H{"data": up.Data})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var winners []WinnerView
	require.Eventually(t, func() bool {
		decode(t, do(t, h, http.MethodGet, "/api/winners", nil), &winners)
		return len(winners) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, base.Address(alice.addr), winners[0].Winner)
	require.Equal(t, uint64(200), winners[0].Amount)

	var bal struct {
		Balance uint64 `json:"balance"`
		Counter uint64 `json:"counter"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/balance/"+alice.addr, nil), &bal)
	require.Equal(t, uint64(300), bal.Balance)
	require.Equal(t, uint64(2), bal.Counter)

	var evs []EventView
	decode(t, do(t, h, http.MethodGet, "/api/events?from=3", nil), &evs)
	require.Len(t, evs, 2)
	require.Equal(t, string(base.RequestIssued), evs[0].Type)
	require.Equal(t, string(base.WinnerPicked), evs[1].Type)
}

func TestGateway_Errors(t *testing.T) {
	n := newNode(t)
	defer n.Close()
	h := NewServer(n).Handler()
	alice := newParticipant(t)

	for _, tc := range []struct {
		method, path string
		body         interface{}
		code         int
	}{
		{http.MethodGet, "/api/players/0", nil, http.StatusNotFound},
		{http.MethodGet, "/api/players/abc", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/enter", gin.H{"public": "zz"}, http.StatusBadRequest},
		{http.MethodPost, "/api/enter", alice.ticket(t, 100), http.StatusPaymentRequired},
		{http.MethodPost, "/api/deposit", gin.H{"address": "", "amount": 1}, http.StatusBadRequest},
		{http.MethodPost, "/api/deposit", gin.H{"address": alice.addr}, http.StatusBadRequest},
		{http.MethodPost, "/api/upkeep", gin.H{"data": "0000000000000000"}, http.StatusConflict},
		{http.MethodPost, "/api/upkeep", gin.H{"data": "00"}, http.StatusBadRequest},
		{http.MethodPost, "/api/upkeep", gin.H{"data": "xy"}, http.StatusBadRequest},
		{http.MethodGet, "/api/winners?limit=-1", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/events?from=x", nil, http.StatusBadRequest},
		{http.MethodOptions, "/api/state", nil, http.StatusNoContent},
	} {
		w := do(t, h, tc.method, tc.path, tc.body)
		require.Equal(t, tc.code, w.Code, "%s %s: %s", tc.method, tc.path,
			w.Body.String())
	}

	// Fee too low, then a replayed ticket.
	alice.ctr = 0
	do(t, h, http.MethodPost, "/api/deposit", gin.H{"address": alice.addr, "amount": 500})
	w := do(t, h, http.MethodPost, "/api/enter", alice.ticket(t, 10))
	require.Equal(t, http.StatusBadRequest, w.Code)
	tk := alice.ticket(t, 100)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/enter", tk).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/enter", tk).Code)
}

func TestGateway_Stream(t *testing.T) {
	n := newNode(t)
	srv := httptest.NewServer(NewServer(n).Handler())
	defer srv.Close()
	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	cl := &http.Client{Transport: tr}

	resp, err := cl.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event:") {
				return strings.TrimPrefix(lines.Text(), "event:")
			}
		}
		return ""
	}
	require.Equal(t, "state", next())

	alice := newParticipant(t)
	_, err = n.Deposit(base.Address(alice.addr), 100)
	require.NoError(t, err)
	tk, err := alice.ticket(t, 100).Ticket()
	require.NoError(t, err)
	require.NoError(t, n.Enter(tk))
	require.Equal(t, string(base.EntryAccepted), next())

	// Stopping the node ends the stream.
	n.Close()
	require.Equal(t, "", next())
}

func TestGateway_FaucetDisabled(t *testing.T) {
	n := newNodeFaucet(t, false)
	defer n.Close()
	h := NewServer(n).Handler()
	w := do(t, h, http.MethodPost, "/api/deposit",
		gin.H{"address": "alice", "amount": 10})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}
