package main

import (
	"encoding/hex"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dedis/lottery/gateway"
	"github.com/dedis/lottery/lottery"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.MainTest(m)
}

func TestClient_Round(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cli.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()
	cfg := lottery.DefaultConfig()
	cfg.Interval = lottery.Duration{Duration: 10 * time.Millisecond}
	cfg.KeeperPeriod = lottery.Duration{}
	cfg.BlockTime = lottery.Duration{}
	cfg.Faucet = true
	node, err := lottery.NewNode(db, []byte("raffle"), cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	defer node.Close()
	srv := httptest.NewServer(gateway.NewServer(node).Handler())
	defer srv.Close()

	cl := newAPIClient(srv.URL + "/")
	kp := key.NewKeyPair(cothority.Suite)
	addr, err := lottery.AddressOf(kp.Public)
	require.NoError(t, err)

	b, err := cl.deposit(string(addr), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), b.Balance)

	tk, err := lottery.NewTicket(kp.Private, 100, b.Counter+1)
	require.NoError(t, err)
	er, err := cl.enter(gateway.NewTicketView(tk))
	require.NoError(t, err)
	require.Equal(t, 1, er.Players)

	// Replay is refused with the gateway's message.
	_, err = cl.enter(gateway.NewTicketView(tk))
	require.Error(t, err)
	require.Contains(t, err.Error(), "counter")

	st, err := cl.state()
	require.NoError(t, err)
	require.Equal(t, "OPEN", st.State)

	var up *upkeepView
	require.Eventually(t, func() bool {
		up, err = cl.checkUpkeep()
		require.NoError(t, err)
		return up.Needed
	}, 5*time.Second, 5*time.Millisecond)
	data, err := hex.DecodeString(up.Data)
	require.NoError(t, err)
	require.Len(t, data, 8)
	id, err := cl.performUpkeep(up.Data)
	require.NoError(t, err)

	var ws []gateway.WinnerView
	require.Eventually(t, func() bool {
		ws, err = cl.winners(5)
		require.NoError(t, err)
		return len(ws) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, id, ws[0].RequestID)
	require.Equal(t, addr, ws[0].Winner)

	b, err = cl.balance(string(addr))
	require.NoError(t, err)
	require.Equal(t, uint64(100), b.Balance)
	require.Equal(t, uint64(1), b.Counter)
}
