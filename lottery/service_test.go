package lottery

import (
	"testing"
	"time"

	"github.com/dedis/lottery/raffle/base"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
)

func TestService_Raffle(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	hosts, roster, _ := local.GenTree(3, true)
	services := local.GetServices(hosts, lotteryID)
	defer func() {
		for _, s := range services {
			s.(*Service).Close()
		}
	}()

	cl := NewClient(roster)
	defer cl.Close()
	_, err := cl.GetState()
	require.Error(t, err)

	cfg := testConfig()
	reply, err := cl.InitRaffle(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, reply.GasLane)
	require.NotEmpty(t, reply.Public)
	_, err = cl.InitRaffle(cfg)
	require.Error(t, err)

	alice, bob := newUser(t), newUser(t)
	for i, u := range []*user{alice, bob} {
		dr, err := cl.Deposit(u.addr, 120)
		require.NoError(t, err)
		require.Equal(t, uint64(120), dr.Balance)
		er, err := cl.Enter(u.ticket(t, 100))
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), er.Players)
	}
	_, err = cl.Enter(alice.ticket(t, 100))
	require.Error(t, err)

	pr, err := cl.GetPlayer(1)
	require.NoError(t, err)
	require.Equal(t, bob.addr, pr.Address)
	_, err = cl.GetPlayer(2)
	require.Error(t, err)

	st, err := cl.GetState()
	require.NoError(t, err)
	require.Equal(t, base.StateOpen, st.State)
	require.Equal(t, uint64(200), st.PoolBalance)
	require.Equal(t, reply.GasLane, st.GasLane)

	var up *CheckUpkeepReply
	require.Eventually(t, func() bool {
		up, err = cl.CheckUpkeep()
		require.NoError(t, err)
		return up.Needed
	}, 5*time.Second, 10*time.Millisecond)
	pu, err := cl.PerformUpkeep(up.Data)
	require.NoError(t, err)

	wr, err := cl.WaitWinner(1, 5*time.Second)
	require.NoError(t, err)
	w := wr.Winners[0]
	require.Equal(t, pu.RequestID, w.RequestID)
	require.Equal(t, uint64(200), w.Amount)

	br, err := cl.GetBalance(w.Winner)
	require.NoError(t, err)
	require.Equal(t, uint64(220), br.Balance)
	require.Equal(t, uint64(1), br.Counter)

	st, err = cl.GetState()
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Round)
	require.Equal(t, w.Winner, st.RecentWinner)
	require.Empty(t, st.Participants)

	// Other conodes have no raffle.
	other := NewClient(onet.NewRoster(roster.List[1:]))
	defer other.Close()
	_, err = other.CheckUpkeep()
	require.Error(t, err)
}
