package keeper

import (
	"sync"
	"testing"
	"time"

	"github.com/dedis/lottery/raffle"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type target struct {
	sync.Mutex
	eligible bool
	err      error
	checks   int
	performs int
}

func (t *target) CheckUpkeep() (bool, []byte) {
	t.Lock()
	defer t.Unlock()
	t.checks++
	return t.eligible, []byte{0, 0, 0, 0, 0, 0, 0, 1}
}

func (t *target) PerformUpkeep(data []byte) (string, error) {
	t.Lock()
	defer t.Unlock()
	t.performs++
	if t.err != nil {
		return "", t.err
	}
	t.eligible = false
	return "req", nil
}

func (t *target) counts() (int, int) {
	t.Lock()
	defer t.Unlock()
	return t.checks, t.performs
}

func TestKeeper_Tick(t *testing.T) {
	tg := &target{}
	k := New(tg, 0)

	id, err := k.Tick()
	require.NoError(t, err)
	require.Empty(t, id)
	_, performs := tg.counts()
	require.Zero(t, performs)

	tg.eligible = true
	id, err = k.Tick()
	require.NoError(t, err)
	require.Equal(t, "req", id)

	// Lost race: swallowed.
	tg.eligible = true
	tg.err = raffle.ErrUpkeepNotNeeded
	id, err = k.Tick()
	require.NoError(t, err)
	require.Empty(t, id)

	tg.err = xerrors.New("boom")
	_, err = k.Tick()
	require.Error(t, err)
}

func TestKeeper_Loop(t *testing.T) {
	tg := &target{eligible: true}
	k := New(tg, 5*time.Millisecond)
	k.Start()
	require.Eventually(t, func() bool {
		_, performs := tg.counts()
		return performs == 1
	}, 5*time.Second, 5*time.Millisecond)
	k.Stop()
	k.Stop()

	checks, performs := tg.counts()
	require.Equal(t, 1, performs)
	time.Sleep(20 * time.Millisecond)
	after, _ := tg.counts()
	require.Equal(t, checks, after)
}

func TestKeeper_Disabled(t *testing.T) {
	tg := &target{eligible: true}
	k := New(tg, 0)
	k.Start()
	k.Stop()
	checks, _ := tg.counts()
	require.Zero(t, checks)
}
