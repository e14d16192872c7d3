package keeper

import (
	"sync"
	"time"

	"github.com/dedis/lottery/raffle"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Upkeeper is implemented by raffle.Machine.
type Upkeeper interface {
	CheckUpkeep() (bool, []byte)
	PerformUpkeep(data []byte) (string, error)
}

// Keeper polls an Upkeeper and starts a draw whenever it is eligible.
type Keeper struct {
	target  Upkeeper
	period  time.Duration
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New returns a keeper polling target every period.
func New(target Upkeeper, period time.Duration) *Keeper {
	return &Keeper{
		target:  target,
		period:  period,
		closing: make(chan struct{}),
	}
}

// Tick runs one check. It returns the id of the issued request, if any.
// Losing the race against another trigger is not an error.
func (k *Keeper) Tick() (string, error) {
	ok, data := k.target.CheckUpkeep()
	if !ok {
		return "", nil
	}
	id, err := k.target.PerformUpkeep(data)
	if err != nil {
		if xerrors.Is(err, raffle.ErrNotEligible) {
			log.Lvl3("Upkeep no longer needed:", err)
			return "", nil
		}
		return "", err
	}
	log.Lvl2("Upkeep issued request", id)
	return id, nil
}

// Start launches the polling loop. A zero period disables it.
func (k *Keeper) Start() {
	if k.period <= 0 {
		log.Lvl2("Keeper disabled")
		return
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(k.period)
		defer ticker.Stop()
		for {
			select {
			case <-k.closing:
				return
			case <-ticker.C:
				if _, err := k.Tick(); err != nil {
					log.Warn("Upkeep failed:", err)
				}
			}
		}
	}()
}

// Stop ends the loop and waits for a running tick.
func (k *Keeper) Stop() {
	k.once.Do(func() { close(k.closing) })
	k.wg.Wait()
}
