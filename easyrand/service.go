package easyrand

/*
The service.go defines the randomness beacon. Requests are answered
asynchronously: RequestRandomness returns a request id immediately and the
signed round is delivered later to the registered callback, on the
beacon's own goroutine.
*/

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/dedis/lottery/easyrand/base"
	rbase "github.com/dedis/lottery/raffle/base"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var suite = bn256.NewSuite()

const genesisMsg = "genesis_msg"

// MaxNumWords bounds the number of words of a single request.
const MaxNumWords = 500

const queueSize = 64

var (
	ErrUnknownLane         = xerrors.New("unknown gas lane")
	ErrUnknownSubscription = xerrors.New("unknown subscription")
	ErrTooManyWords        = xerrors.New("too many random words requested")
	ErrNoWords             = xerrors.New("no random words requested")
	ErrStopped             = xerrors.New("beacon is stopped")
	ErrQueueFull           = xerrors.New("request queue is full")
)

// FulfillFunc receives the round answering requestID.
type FulfillFunc func(requestID string, out *base.RandomnessOutput)

// EasyRand is a BLS randomness beacon. Every round signs the previous
// round, so that the sequence of outputs is publicly verifiable.
type EasyRand struct {
	sync.Mutex

	private kyber.Scalar
	public  kyber.Point
	pubBuf  []byte
	lane    string

	blockTime time.Duration
	subs      map[uint64]bool
	blocks    [][]byte
	nonce     uint64
	callback  FulfillFunc

	jobs    chan job
	closing chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

type job struct {
	id     string
	params rbase.RandomnessParams
}

// NewEasyRand creates a beacon. If key is empty a fresh key pair is
// generated, otherwise key is the marshalled private key of a previous
// beacon. blockTime is the time it takes to produce one confirmation.
func NewEasyRand(key []byte, blockTime time.Duration, subs ...uint64) (*EasyRand, error) {
	s := &EasyRand{
		blockTime: blockTime,
		subs:      make(map[uint64]bool),
		jobs:      make(chan job, queueSize),
		closing:   make(chan struct{}),
	}
	if len(key) == 0 {
		s.private, s.public = bls.NewKeyPair(suite, random.New())
	} else {
		s.private = suite.G2().Scalar()
		if err := s.private.UnmarshalBinary(key); err != nil {
			return nil, xerrors.Errorf("decoding beacon key: %v", err)
		}
		s.public = suite.G2().Point().Mul(s.private, nil)
	}
	var err error
	s.pubBuf, err = s.public.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(s.pubBuf)
	s.lane = hex.EncodeToString(h[:])
	for _, id := range subs {
		s.subs[id] = true
	}
	return s, nil
}

// KeyHash identifies the key of the beacon. Requests must name it as their
// gas lane.
func (s *EasyRand) KeyHash() string {
	return s.lane
}

// Public returns the marshalled public key of the beacon.
func (s *EasyRand) Public() []byte {
	return append([]byte(nil), s.pubBuf...)
}

// PrivateKey returns the marshalled private key, to restart the beacon
// with the same identity.
func (s *EasyRand) PrivateKey() ([]byte, error) {
	return s.private.MarshalBinary()
}

// AddSubscription allows requests billed to id.
func (s *EasyRand) AddSubscription(id uint64) {
	s.Lock()
	defer s.Unlock()
	s.subs[id] = true
}

// SetCallback registers the consumer. It must be called before Start.
func (s *EasyRand) SetCallback(fn FulfillFunc) {
	s.Lock()
	defer s.Unlock()
	s.callback = fn
}

// Start launches the goroutine answering requests.
func (s *EasyRand) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.closing:
				return
			case j := <-s.jobs:
				s.process(j)
			}
		}
	}()
}

// Stop discards the queued requests and waits for the running delivery.
func (s *EasyRand) Stop() {
	s.Lock()
	if s.stopped {
		s.Unlock()
		return
	}
	s.stopped = true
	close(s.closing)
	s.Unlock()
	s.wg.Wait()
}

// RequestRandomness queues a request and returns its id.
func (s *EasyRand) RequestRandomness(params rbase.RandomnessParams) (string, error) {
	if err := s.checkParams(params); err != nil {
		return "", err
	}
	s.Lock()
	s.nonce++
	id := s.requestID(params, s.nonce)
	s.Unlock()
	if err := s.enqueue(job{id: id, params: params}); err != nil {
		return "", err
	}
	log.Lvlf3("Queued randomness request %s", id)
	return id, nil
}

// Resubmit queues an already issued request again, for example after a
// restart lost the queue. The consumer must tolerate duplicate answers.
func (s *EasyRand) Resubmit(requestID string, params rbase.RandomnessParams) error {
	if requestID == "" {
		return xerrors.New("empty request id")
	}
	if err := s.checkParams(params); err != nil {
		return err
	}
	return s.enqueue(job{id: requestID, params: params})
}

// Randomness signs the next round.
func (s *EasyRand) Randomness() (*base.RandomnessOutput, error) {
	s.Lock()
	defer s.Unlock()
	msg := createNextMsg(s.blocks)
	sig, err := bls.Sign(suite, s.private, msg)
	if err != nil {
		return nil, err
	}
	s.blocks = append(s.blocks, sig)
	return &base.RandomnessOutput{
		Public: s.Public(),
		Round:  uint64(len(s.blocks) - 1),
		Prev:   msg,
		Value:  sig,
	}, nil
}

func (s *EasyRand) checkParams(params rbase.RandomnessParams) error {
	if params.NumWords == 0 {
		return ErrNoWords
	}
	if params.NumWords > MaxNumWords {
		return ErrTooManyWords
	}
	if params.GasLane != s.lane {
		return ErrUnknownLane
	}
	s.Lock()
	defer s.Unlock()
	if !s.subs[params.SubscriptionID] {
		return ErrUnknownSubscription
	}
	return nil
}

func (s *EasyRand) enqueue(j job) error {
	s.Lock()
	defer s.Unlock()
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// requestID is the keccak256 of the lane, the subscription, the nonce and
// the time, in the 0x-prefixed form used by EVM consumers.
func (s *EasyRand) requestID(params rbase.RandomnessParams, nonce uint64) string {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint64(b, params.SubscriptionID)
	binary.LittleEndian.PutUint64(b[8:], nonce)
	binary.LittleEndian.PutUint64(b[16:], uint64(time.Now().UnixNano()))
	return crypto.Keccak256Hash([]byte(s.lane), b).Hex()
}

func (s *EasyRand) process(j job) {
	wait := time.Duration(j.params.Confirmations) * s.blockTime
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-s.closing:
			return
		}
	}
	out, err := s.Randomness()
	if err != nil {
		log.Error("Couldn't sign round:", err)
		return
	}
	s.Lock()
	cb := s.callback
	s.Unlock()
	if cb == nil {
		log.Warn("No consumer registered, dropping answer to", j.id)
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb(j.id, out)
	}()
	limit := time.Duration(j.params.CallbackLimit) * time.Millisecond
	if limit == 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(limit):
		log.Warnf("Callback for %s exceeded its limit of %v", j.id, limit)
		<-done
	}
}

func createNextMsg(blocks [][]byte) []byte {
	round := len(blocks)
	if round == 0 {
		return []byte(genesisMsg)
	}
	rBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rBuf, uint64(round))
	buf := append(rBuf, blocks[len(blocks)-1]...)
	return buf
}
