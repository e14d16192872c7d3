package base

import (
	"crypto/sha256"
	"encoding/binary"

	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"golang.org/x/xerrors"
)

const (
	UID  string = "easyrand"
	RAND string = "randomness"
)

// RandomnessOutput is one round of the beacon.
type RandomnessOutput struct {
	// Public is the marshalled BLS public key of the beacon.
	Public []byte
	Round  uint64
	Prev   []byte
	// Value is the signature on Prev. Use the hash of it!
	Value []byte
}

func (randOutput *RandomnessOutput) Hash() []byte {
	h := sha256.New()
	h.Write(randOutput.Public)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, randOutput.Round)
	h.Write(b)
	h.Write(randOutput.Prev)
	h.Write(randOutput.Value)
	return h.Sum(nil)
}

// Verify checks the BLS signature of the round against the public key it
// carries. Callers must also check that Public is the key they expect.
func (randOutput *RandomnessOutput) Verify() error {
	suite := bn256.NewSuite()
	pub := suite.G2().Point()
	if err := pub.UnmarshalBinary(randOutput.Public); err != nil {
		return xerrors.Errorf("decoding public key: %v", err)
	}
	if err := bls.Verify(suite, pub, randOutput.Prev, randOutput.Value); err != nil {
		return xerrors.Errorf("verifying round %d: %v", randOutput.Round, err)
	}
	return nil
}

// Words derives n random words from the signature:
// word i = LittleEndian(sha256(Value || i)[:8]).
func (randOutput *RandomnessOutput) Words(n int) []uint64 {
	words := make([]uint64, n)
	idx := make([]byte, 4)
	for i := range words {
		h := sha256.New()
		h.Write(randOutput.Value)
		binary.LittleEndian.PutUint32(idx, uint32(i))
		h.Write(idx)
		words[i] = binary.LittleEndian.Uint64(h.Sum(nil))
	}
	return words
}
