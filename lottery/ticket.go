package lottery

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/xerrors"
)

// Ticket is an entry signed by the participant. The counter must be the
// next counter of the participant's account, so a ticket is spent once.
type Ticket struct {
	Public    []byte
	Amount    uint64
	Counter   uint64
	Signature []byte
}

// NewTicket signs an entry of amount with secret.
func NewTicket(secret kyber.Scalar, amount, counter uint64) (*Ticket, error) {
	pub := cothority.Suite.Point().Mul(secret, nil)
	buf, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	t := &Ticket{Public: buf, Amount: amount, Counter: counter}
	t.Signature, err = schnorr.Sign(cothority.Suite, secret, t.Message())
	if err != nil {
		return nil, xerrors.Errorf("signing ticket: %v", err)
	}
	return t, nil
}

// AddressOf returns the address of the participant with public key pub.
func AddressOf(pub kyber.Point) (base.Address, error) {
	buf, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base.Address(hex.EncodeToString(buf)), nil
}

// Address returns the account charged by the ticket.
func (t *Ticket) Address() base.Address {
	return base.Address(hex.EncodeToString(t.Public))
}

// Message is the signed digest: sha256(public || amount || counter).
func (t *Ticket) Message() []byte {
	h := sha256.New()
	h.Write(t.Public)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, t.Amount)
	h.Write(b)
	binary.LittleEndian.PutUint64(b, t.Counter)
	h.Write(b)
	return h.Sum(nil)
}

// Verify checks the signature of the ticket.
func (t *Ticket) Verify() error {
	pub := cothority.Suite.Point()
	if err := pub.UnmarshalBinary(t.Public); err != nil {
		return xerrors.Errorf("cannot decode public key: %v", err)
	}
	if err := schnorr.Verify(cothority.Suite, pub, t.Message(), t.Signature); err != nil {
		return xerrors.Errorf("cannot verify signature: %v", err)
	}
	return nil
}
