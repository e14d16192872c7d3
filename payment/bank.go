package payment

/*
The bank.go keeps participant balances in a bbolt bucket. Entry fees are
moved into the escrow account, and the pool is paid out of it. Every
movement happens inside a single bbolt transaction, so balances never
diverge from the escrow.
*/

import (
	"math"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// Escrow holds the fees of the current round.
const Escrow base.Address = "escrow"

var accountsBucket = []byte("accounts")

var (
	ErrInsufficientFunds = xerrors.New("insufficient funds")
	ErrAccountFrozen     = xerrors.New("account is frozen")
	ErrBadCounter        = xerrors.New("wrong signer counter")
	ErrOverflow          = xerrors.New("balance overflow")
	ErrZeroAmount        = xerrors.New("zero amount")
	ErrInvalidAccount    = xerrors.New("invalid account")
)

// Account is the stored state of one address.
type Account struct {
	Balance uint64
	// Counter is the number of charges signed by the owner, it protects
	// against replayed tickets.
	Counter uint64
	Frozen  bool
}

// Bank moves funds between accounts. It implements raffle.Transferer.
type Bank struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBank stores its accounts in a sub-bucket of bucket.
func NewBank(db *bbolt.DB, bucket []byte) (*Bank, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		_, err = b.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating buckets: %v", err)
	}
	return &Bank{db: db, bucket: append([]byte(nil), bucket...)}, nil
}

// Deposit credits amount to addr.
func (b *Bank) Deposit(addr base.Address, amount uint64) error {
	if addr == "" || addr == Escrow {
		return xerrors.Errorf("cannot deposit to %q: %w", addr, ErrInvalidAccount)
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	return b.update(func(accs *bbolt.Bucket) error {
		acc, err := load(accs, addr)
		if err != nil {
			return err
		}
		if acc.Balance > math.MaxUint64-amount {
			return ErrOverflow
		}
		acc.Balance += amount
		return store(accs, addr, acc)
	})
}

// Charge moves amount from addr into the escrow. The counter must be the
// next counter of addr.
func (b *Bank) Charge(addr base.Address, amount, counter uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return b.update(func(accs *bbolt.Bucket) error {
		acc, err := load(accs, addr)
		if err != nil {
			return err
		}
		if acc.Counter+1 != counter {
			return xerrors.Errorf("got %d, expected %d: %w", counter,
				acc.Counter+1, ErrBadCounter)
		}
		if acc.Frozen {
			return ErrAccountFrozen
		}
		if acc.Balance < amount {
			return xerrors.Errorf("%s has %d, needs %d: %w", addr,
				acc.Balance, amount, ErrInsufficientFunds)
		}
		acc.Balance -= amount
		acc.Counter++
		if err := store(accs, addr, acc); err != nil {
			return err
		}
		return move(accs, Escrow, amount)
	})
}

// Refund returns amount from the escrow to addr, after a rejected entry.
// Frozen accounts can still be refunded.
func (b *Bank) Refund(addr base.Address, amount uint64) error {
	return b.fromEscrow(addr, amount, true)
}

// Transfer pays amount from the escrow to the winner.
func (b *Bank) Transfer(to base.Address, amount uint64) error {
	return b.fromEscrow(to, amount, false)
}

// TransferTx is Transfer as part of tx, so that the payout commits or
// rolls back together with the other writes of tx.
func (b *Bank) TransferTx(tx *bbolt.Tx, to base.Address, amount uint64) error {
	root := tx.Bucket(b.bucket)
	if root == nil {
		return xerrors.Errorf("missing bucket %s", b.bucket)
	}
	return payFromEscrow(root.Bucket(accountsBucket), to, amount, false)
}

func (b *Bank) fromEscrow(to base.Address, amount uint64, refund bool) error {
	err := b.update(func(accs *bbolt.Bucket) error {
		return payFromEscrow(accs, to, amount, refund)
	})
	if err != nil {
		return err
	}
	log.Lvlf3("Paid %d from escrow to %s", amount, to)
	return nil
}

func payFromEscrow(accs *bbolt.Bucket, to base.Address, amount uint64, refund bool) error {
	if to == "" || to == Escrow {
		return xerrors.Errorf("cannot pay to %q: %w", to, ErrInvalidAccount)
	}
	esc, err := load(accs, Escrow)
	if err != nil {
		return err
	}
	if esc.Balance < amount {
		return xerrors.Errorf("escrow has %d, needs %d: %w", esc.Balance,
			amount, ErrInsufficientFunds)
	}
	acc, err := load(accs, to)
	if err != nil {
		return err
	}
	if acc.Frozen && !refund {
		return ErrAccountFrozen
	}
	if acc.Balance > math.MaxUint64-amount {
		return ErrOverflow
	}
	esc.Balance -= amount
	acc.Balance += amount
	if err := store(accs, Escrow, esc); err != nil {
		return err
	}
	return store(accs, to, acc)
}

// Account returns the state of addr. Unknown addresses have an empty
// account.
func (b *Bank) Account(addr base.Address) (Account, error) {
	var acc *Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = load(tx.Bucket(b.bucket).Bucket(accountsBucket), addr)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return *acc, nil
}

// Balance returns the balance of addr.
func (b *Bank) Balance(addr base.Address) (uint64, error) {
	acc, err := b.Account(addr)
	return acc.Balance, err
}

// Freeze makes addr unable to be charged or paid.
func (b *Bank) Freeze(addr base.Address) error {
	return b.setFrozen(addr, true)
}

// Unfreeze reverts Freeze.
func (b *Bank) Unfreeze(addr base.Address) error {
	return b.setFrozen(addr, false)
}

func (b *Bank) setFrozen(addr base.Address, frozen bool) error {
	return b.update(func(accs *bbolt.Bucket) error {
		acc, err := load(accs, addr)
		if err != nil {
			return err
		}
		acc.Frozen = frozen
		return store(accs, addr, acc)
	})
}

func (b *Bank) update(fn func(accs *bbolt.Bucket) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(b.bucket).Bucket(accountsBucket))
	})
}

func move(accs *bbolt.Bucket, to base.Address, amount uint64) error {
	acc, err := load(accs, to)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return ErrOverflow
	}
	acc.Balance += amount
	return store(accs, to, acc)
}

func load(accs *bbolt.Bucket, addr base.Address) (*Account, error) {
	acc := &Account{}
	v := accs.Get([]byte(addr))
	if v == nil {
		return acc, nil
	}
	if err := protobuf.Decode(append([]byte(nil), v...), acc); err != nil {
		return nil, xerrors.Errorf("decoding account %s: %v", addr, err)
	}
	return acc, nil
}

func store(accs *bbolt.Bucket, addr base.Address, acc *Account) error {
	buf, err := protobuf.Encode(acc)
	if err != nil {
		return xerrors.Errorf("encoding account %s: %v", addr, err)
	}
	return accs.Put([]byte(addr), buf)
}
