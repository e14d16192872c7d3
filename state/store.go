package state

/*
The store.go keeps the raffle in a bbolt database. Values are encoded with
protobuf. The live round and the configuration live under fixed keys of
the raffle bucket, winners and events in nested buckets keyed by big-endian
sequence numbers, so that cursors iterate them in order.
*/

import (
	"encoding/binary"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	roundKey      = []byte("round")
	configKey     = []byte("config")
	beaconKey     = []byte("beacon")
	winnersBucket = []byte("winners")
	eventsBucket  = []byte("events")
)

// ErrNotFound is returned when a value has never been stored.
var ErrNotFound = xerrors.New("not found")

// Store persists the raffle. It implements raffle.Store.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

// Open opens, or creates, the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %v", path, err)
	}
	s, err := New(db, []byte(base.UID))
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses bucket of an already opened database, as handed out by onet's
// GetAdditionalBucket. The database is not closed by Close.
func New(db *bbolt.DB, bucket []byte) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		if _, err := b.CreateBucketIfNotExists(winnersBucket); err != nil {
			return err
		}
		_, err = b.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating buckets: %v", err)
	}
	return &Store{db: db, bucket: append([]byte(nil), bucket...)}, nil
}

// Close closes the database if it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// SaveRound stores the live round.
func (s *Store) SaveRound(r *base.Round) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.SaveRoundTx(tx, r)
	})
}

// SaveRoundTx stores the live round as part of tx, to commit it together
// with other buckets of the same database.
func (s *Store) SaveRoundTx(tx *bbolt.Tx, r *base.Round) error {
	b, err := s.root(tx)
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(r)
	if err != nil {
		return xerrors.Errorf("encoding round: %v", err)
	}
	return b.Put(roundKey, buf)
}

// LoadRound returns the stored round or ErrNotFound.
func (s *Store) LoadRound() (*base.Round, error) {
	r := &base.Round{}
	if err := s.get(roundKey, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveConfig stores the configuration of the raffle.
func (s *Store) SaveConfig(cfg *base.Config) error {
	return s.put(configKey, cfg)
}

// LoadConfig returns the stored configuration or ErrNotFound.
func (s *Store) LoadConfig() (*base.Config, error) {
	cfg := &base.Config{}
	if err := s.get(configKey, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BeaconKey holds the private key of the local beacon.
type BeaconKey struct {
	Private []byte
}

// SaveBeaconKey stores the beacon key so that the lane survives restarts.
func (s *Store) SaveBeaconKey(key []byte) error {
	return s.put(beaconKey, &BeaconKey{Private: key})
}

// LoadBeaconKey returns the stored beacon key or ErrNotFound.
func (s *Store) LoadBeaconKey() ([]byte, error) {
	bk := &BeaconKey{}
	if err := s.get(beaconKey, bk); err != nil {
		return nil, err
	}
	return bk.Private, nil
}

// AppendWinner records the outcome of a draw, keyed by its round number.
func (s *Store) AppendWinner(w *base.WinnerRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.AppendWinnerTx(tx, w)
	})
}

// AppendWinnerTx is AppendWinner as part of tx.
func (s *Store) AppendWinnerTx(tx *bbolt.Tx, w *base.WinnerRecord) error {
	b, err := s.root(tx)
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(w)
	if err != nil {
		return xerrors.Errorf("encoding winner: %v", err)
	}
	return b.Bucket(winnersBucket).Put(seqKey(w.Round), buf)
}

// Winners returns up to limit winners, the most recent first. A limit of
// zero returns all of them.
func (s *Store) Winners(limit int) ([]base.WinnerRecord, error) {
	var out []base.WinnerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Bucket(winnersBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			var w base.WinnerRecord
			if err := decode(v, &w); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}

// AppendEvent assigns the next sequence number to ev and stores it.
func (s *Store) AppendEvent(ev *base.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket).Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.Seq = seq
		buf, err := protobuf.Encode(ev)
		if err != nil {
			return xerrors.Errorf("encoding event: %v", err)
		}
		return b.Put(seqKey(seq), buf)
	})
}

// Events returns up to limit events with a sequence number of at least
// from, in order. A limit of zero returns all of them.
func (s *Store) Events(from uint64, limit int) ([]base.Event, error) {
	var out []base.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) == limit {
				break
			}
			var ev base.Event
			if err := decode(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (s *Store) root(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(s.bucket)
	if b == nil {
		return nil, xerrors.Errorf("bucket %s: %w", s.bucket, ErrNotFound)
	}
	return b, nil
}

func (s *Store) put(key []byte, val interface{}) error {
	buf, err := protobuf.Encode(val)
	if err != nil {
		return xerrors.Errorf("encoding %s: %v", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key, buf)
	})
}

func (s *Store) get(key []byte, val interface{}) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return decode(v, val)
	})
}

// decode copies v first: bbolt values are only valid inside the
// transaction and protobuf keeps references to byte slices.
func decode(v []byte, val interface{}) error {
	buf := make([]byte, len(v))
	copy(buf, v)
	if err := protobuf.Decode(buf, val); err != nil {
		log.Errorf("Protobuf decode failed: %v", err)
		return err
	}
	return nil
}

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}
