package section

import (
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var (
	sapBkt    = []byte("saps")
	memberBkt = []byte("members")
)

// BoltStore keeps the chain and member states in a single BoltDB file.
type BoltStore struct {
	inmemStore *InmemStore
	db         *bolt.DB
	path       string
}

// NewBoltStore opens, or creates, the database file at path and loads its
// content.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	s := &BoltStore{
		inmemStore: NewInmemStore(),
		db:         db,
		path:       path,
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		saps, err := tx.CreateBucketIfNotExists(sapBkt)
		if err != nil {
			return err
		}
		members, err := tx.CreateBucketIfNotExists(memberBkt)
		if err != nil {
			return err
		}

		// keys are zero-padded generations, so the cursor walks the chain
		// in order
		err = saps.ForEach(func(k, v []byte) error {
			link := new(SignedSAP)
			if err := link.Unmarshal(v); err != nil {
				return err
			}
			return s.inmemStore.AppendSAP(link)
		})
		if err != nil {
			return err
		}

		return members.ForEach(func(k, v []byte) error {
			state := new(SignedNodeState)
			if err := state.Unmarshal(v); err != nil {
				return err
			}
			return s.inmemStore.SetMember(state)
		})
	})
}

func (s *BoltStore) put(bucket, key, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, val)
	})
}

// AppendSAP implements the Store interface.
func (s *BoltStore) AppendSAP(link *SignedSAP) error {
	if err := s.inmemStore.AppendSAP(link); err != nil {
		return err
	}
	val, err := link.Marshal()
	if err != nil {
		return err
	}
	return s.put(sapBkt, sapKey(link.SAP.Generation), val)
}

// Chain implements the Store interface.
func (s *BoltStore) Chain() (Chain, error) {
	return s.inmemStore.Chain()
}

// SetMember implements the Store interface.
func (s *BoltStore) SetMember(state *SignedNodeState) error {
	if err := s.inmemStore.SetMember(state); err != nil {
		return err
	}
	val, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.put(memberBkt, memberKey(state), val)
}

// Members implements the Store interface.
func (s *BoltStore) Members() ([]SignedNodeState, error) {
	return s.inmemStore.Members()
}

// Close implements the Store interface.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BoltStore) StorePath() string {
	return s.path
}
