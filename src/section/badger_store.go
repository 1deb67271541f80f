package section

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
)

const (
	sapPrefix    = "sap"
	memberPrefix = "member"
)

func sapKey(generation uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", sapPrefix, generation))
}

func memberKey(state *SignedNodeState) []byte {
	return []byte(fmt.Sprintf("%s_%s", memberPrefix, state.NodeState.Name().Hex()))
}

// BadgerStore persists Knowledge in a Badger database and serves reads from
// an InmemStore loaded at startup.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore opens, or creates, the database at path and loads its
// content.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	if err := store.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

func (s *BadgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		// Keys are zero-padded so links come back in generation order.
		prefix := []byte(sapPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			link := new(SignedSAP)
			if err := link.Unmarshal(val); err != nil {
				return err
			}
			if err := s.inmemStore.AppendSAP(link); err != nil {
				return err
			}
		}

		prefix = []byte(memberPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			state := new(SignedNodeState)
			if err := state.Unmarshal(val); err != nil {
				return err
			}
			if err := s.inmemStore.SetMember(state); err != nil {
				return err
			}
		}

		return nil
	})
}

// AppendSAP implements the Store interface.
func (s *BadgerStore) AppendSAP(link *SignedSAP) error {
	if err := s.inmemStore.AppendSAP(link); err != nil {
		return err
	}

	val, err := link.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sapKey(link.SAP.Generation), val)
	})
}

// Chain implements the Store interface.
func (s *BadgerStore) Chain() (Chain, error) {
	return s.inmemStore.Chain()
}

// SetMember implements the Store interface.
func (s *BadgerStore) SetMember(state *SignedNodeState) error {
	if err := s.inmemStore.SetMember(state); err != nil {
		return err
	}

	val, err := state.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(memberKey(state), val)
	})
}

// Members implements the Store interface.
func (s *BadgerStore) Members() ([]SignedNodeState, error) {
	return s.inmemStore.Members()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}
