package section

import (
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is the LevelDB flavour of BadgerStore, for platforms where
// Badger's memory mapping is unwelcome.
type LevelDBStore struct {
	inmemStore *InmemStore
	db         *leveldb.DB
	path       string
}

// NewLevelDBStore opens, or creates, the database at path and loads its
// content.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	store := &LevelDBStore{
		inmemStore: NewInmemStore(),
		db:         db,
		path:       path,
	}

	if err := store.load(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *LevelDBStore) load() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(sapPrefix+"_")), nil)
	for it.Next() {
		link := new(SignedSAP)
		if err := link.Unmarshal(it.Value()); err != nil {
			it.Release()
			return err
		}
		if err := s.inmemStore.AppendSAP(link); err != nil {
			it.Release()
			return err
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = s.db.NewIterator(util.BytesPrefix([]byte(memberPrefix+"_")), nil)
	defer it.Release()
	for it.Next() {
		state := new(SignedNodeState)
		if err := state.Unmarshal(it.Value()); err != nil {
			return err
		}
		if err := s.inmemStore.SetMember(state); err != nil {
			return err
		}
	}

	return it.Error()
}

// AppendSAP implements the Store interface.
func (s *LevelDBStore) AppendSAP(link *SignedSAP) error {
	if err := s.inmemStore.AppendSAP(link); err != nil {
		return err
	}
	val, err := link.Marshal()
	if err != nil {
		return err
	}
	return s.db.Put(sapKey(link.SAP.Generation), val, nil)
}

// Chain implements the Store interface.
func (s *LevelDBStore) Chain() (Chain, error) {
	return s.inmemStore.Chain()
}

// SetMember implements the Store interface.
func (s *LevelDBStore) SetMember(state *SignedNodeState) error {
	if err := s.inmemStore.SetMember(state); err != nil {
		return err
	}
	val, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.db.Put(memberKey(state), val, nil)
}

// Members implements the Store interface.
func (s *LevelDBStore) Members() ([]SignedNodeState, error) {
	return s.inmemStore.Members()
}

// Close implements the Store interface.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *LevelDBStore) StorePath() string {
	return s.path
}
