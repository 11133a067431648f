package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/iturovskiy/blockmesh/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Write() error          { return b.db.Write(b.b, nil) }
func (b *levelBatch) Reset()                { b.b.Reset() }

// ---- BlockStore implementation ----

const headKey = "HEAD"

// LevelStore implements core.BlockStore on top of LevelDB. Blocks are
// keyed by content address under the "block:" prefix.
type LevelStore struct {
	db *LevelDB
}

// NewLevelStore wraps a LevelDB instance as a BlockStore.
func NewLevelStore(db *LevelDB) *LevelStore {
	return &LevelStore{db: db}
}

func (s *LevelStore) PutBlock(hash string, b *core.Block) error {
	data, err := b.Encode()
	if err != nil {
		return err
	}
	return s.db.Set([]byte("block:"+hash), data)
}

func (s *LevelStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte("block:" + hash))
	if err != nil {
		return nil, err
	}
	return core.DecodeBlock(data)
}

func (s *LevelStore) PutHead(data []byte) error {
	return s.db.Set([]byte(headKey), data)
}

func (s *LevelStore) GetHead() ([]byte, error) {
	return s.db.Get([]byte(headKey))
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
