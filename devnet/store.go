package devnet

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"custodyledger_go/utils"
)

// Database key prefixes
const (
	blockKeyPrefix = "block_" // round -> block
	txnKeyPrefix   = "txn_"   // txid -> confirmed round
	heightKey      = "height" // last round
)

// Store persists blocks and the transaction index in leveldb.
type Store struct {
	db        *leveldb.DB
	batchLock sync.Mutex
	path      string
	log       zerolog.Logger
}

// OpenStore opens the chain database under dataDir, or an in-memory
// database when dataDir is empty.
func OpenStore(dataDir string) (*Store, error) {
	options := &opt.Options{
		BlockCacheCapacity:  8 * 1024 * 1024,
		WriteBuffer:         4 * 1024 * 1024,
		CompactionTableSize: 2 * 1024 * 1024,
	}

	var (
		db     *leveldb.DB
		err    error
		dbPath = ":memory:"
	)
	if dataDir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), options)
	} else {
		dbPath = filepath.Join(dataDir, "chain")
		db, err = leveldb.OpenFile(dbPath, options)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open chain database: %w", err)
	}

	log := utils.Component("devnet-store")
	log.Info().Str("path", dbPath).Msg("chain database opened")
	return &Store{db: db, path: dbPath, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func roundKey(prefix string, round uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], round)
	return key
}

func uint64Bytes(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// SaveBlock writes the block, its transaction index entries and the new
// height in one batch.
func (s *Store) SaveBlock(b *Block) error {
	data, err := encodeBlock(b)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(roundKey(blockKeyPrefix, b.Round), data)
	for _, id := range b.TxIDs {
		batch.Put([]byte(txnKeyPrefix+id), uint64Bytes(b.Round))
	}
	batch.Put([]byte(heightKey), uint64Bytes(b.Round))

	s.batchLock.Lock()
	defer s.batchLock.Unlock()

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to save block %d: %w", b.Round, err)
	}
	s.log.Debug().Uint64("round", b.Round).Int("txns", len(b.TxIDs)).Msg("block saved")
	return nil
}

// BlockByRound loads the block for round.
func (s *Store) BlockByRound(round uint64) (*Block, error) {
	data, err := s.db.Get(roundKey(blockKeyPrefix, round), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, fmt.Errorf("block %d not found", round)
		}
		return nil, fmt.Errorf("failed to retrieve block %d: %w", round, err)
	}
	return decodeBlock(data)
}

// Height returns the last stored round, zero for an empty chain.
func (s *Store) Height() (uint64, error) {
	data, err := s.db.Get([]byte(heightKey), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read height: %w", err)
	}
	return binary.BigEndian.Uint64(data), nil
}

// TxRound returns the round txid was confirmed in.
func (s *Store) TxRound(txid string) (uint64, bool, error) {
	data, err := s.db.Get([]byte(txnKeyPrefix+txid), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to look up %s: %w", txid, err)
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// ForEachBlock calls fn for every stored block in round order.
func (s *Store) ForEachBlock(fn func(*Block) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(blockKeyPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		b, err := decodeBlock(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return iter.Error()
}
