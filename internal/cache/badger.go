package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "cache:"

// Badger is a Cache persisted in a shared badger database, so estimates
// survive between runs.
type Badger struct {
	db *badger.DB
}

// NewBadger creates a Badger cache on db. The caller owns db.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// Get implements Cache.
func (b *Badger) Get(ctx context.Context, key string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var value float64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("cache entry %s: want 8 bytes, got %d", key, len(val))
			}
			value = math.Float64frombits(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Put implements Cache.
func (b *Badger) Put(ctx context.Context, key string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(value))
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+key), buf)
	})
}

// Keys lists the cached keys in order.
func (b *Badger) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	prefix := []byte(badgerPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}
