package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerJournal stores records in a shared badger database under
// "searchlog:<name>:<seq>" keys. Values are a 4-byte CRC32 followed by the
// same text line a FileJournal would write.
type BadgerJournal struct {
	db    *badger.DB
	name  string
	vocab *Vocabulary
	now   func() time.Time

	mu  sync.Mutex
	seq uint64 // last written sequence number
}

// NewBadgerJournal opens the log called name inside db. The database stays
// owned by the caller.
func NewBadgerJournal(db *badger.DB, name string, vocab *Vocabulary) (*BadgerJournal, error) {
	j := &BadgerJournal{db: db, name: name, vocab: vocab, now: time.Now}
	if err := j.initSeq(); err != nil {
		return nil, fmt.Errorf("init search log %s: %w", name, err)
	}
	return j, nil
}

func (j *BadgerJournal) prefix() []byte {
	return []byte(fmt.Sprintf("searchlog:%s:", j.name))
}

func (j *BadgerJournal) key(seq uint64) []byte {
	return []byte(fmt.Sprintf("searchlog:%s:%016d", j.name, seq))
}

// seqOf returns the sequence number of a record key.
func seqOf(key, prefix []byte) (uint64, error) {
	return strconv.ParseUint(string(key[len(prefix):]), 10, 64)
}

// initSeq finds the highest existing sequence number.
func (j *BadgerJournal) initSeq() error {
	prefix := j.prefix()
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if it.ValidForPrefix(prefix) {
			if seq, err := seqOf(it.Item().Key(), prefix); err == nil {
				j.seq = seq
			}
		}
		return nil
	})
}

func encodeValue(line string) []byte {
	out := make([]byte, 4+len(line))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE([]byte(line)))
	copy(out[4:], line)
	return out
}

func decodeValue(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("%w: entry too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	if computed := crc32.ChecksumIEEE(data[4:]); stored != computed {
		return "", fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	return string(data[4:]), nil
}

// Append implements Journal.
func (j *BadgerJournal) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Time.IsZero() {
		r.Time = j.now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq + 1
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(j.key(seq), encodeValue(j.vocab.FormatLine(r)))
	})
	if err != nil {
		return fmt.Errorf("append search log %s: %w", j.name, err)
	}
	j.seq = seq
	return nil
}

// Replay implements Journal.
func (j *BadgerJournal) Replay(ctx context.Context) ([]Record, error) {
	var records []Record
	prefix := j.prefix()

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, err := seqOf(item.Key(), prefix)
			if err != nil {
				return &ParseError{Source: string(prefix), Text: string(item.Key()[len(prefix):]), Reason: "bad record key", Err: err}
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			line, err := decodeValue(raw)
			if err != nil {
				return err
			}
			r, err := j.vocab.ParseLine(line)
			if err != nil {
				return &ParseError{Source: string(prefix), Line: int(seq), Text: line, Reason: "bad record", Err: err}
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Rotate implements Journal. Existing records are moved under
// "searchlog-stale:<name>:<unix-nanos>:" and the sequence restarts.
func (j *BadgerJournal) Rotate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prefix := j.prefix()
	stale := fmt.Sprintf("searchlog-stale:%s:%d:", j.name, j.now().UnixNano())

	err := j.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		type kv struct{ key, value []byte }
		var moved []kv
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			moved = append(moved, kv{key: item.KeyCopy(nil), value: v})
		}
		it.Close()

		for _, e := range moved {
			if err := txn.Set([]byte(stale+string(e.key[len(prefix):])), e.value); err != nil {
				return err
			}
			if err := txn.Delete(e.key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rotate search log %s: %w", j.name, err)
	}
	j.seq = 0
	return nil
}

// Close implements Journal. The shared database is not closed.
func (j *BadgerJournal) Close() error {
	return nil
}
