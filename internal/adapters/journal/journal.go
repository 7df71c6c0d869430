// Package journal persists the request graph in badger as a snapshot plus a delta log.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

const (
	snapshotKey = "graph:snapshot"
	deltaPrefix = "graph:delta:"
	crcSize     = 4
)

// Journal implements ports.GraphJournal on a badger database.
type Journal struct {
	db *badger.DB

	mu    sync.Mutex
	tail  uint64
	count int
}

// New opens the journal stored in db.
func New(db *badger.DB) (*Journal, error) {
	j := &Journal{db: db}
	if err := j.scan(); err != nil {
		return nil, err
	}
	return j, nil
}

// scan counts the recorded deltas and finds the highest sequence number.
func (j *Journal) scan() error {
	prefix := []byte(deltaPrefix)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			j.count++
		}

		opts.Reverse = true
		rit := txn.NewIterator(opts)
		defer rit.Close()
		rit.Seek(append(bytes.Clone(prefix), 0xFF))
		if rit.ValidForPrefix(prefix) {
			seq, err := parseSeq(rit.Item().Key())
			if err != nil {
				return err
			}
			j.tail = seq
		}
		return nil
	})
	if err != nil {
		return zerr.Wrap(err, domain.ErrJournalReadFailed.Error())
	}
	return nil
}

// Load returns the snapshot and every delta recorded after it, in sequence order.
func (j *Journal) Load(ctx context.Context) (domain.GraphSnapshot, []domain.GraphDelta, error) {
	var (
		snap   domain.GraphSnapshot
		deltas []domain.GraphDelta
	)

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := decode(raw, &snap); err != nil {
				return zerr.With(err, "key", snapshotKey)
			}
		}

		prefix := []byte(deltaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var d domain.GraphDelta
			if err := decode(raw, &d); err != nil {
				return zerr.With(err, "key", string(it.Item().Key()))
			}
			if d.Seq > snap.Seq {
				deltas = append(deltas, d)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrJournalCorrupt) {
			return domain.GraphSnapshot{}, nil, err
		}
		return domain.GraphSnapshot{}, nil, zerr.Wrap(err, domain.ErrJournalReadFailed.Error())
	}
	return snap, deltas, nil
}

// Append records deltas. Each delta is stored under its own sequence number.
func (j *Journal) Append(ctx context.Context, deltas []domain.GraphDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()

	for _, d := range deltas {
		raw, err := encode(d)
		if err != nil {
			return err
		}
		if err := wb.Set(deltaKey(d.Seq), raw); err != nil {
			return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
		}
	}
	if err := wb.Flush(); err != nil {
		return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
	}

	j.count += len(deltas)
	if last := deltas[len(deltas)-1].Seq; last > j.tail {
		j.tail = last
	}
	return nil
}

// Checkpoint stores snapshot and drops the deltas it folds in.
func (j *Journal) Checkpoint(ctx context.Context, snapshot domain.GraphSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := encode(snapshot)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), raw)
	}); err != nil {
		return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
	}

	var folded [][]byte
	err = j.db.View(func(txn *badger.Txn) error {
		prefix := []byte(deltaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			seq, err := parseSeq(key)
			if err != nil {
				return err
			}
			if seq > snapshot.Seq {
				break
			}
			folded = append(folded, key)
		}
		return nil
	})
	if err != nil {
		return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range folded {
		if err := wb.Delete(key); err != nil {
			return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
		}
	}
	if err := wb.Flush(); err != nil {
		return zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
	}

	j.count -= len(folded)
	if j.count < 0 {
		j.count = 0
	}
	return nil
}

// Len returns the number of deltas recorded since the last checkpoint.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Tail returns the highest recorded delta sequence number.
func (j *Journal) Tail() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tail
}

func deltaKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016d", deltaPrefix, seq)
}

func parseSeq(key []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(deltaPrefix):]), "%016d", &seq); err != nil {
		return 0, zerr.With(zerr.Wrap(domain.ErrJournalCorrupt, "malformed delta key"), "key", string(key))
	}
	return seq, nil
}

// encode frames v as [4-byte big-endian crc32][msgpack].
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, crcSize))

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, zerr.Wrap(err, domain.ErrJournalWriteFailed.Error())
	}

	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[:crcSize], crc32.ChecksumIEEE(out[crcSize:]))
	return out, nil
}

func decode(raw []byte, v any) error {
	if len(raw) <= crcSize {
		return zerr.Wrap(domain.ErrJournalCorrupt, "record too short")
	}
	stored := binary.BigEndian.Uint32(raw[:crcSize])
	body := raw[crcSize:]
	if computed := crc32.ChecksumIEEE(body); stored != computed {
		return zerr.With(zerr.Wrap(domain.ErrJournalCorrupt, "checksum mismatch"), "crc", fmt.Sprintf("%08x!=%08x", stored, computed))
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return zerr.Wrap(errors.Join(domain.ErrJournalCorrupt, err), "undecodable record")
	}
	return nil
}
