package cas

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

const badgerPrefix = "cas/"

// BadgerBackend stores entries in the shared project database under the "cas/" prefix.
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend returns a local backend on db.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

// Name implements ports.CacheBackend.
func (b *BadgerBackend) Name() string { return "badger" }

// Writable implements ports.CacheBackend.
func (b *BadgerBackend) Writable() bool { return true }

// Get implements ports.CacheBackend.
func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(err, b.Name(), key)
	}
	return data, true, nil
}

// Set implements ports.CacheBackend.
func (b *BadgerBackend) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return ioError(err, b.Name(), key)
	}
	return nil
}

// Has implements ports.CacheBackend.
func (b *BadgerBackend) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err, b.Name(), key)
	}
	return true, nil
}

func badgerKey(key string) []byte {
	return []byte(badgerPrefix + key)
}

// ioError tags a backend failure with the cache i/o sentinel.
func ioError(err error, backend, key string) error {
	return zerr.With(zerr.With(zerr.Wrap(errors.Join(domain.ErrCacheIO, err), backend), "backend", backend), "key", key)
}
