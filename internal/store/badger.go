package store

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is an embedded persistent store backed by BadgerDB.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger store at path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrapErr("opening badger at "+path, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fullKey(collection, key)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr("badger get "+key, err)
	}
	return value, true, nil
}

func (b *Badger) Set(_ context.Context, collection, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fullKey(collection, key)), value)
	})
	if err != nil {
		return wrapErr("badger set "+key, err)
	}
	return nil
}

func (b *Badger) SetMany(_ context.Context, collection string, pairs []Pair) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, p := range pairs {
		if err := wb.Set([]byte(fullKey(collection, p.Key)), p.Value); err != nil {
			return wrapErr("badger batch set "+p.Key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return wrapErr("badger batch flush", err)
	}
	return nil
}

func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return wrapErr("closing badger", err)
	}
	return nil
}
