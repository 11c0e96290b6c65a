package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store implementation backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	InMemory bool
}

// NewBadger creates a new BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("kv: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(slogLogger{})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key Key) ([]byte, error) {
	k := encode(key)
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key Key, value []byte) error {
	k := encode(key)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	})
}

func (b *Badger) Delete(_ context.Context, key Key) error {
	k := encode(key)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := encode(prefix)
	// Append separator so "a:b" prefix doesn't match "a:bc".
	var prefixBytes []byte
	if len(p) > 0 {
		prefixBytes = append(p, separator)
	}

	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefixBytes
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
				item := it.Item()
				keyCopy := item.KeyCopy(nil)

				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}

				entry := Entry{
					Key:   decode(keyCopy),
					Value: val,
				}
				if !yield(entry, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger routes badger output through slog, suppressing info and debug.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...interface{}) {
	slog.Error("badger", "msg", fmt.Sprintf(f, v...))
}

func (slogLogger) Warningf(f string, v ...interface{}) {
	slog.Warn("badger", "msg", fmt.Sprintf(f, v...))
}
func (slogLogger) Infof(string, ...interface{})        {}
func (slogLogger) Debugf(string, ...interface{})       {}
