package state

import (
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"foodledger/internal/model"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func readMeta(txn *badger.Txn) (model.Meta, error) {
	item, err := txn.Get(metaKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Meta{}, nil
	}
	if err != nil {
		return model.Meta{}, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return model.Meta{}, err
	}
	return decodeMeta(v)
}

func (b *BadgerStore) Apply(c Commit) (bool, error) {
	var applied bool
	err := b.db.Update(func(txn *badger.Txn) error {
		cur, err := readMeta(txn)
		if err != nil {
			return err
		}
		if c.Seq <= cur.LastSeq {
			return nil
		}
		if c.Food != nil {
			fb, err := encodeFood(*c.Food)
			if err != nil {
				return err
			}
			if err := txn.Set(foodKey(c.Food.ID), fb); err != nil {
				return err
			}
		}
		meta := c.Meta
		meta.LastSeq = c.Seq
		mb, err := encodeMeta(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(metaKey, mb); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger apply: %w", err)
	}
	return applied, nil
}

func (b *BadgerStore) Get(id uint64) (model.Food, bool, error) {
	var f model.Food
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(foodKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		f, err = decodeFood(v)
		found = err == nil
		return err
	})
	if err != nil {
		return model.Food{}, false, fmt.Errorf("badger get: %w", err)
	}
	return f, found, nil
}

func (b *BadgerStore) Meta() (model.Meta, error) {
	var m model.Meta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = readMeta(txn)
		return err
	})
	return m, err
}

func (b *BadgerStore) Range(fn func(f model.Food) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{foodPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !isFoodKey(item.Key()) {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			f, err := decodeFood(v)
			if err != nil {
				return err
			}
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces every key with the contents of d.
func (b *BadgerStore) LoadAll(d Dump) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badger drop: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, f := range d.Foods {
			fb, err := encodeFood(f)
			if err != nil {
				return err
			}
			if err := txn.Set(foodKey(f.ID), fb); err != nil {
				return err
			}
		}
		mb, err := encodeMeta(d.Meta)
		if err != nil {
			return err
		}
		return txn.Set(metaKey, mb)
	})
}
