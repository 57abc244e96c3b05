package state

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"foodledger/internal/model"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
		WALBytesPerSync:       1 << 20,
		// Every commit is synced; a ledger cannot lose acknowledged purchases.
		WALMinSyncInterval: func() time.Duration { return 0 },
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Meta() (model.Meta, error) {
	v, closer, err := p.db.Get(metaKey)
	if err == pebble.ErrNotFound {
		return model.Meta{}, nil
	}
	if err != nil {
		return model.Meta{}, fmt.Errorf("pebble get meta: %w", err)
	}
	defer closer.Close()
	return decodeMeta(v)
}

func (p *PebbleStore) Apply(c Commit) (bool, error) {
	cur, err := p.Meta()
	if err != nil {
		return false, err
	}
	if c.Seq <= cur.LastSeq {
		return false, nil
	}
	meta := c.Meta
	meta.LastSeq = c.Seq
	mb, err := encodeMeta(meta)
	if err != nil {
		return false, err
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	if c.Food != nil {
		fb, err := encodeFood(*c.Food)
		if err != nil {
			return false, err
		}
		if err := wb.Set(foodKey(c.Food.ID), fb, nil); err != nil {
			return false, err
		}
	}
	if err := wb.Set(metaKey, mb, nil); err != nil {
		return false, err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("pebble commit: %w", err)
	}
	return true, nil
}

func (p *PebbleStore) Get(id uint64) (model.Food, bool, error) {
	v, closer, err := p.db.Get(foodKey(id))
	if err == pebble.ErrNotFound {
		return model.Food{}, false, nil
	}
	if err != nil {
		return model.Food{}, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	f, err := decodeFood(v)
	if err != nil {
		return model.Food{}, false, err
	}
	return f, true, nil
}

func (p *PebbleStore) Range(fn func(f model.Food) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{foodPrefix},
		UpperBound: foodKeyUpperBound,
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if !isFoodKey(it.Key()) {
			continue
		}
		f, err := decodeFood(append([]byte(nil), it.Value()...))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll replaces every key with the contents of d in one batch.
func (p *PebbleStore) LoadAll(d Dump) error {
	wb := p.db.NewBatch()
	defer wb.Close()
	// Food keys are 'f'..., meta is 'm'; clearing ['f', 'n') covers both.
	if err := wb.DeleteRange([]byte{foodPrefix}, []byte{'n'}, nil); err != nil {
		return err
	}
	for _, f := range d.Foods {
		fb, err := encodeFood(f)
		if err != nil {
			return err
		}
		if err := wb.Set(foodKey(f.ID), fb, nil); err != nil {
			return err
		}
	}
	mb, err := encodeMeta(d.Meta)
	if err != nil {
		return err
	}
	if err := wb.Set(metaKey, mb, nil); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble load: %w", err)
	}
	return nil
}
