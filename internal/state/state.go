package state

import (
	"fmt"
	"sort"
	"sync"

	"foodledger/internal/model"
)

// Commit is the result of one accepted ledger operation.
// Meta is always written; Food only when the operation touched an item.
type Commit struct {
	Seq  int64
	Meta model.Meta
	Food *model.Food
}

// Dump is a full copy of the store, used by snapshots and restore.
type Dump struct {
	Meta  model.Meta   `json:"meta"`
	Foods []model.Food `json:"foods"`
}

// Store abstracts the state backend.
// Apply skips commits whose Seq is not greater than Meta().LastSeq; gaps are allowed.
type Store interface {
	Apply(c Commit) (applied bool, err error)
	Get(id uint64) (model.Food, bool, error)
	Meta() (model.Meta, error)
	Range(fn func(f model.Food) error) error
	LoadAll(d Dump) error
}

// Snapshot collects the whole store into a Dump ordered by food id.
func Snapshot(st Store) (Dump, error) {
	meta, err := st.Meta()
	if err != nil {
		return Dump{}, fmt.Errorf("read meta: %w", err)
	}
	d := Dump{Meta: meta, Foods: []model.Food{}}
	if err := st.Range(func(f model.Food) error {
		d.Foods = append(d.Foods, f)
		return nil
	}); err != nil {
		return Dump{}, err
	}
	sort.Slice(d.Foods, func(i, j int) bool { return d.Foods[i].ID < d.Foods[j].ID })
	return d, nil
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu    sync.RWMutex
	meta  model.Meta
	foods map[uint64]model.Food
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{foods: make(map[uint64]model.Food)}
}

// LoadAll replaces the store contents with the provided dump.
func (s *InMemoryStore) LoadAll(d Dump) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = d.Meta
	s.foods = make(map[uint64]model.Food, len(d.Foods))
	for _, f := range d.Foods {
		s.foods[f.ID] = f
	}
	return nil
}

func (s *InMemoryStore) Apply(c Commit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Seq <= s.meta.LastSeq {
		return false, nil
	}
	if c.Food != nil {
		s.foods[c.Food.ID] = *c.Food
	}
	s.meta = c.Meta
	s.meta.LastSeq = c.Seq
	return true, nil
}

func (s *InMemoryStore) Get(id uint64) (model.Food, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.foods[id]
	return f, ok, nil
}

func (s *InMemoryStore) Meta() (model.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta, nil
}

func (s *InMemoryStore) Range(fn func(f model.Food) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.foods {
		if err := fn(f); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}
