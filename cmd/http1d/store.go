package main

import (
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

var errNotFound = errors.New("item not found")

type Item struct {
	ID   uint64
	Name string
}

// Store is the in-memory item list shared by the /items handlers. It is
// safe for use by many connections at once.
type Store struct {
	mu     sync.RWMutex
	nextID uint64
	items  map[uint64]Item
}

func NewStore() *Store {
	return &Store{nextID: 1, items: make(map[uint64]Item)}
}

func (s *Store) Add(name string) Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := Item{ID: s.nextID, Name: name}
	s.items[it.ID] = it
	s.nextID++
	return it
}

func (s *Store) Get(id uint64) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, errors.Wrap(errNotFound, strconv.FormatUint(id, 10))
	}
	return it, nil
}

func (s *Store) Delete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errors.Wrap(errNotFound, strconv.FormatUint(id, 10))
	}
	delete(s.items, id)
	return nil
}

// List returns the items ordered by id.
func (s *Store) List() []Item {
	s.mu.RLock()
	items := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
