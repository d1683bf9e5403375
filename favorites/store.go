// Package favorites keeps the pets a user has saved. Entries are
// snapshots taken when the pet was favorited; they are not re-synced with
// the server.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pawmart/kvstore"
	"pawmart/models"
)

// StorageKey is the durable key holding the serialized favorites.
const StorageKey = "favorites"

// ErrPersist is returned by Toggle when the toggle took effect in memory
// but could not be written. Callers should show it as a dismissable
// warning; it also matches kvstore.ErrWrite.
var ErrPersist = errors.New("favorites: change not saved")

type Options struct {
	// WriteDelay batches persistence. Zero writes on every toggle.
	WriteDelay time.Duration
	// OnPersistError receives failures of batched writes.
	OnPersistError func(error)
}

type Store struct {
	kv     kvstore.Store
	writer *kvstore.Writer

	mu      sync.RWMutex
	pets    []models.Pet
	loading bool
	ready   chan struct{}
	once    sync.Once
}

// New returns a store in the loading state. Call Load once to populate it.
func New(kv kvstore.Store, opts Options) *Store {
	return &Store{
		kv:      kv,
		writer:  kvstore.NewWriter(kv, StorageKey, opts.WriteDelay, opts.OnPersistError),
		loading: true,
		ready:   make(chan struct{}),
	}
}

// Load reads the persisted favorites. Missing or corrupt data loads as an
// empty set. Only the first call has any effect.
func (s *Store) Load(ctx context.Context) error {
	var loadErr error
	s.once.Do(func() {
		var pets []models.Pet
		if _, err := kvstore.LoadJSON(ctx, s.kv, StorageKey, &pets); err != nil {
			if !errors.Is(err, kvstore.ErrCorrupt) {
				loadErr = err
			}
			log.Printf("favorites: starting empty: %v", err)
			pets = nil
		}

		s.mu.Lock()
		s.pets = dedupe(pets)
		s.loading = false
		s.mu.Unlock()
		close(s.ready)
	})
	return loadErr
}

func dedupe(pets []models.Pet) []models.Pet {
	out := make([]models.Pet, 0, len(pets))
	seen := make(map[models.ID]bool, len(pets))
	for _, p := range pets {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// Loading is true until Load has finished, so an empty list can be told
// apart from one that has not been read yet.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Ready is closed once Load has finished.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Toggle removes pet if it is a favorite, otherwise stores a snapshot of
// it. It waits for Load to finish first. A persistence failure is
// returned wrapped in ErrPersist; the toggle itself is kept.
func (s *Store) Toggle(ctx context.Context, pet models.Pet) (added bool, err error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	s.mu.Lock()
	if i := s.find(pet.ID); i >= 0 {
		s.pets = append(s.pets[:i], s.pets[i+1:]...)
	} else {
		s.pets = append(s.pets, pet)
		added = true
	}
	err = s.writer.Save(ctx, s.pets)
	s.mu.Unlock()

	if err != nil {
		log.Printf("favorites: persist failed for pet %s: %v", pet.ID, err)
		return added, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return added, nil
}

// IsFavorite reports membership. Always false while loading.
func (s *Store) IsFavorite(id models.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id) >= 0
}

// List returns the favorites in the order they were added.
func (s *Store) List() []models.Pet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Pet, len(s.pets))
	copy(out, s.pets)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pets)
}

// Flush forces any batched write out.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

func (s *Store) find(id models.ID) int {
	for i := range s.pets {
		if s.pets[i].ID == id {
			return i
		}
	}
	return -1
}
