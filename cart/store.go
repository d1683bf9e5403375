// Package cart keeps the local list of items a user intends to buy and
// persists it after every change.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pawmart/kvstore"
	"pawmart/models"

	"github.com/shopspring/decimal"
)

// StorageKey is the durable key holding the serialized cart.
const StorageKey = "cart"

var ErrInvalidPrice = errors.New("cart: price must not be negative")

type Options struct {
	// WriteDelay batches persistence. Zero writes on every mutation.
	WriteDelay time.Duration
	// OnPersistError receives failures of batched writes.
	OnPersistError func(error)
}

// Store is the authoritative local cart. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	items  []models.CartItem
	writer *kvstore.Writer
}

// Open loads the persisted cart. A missing, unreadable or corrupt value
// yields an empty cart; the problem is logged, not returned.
func Open(ctx context.Context, kv kvstore.Store, opts Options) *Store {
	s := &Store{
		writer: kvstore.NewWriter(kv, StorageKey, opts.WriteDelay, opts.OnPersistError),
	}

	var items []models.CartItem
	if _, err := kvstore.LoadJSON(ctx, kv, StorageKey, &items); err != nil {
		if errors.Is(err, kvstore.ErrCorrupt) {
			log.Printf("cart: discarding corrupt stored cart: %v", err)
		} else {
			log.Printf("cart: load failed, starting empty: %v", err)
		}
		items = nil
	}
	s.items = sanitize(items)
	return s
}

// sanitize restores the invariants on data that came from storage:
// one line per product, quantity at least 1.
func sanitize(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	index := make(map[models.ID]int, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		if i, ok := index[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// Add increments the quantity of an existing line for p.ID or appends a
// new line with quantity 1.
func (s *Store) Add(ctx context.Context, p models.Product) error {
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: %s costs %s", ErrInvalidPrice, p.ID, p.Price)
	}
	s.mu.Lock()
	if i := s.find(p.ID); i >= 0 {
		s.items[i].Quantity++
	} else {
		s.items = append(s.items, models.CartItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			ImageURL:  p.ImageURL,
			Category:  p.Category,
			Quantity:  1,
		})
	}
	return s.persistLocked(ctx)
}

// Remove deletes the line for productID. Removing an absent product is a
// no-op.
func (s *Store) Remove(ctx context.Context, productID models.ID) error {
	s.mu.Lock()
	i := s.find(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return s.persistLocked(ctx)
}

// UpdateQuantity adds delta to the line's quantity, never going below 1.
// Use Remove to drop a line.
func (s *Store) UpdateQuantity(ctx context.Context, productID models.ID, delta int) error {
	s.mu.Lock()
	i := s.find(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items[i].Quantity = max(1, s.items[i].Quantity+delta)
	return s.persistLocked(ctx)
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.items = []models.CartItem{}
	return s.persistLocked(ctx)
}

// Total recomputes the totals from the current lines. Tax is always zero.
func (s *Store) Total() models.CartTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totals(s.items)
}

// Items returns a copy of the current lines in insertion order.
func (s *Store) Items() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Snapshot returns the lines and their totals as of the same instant.
func (s *Store) Snapshot() ([]models.CartItem, models.CartTotals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(), totals(s.items)
}

// Settle takes paid quantities off the cart. Lines added or topped up
// after the paid snapshot keep the difference.
func (s *Store) Settle(ctx context.Context, paid []models.CartItem) error {
	s.mu.Lock()
	changed := false
	for _, p := range paid {
		i := s.find(p.ProductID)
		if i < 0 {
			continue
		}
		changed = true
		if s.items[i].Quantity > p.Quantity {
			s.items[i].Quantity -= p.Quantity
		} else {
			s.items = append(s.items[:i], s.items[i+1:]...)
		}
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *Store) copyLocked() []models.CartItem {
	out := make([]models.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

func totals(items []models.CartItem) models.CartTotals {
	subtotal := decimal.Zero
	count := 0
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
		count += it.Quantity
	}
	tax := decimal.Zero
	return models.CartTotals{
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
		ItemCount: count,
	}
}

// Item returns the line for productID.
func (s *Store) Item(productID models.ID) (models.CartItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(productID); i >= 0 {
		return s.items[i], true
	}
	return models.CartItem{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Flush forces any batched write out.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close flushes pending writes; later mutations write through.
func (s *Store) Close(ctx context.Context) error {
	return s.writer.Close(ctx)
}

func (s *Store) find(id models.ID) int {
	for i := range s.items {
		if s.items[i].ProductID == id {
			return i
		}
	}
	return -1
}

// persistLocked snapshots the cart and releases the lock once the snapshot
// is handed to the writer, so snapshots reach the writer in mutation
// order. The in-memory change stands even if the write fails.
func (s *Store) persistLocked(ctx context.Context) error {
	err := s.writer.Save(ctx, s.items)
	s.mu.Unlock()

	if err != nil {
		log.Printf("cart: persist failed: %v", err)
		return err
	}
	return nil
}
