package hub

import (
	"context"
	"errors"
	"sync"

	"pawmart/models"
)

var (
	ErrNotFound = errors.New("hub: message not found")
	// ErrStale means the message type changed between read and patch.
	ErrStale = errors.New("hub: message changed concurrently")
)

// MessageStore persists relayed messages. Conversation returns both
// directions of a pair in insertion order. Patch applies only while the
// stored type still equals expect.
type MessageStore interface {
	Insert(ctx context.Context, msg models.Message) error
	Get(ctx context.Context, id string) (models.Message, error)
	Patch(ctx context.Context, id string, expect models.MessageType, patch models.MessagePatch) (models.Message, error)
	Conversation(ctx context.Context, a, b string) ([]models.Message, error)
}

// MemoryStore keeps messages in process. Used when no MONGO_URI is set
// and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*models.Message)}
}

func (s *MemoryStore) Insert(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[msg.ID]; ok {
		return errors.New("hub: duplicate message id " + msg.ID)
	}
	m := msg
	s.byID[msg.ID] = &m
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return *m, nil
}

func (s *MemoryStore) Patch(_ context.Context, id string, expect models.MessageType, patch models.MessagePatch) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	if m.Type != expect {
		return *m, ErrStale
	}
	patch.Apply(m)
	return *m, nil
}

func (s *MemoryStore) Conversation(_ context.Context, a, b string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	for _, id := range s.order {
		if m := s.byID[id]; m.Between(a, b) {
			out = append(out, *m)
		}
	}
	return out, nil
}
