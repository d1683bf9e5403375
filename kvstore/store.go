// Package kvstore is the durable key-value storage the cart and favorites
// stores persist into. Values are opaque strings; callers store JSON.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrWrite wraps every failed Set/Delete surfaced by a Writer.
	ErrWrite = errors.New("kvstore: write failed")
	// ErrCorrupt is returned by LoadJSON when the stored value does not
	// parse into the destination.
	ErrCorrupt = errors.New("kvstore: stored value is corrupt")
)

// Store is the durable key-value contract. Get reports ok=false for a
// missing key rather than an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// LoadJSON reads key and decodes it into dst. A missing key returns
// found=false with no error.
func LoadJSON(ctx context.Context, s Store, key string, dst any) (found bool, err error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	if err := s.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrWrite, key, err)
	}
	return nil
}
