package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"pawmart/globals"
)

// Writer persists snapshots of one value under one key.
//
// With a zero delay every Save writes through and returns the write error.
// With a positive delay saves are batched: the first Save arms a timer,
// later saves replace the pending snapshot, and the timer writes whatever
// is newest. Failed batched writes go to the error callback.
type Writer struct {
	store   Store
	key     string
	delay   time.Duration
	onError func(error)

	mu      sync.Mutex
	pending []byte
	seq     uint64
	timer   *time.Timer

	writeMu sync.Mutex
	written uint64
}

// NewWriter returns a Writer for key. onError may be nil, in which case
// batched failures are only logged.
func NewWriter(store Store, key string, delay time.Duration, onError func(error)) *Writer {
	return &Writer{store: store, key: key, delay: delay, onError: onError}
}

// Save snapshots v. The encoding happens before Save returns, so later
// mutations of v do not leak into the stored value.
func (w *Writer) Save(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", w.key, err)
	}

	w.mu.Lock()
	w.seq++
	seq := w.seq
	if w.delay <= 0 {
		w.mu.Unlock()
		return w.write(ctx, seq, data)
	}
	w.pending = data
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.fire)
	}
	w.mu.Unlock()
	return nil
}

// Flush writes the pending snapshot, if any, right away.
func (w *Writer) Flush(ctx context.Context) error {
	seq, data := w.take()
	if data == nil {
		return nil
	}
	return w.write(ctx, seq, data)
}

// Close flushes the pending snapshot. Saves after Close write through.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.delay = 0
	w.mu.Unlock()
	return w.Flush(ctx)
}

// Pending reports whether a batched snapshot is waiting to be written.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

func (w *Writer) take() (uint64, []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	data := w.pending
	w.pending = nil
	return w.seq, data
}

func (w *Writer) fire() {
	seq, data := w.take()
	if data == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), globals.RequestTimeout)
	defer cancel()
	if err := w.write(ctx, seq, data); err != nil {
		if w.onError != nil {
			w.onError(err)
			return
		}
		log.Printf("kvstore: batched write of %q failed: %v", w.key, err)
	}
}

// write stores data unless a newer snapshot already made it to the store.
func (w *Writer) write(ctx context.Context, seq uint64, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if seq <= w.written {
		return nil
	}
	if err := w.store.Set(ctx, w.key, string(data)); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrWrite, w.key, globals.AsTimeout(err))
	}
	w.written = seq
	return nil
}
