package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every key in a single JSON document on local disk. Writes go
// to a temp file in the same directory and are renamed over the original.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("kvstore: create dir: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readForWrite()
	if err != nil {
		return err
	}
	doc[key] = value
	return f.write(doc)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readForWrite()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	doc := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return doc, nil
}

// readForWrite is read, except that an unreadable document is moved aside
// to path.corrupt and replaced by an empty one.
func (f *File) readForWrite() (map[string]string, error) {
	doc, err := f.read()
	if !errors.Is(err, ErrCorrupt) {
		return doc, err
	}
	log.Printf("kvstore: %v; starting over", err)
	if rerr := os.Rename(f.path, f.path+".corrupt"); rerr != nil {
		log.Printf("kvstore: move aside %s: %v", f.path, rerr)
	}
	return make(map[string]string), nil
}

func (f *File) write(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".kv-*")
	if err != nil {
		return fmt.Errorf("kvstore: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("kvstore: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("kvstore: replace %s: %w", f.path, err)
	}
	return nil
}
