// Package memory keeps mirrored snapshots and run records in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// BlobStore is an in-memory snapshot mirror.
type BlobStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	latest    pricewise.MirrorPointer
}

// NewBlobStore creates an empty mirror.
func NewBlobStore() *BlobStore {
	return &BlobStore{snapshots: make(map[string][]byte)}
}

// MirrorSnapshot keeps a copy of doc and marks id as latest.
func (s *BlobStore) MirrorSnapshot(_ context.Context, id string, doc []byte) (string, error) {
	name, err := pricewise.MirrorObjectName(id)
	if err != nil {
		return "", err
	}
	uri := fmt.Sprintf("memory://%s", name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = append([]byte(nil), doc...)
	s.latest = pricewise.MirrorPointer{ID: id, URI: uri, MirroredAt: time.Now().UTC()}
	return uri, nil
}

// Snapshot returns a copy of a mirrored snapshot.
func (s *BlobStore) Snapshot(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Latest returns the latest marker; ok is false before the first mirror.
func (s *BlobStore) Latest() (pricewise.MirrorPointer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest.ID != ""
}

// IDs lists mirrored snapshot ids in sorted order.
func (s *BlobStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
