// Package batch fans one request out into sibling variant jobs, tracks their
// aggregate status and bundles their results into an expiring archive.
package batch

import (
	"sync"
	"time"
)

// Batch is the process-lifetime metadata for one fan-out request. It is not
// crash-durable: losing batch records on restart is an accepted limitation,
// the child job rows themselves survive in the database.
type Batch struct {
	ID            string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ZipURL        string
	TotalVariants int
}

// Expired reports whether the batch is past its TTL at the given instant.
func (b *Batch) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// Store holds batch records in memory, safe for concurrent readers and one
// writer per batch id.
type Store struct {
	mu      sync.RWMutex
	batches map[string]Batch
}

// NewStore creates an empty batch store.
func NewStore() *Store {
	return &Store{batches: map[string]Batch{}}
}

// Put inserts or replaces a batch record.
func (s *Store) Put(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
}

// Get returns the batch and whether it exists.
func (s *Store) Get(id string) (Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	return b, ok
}

// SetZipURL records the built archive's URL, returning the updated record.
func (s *Store) SetZipURL(id, url string) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, false
	}
	b.ZipURL = url
	s.batches[id] = b
	return b, true
}

// Delete removes a batch record.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
}

// ExpiredBefore lists batches past their TTL at the given instant.
func (s *Store) ExpiredBefore(now time.Time) []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Batch
	for _, b := range s.batches {
		if b.Expired(now) {
			out = append(out, b)
		}
	}
	return out
}
