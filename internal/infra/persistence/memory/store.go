// Package memory keeps fit records in process memory for tests and one-shot
// CLI runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cellfit/internal/fitstore"
	"cellfit/pkg/allenfit"
)

var _ fitstore.Store = (*Store)(nil)

// Store is a map-backed fitstore.Store. Fits are kept encoded so callers never
// share maps with the store.
type Store struct {
	mu       sync.RWMutex
	records  map[string]fitstore.Record
	payloads map[string][]byte
	byDigest map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]fitstore.Record),
		payloads: make(map[string][]byte),
		byDigest: make(map[string]string),
	}
}

func (s *Store) Save(_ context.Context, r fitstore.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(r.Fit)
	if err != nil {
		return fmt.Errorf("encode fit %s: %w", r.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fitstore.Exists(r)
	}
	if _, ok := s.byDigest[r.Digest]; ok {
		return fitstore.Exists(r)
	}
	r.Fit = allenfit.Fit{}
	s.records[r.ID] = r
	s.payloads[r.ID] = payload
	s.byDigest[r.Digest] = r.ID
	return nil
}

func (s *Store) Get(_ context.Context, id string) (fitstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *Store) FindByDigest(_ context.Context, digest string) (fitstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDigest[digest]
	if !ok {
		return fitstore.Record{}, fitstore.NotFound("digest", digest)
	}
	return s.load(id)
}

func (s *Store) List(_ context.Context) ([]fitstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fitstore.Record, 0, len(s.records))
	for id := range s.records {
		r, err := s.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Close() error { return nil }

// load requires s.mu to be held.
func (s *Store) load(id string) (fitstore.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return fitstore.Record{}, fitstore.NotFound("id", id)
	}
	if err := json.Unmarshal(s.payloads[id], &r.Fit); err != nil {
		return fitstore.Record{}, fmt.Errorf("decode fit %s: %w", id, err)
	}
	return r, nil
}
