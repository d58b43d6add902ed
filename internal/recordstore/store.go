// Package recordstore provides a generic collection-based persistence layer:
// filterable CRUD over untyped records, with interchangeable in-memory,
// SQLite and Postgres backends selected by DSN.
package recordstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrNoMatch      = errors.New("no matching record")
	ErrInvalidInput = errors.New("invalid input")
)

// Record is one stored row. Data holds the collection-specific fields.
type Record struct {
	ID         string
	Collection string
	Data       map[string]any
	Created    time.Time
	Updated    time.Time
}

// Filter is an equality predicate over record fields. A nil filter matches
// everything. The special key "id" addresses the record envelope rather
// than Data.
type Filter map[string]any

// Store is the record store contract. GetFirstMatching fails with ErrNoMatch
// when nothing matches, so callers can branch on an expected miss.
type Store interface {
	Create(ctx context.Context, collection string, data map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	GetOne(ctx context.Context, collection, id string) (Record, error)
	GetFirstMatching(ctx context.Context, collection string, filter Filter, sortBy string) (Record, error)
	GetFullList(ctx context.Context, collection string, filter Filter, sortBy string) ([]Record, error)
	Close() error
}

func (f Filter) matches(rec Record) bool {
	for key, want := range f {
		var got any
		switch key {
		case "id":
			got = rec.ID
		default:
			got = rec.Data[key]
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares scalars across the numeric widenings a JSON round trip
// introduces (int stored, float64 read back).
func looseEqual(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	switch wantTyped := want.(type) {
	case string:
		gotStr, ok := got.(string)
		return ok && gotStr == wantTyped
	case bool:
		gotBool, ok := got.(bool)
		return ok && gotBool == wantTyped
	case int:
		return numericValue(got) == float64(wantTyped)
	case int64:
		return numericValue(got) == float64(wantTyped)
	case float64:
		return numericValue(got) == wantTyped
	}
	return got == want
}

func numericValue(v any) float64 {
	switch typed := v.(type) {
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case float64:
		return typed
	}
	return 0
}

// sortRecords orders by a single field name, "-" prefix for descending.
// "created" and "updated" sort on the envelope timestamps; ties break on ID
// so ordering is deterministic.
func sortRecords(records []Record, sortBy string) {
	if sortBy == "" {
		sortBy = "created"
	}
	descending := strings.HasPrefix(sortBy, "-")
	field := strings.TrimPrefix(sortBy, "-")
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if descending {
			a, b = b, a
		}
		return lessRecord(a, b, field)
	})
}

func lessRecord(a, b Record, field string) bool {
	switch field {
	case "created":
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
	case "updated":
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.Before(b.Updated)
		}
	default:
		av, _ := a.Data[field].(string)
		bv, _ := b.Data[field].(string)
		if av != bv {
			return av < bv
		}
	}
	return a.ID < b.ID
}

// MemoryStore is the in-memory backend. It is the default for tests and for
// running without external storage.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]Record{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	if strings.TrimSpace(collection) == "" {
		return Record{}, ErrInvalidInput
	}
	now := s.now()
	rec := Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Data:       cloneData(data),
		Created:    now,
		Updated:    now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = map[string]Record{}
	}
	s.collections[collection][rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	data := cloneData(rec.Data)
	for key, value := range patch {
		data[key] = value
	}
	rec.Data = data
	rec.Updated = s.now()
	s.collections[collection][id] = rec
	return rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) GetOne(ctx context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) GetFirstMatching(ctx context.Context, collection string, filter Filter, sortBy string) (Record, error) {
	records, err := s.GetFullList(ctx, collection, filter, sortBy)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNoMatch
	}
	return records[0], nil
}

func (s *MemoryStore) GetFullList(ctx context.Context, collection string, filter Filter, sortBy string) ([]Record, error) {
	s.mu.RLock()
	records := make([]Record, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		if filter.matches(rec) {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()
	sortRecords(records, sortBy)
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}
