// Package memstore provides an in-memory strata.Storage implementation.
// It backs tests, fixtures, and examples; rows are deep-copied on the way
// in and out so callers never alias internal state.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/zoobzio/strata"
)

// table holds one record type's rows in insertion order.
type table struct {
	spec  strata.IndexSpec
	rows  map[string]strata.Row
	order []string
}

// Store is a mutex-guarded in-memory storage collaborator.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// CreateTable prepares a table. Idempotent: recreating keeps existing rows.
func (s *Store) CreateTable(_ context.Context, name string, spec strata.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return nil
	}
	s.tables[name] = &table{spec: spec, rows: make(map[string]strata.Row)}
	return nil
}

// Get returns the row stored under key.
func (s *Store) Get(_ context.Context, name, key string) (strata.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, false, nil
	}
	row, ok := t.rows[key]
	if !ok {
		return nil, false, nil
	}
	return cloneRow(row), true, nil
}

// GetBy returns all rows whose field equals value, in insertion order.
func (s *Store) GetBy(_ context.Context, name, field string, value any) ([]strata.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, nil
	}

	var out []strata.Row
	for _, key := range t.order {
		row := t.rows[key]
		if reflect.DeepEqual(row[field], value) {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

// Filter returns all rows matching the predicate, in insertion order.
func (s *Store) Filter(_ context.Context, name string, pred func(strata.Row) bool) ([]strata.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, nil
	}

	var out []strata.Row
	for _, key := range t.order {
		row := cloneRow(t.rows[key])
		if pred(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Insert stores rows, generating a key when the table's primary field is
// absent or empty, and returns the keys in order.
func (s *Store) Insert(_ context.Context, name string, rows []strata.Row) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[string]strata.Row)}
		s.tables[name] = t
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		key := ""
		if t.spec.Primary != "" {
			key, _ = row[t.spec.Primary].(string)
		}
		if key == "" {
			key = uuid.NewString()
			if t.spec.Primary != "" {
				row = cloneRow(row)
				row[t.spec.Primary] = key
			}
		}
		if _, dup := t.rows[key]; dup {
			return keys, fmt.Errorf("memstore: duplicate key %q in table %q", key, name)
		}
		t.rows[key] = cloneRow(row)
		t.order = append(t.order, key)
		keys = append(keys, key)
	}
	return keys, nil
}

// Update merges partial into the row stored under key.
func (s *Store) Update(_ context.Context, name, key string, partial strata.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", strata.ErrNotFound, name, key)
	}
	row, ok := t.rows[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", strata.ErrNotFound, name, key)
	}
	for k, v := range partial {
		row[k] = v
	}
	return nil
}

// Delete removes the row stored under key. Absent keys are not an error.
func (s *Store) Delete(_ context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	if _, ok := t.rows[key]; !ok {
		return nil
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// cloneRow copies one level deep; row values are primitives and metadata
// strings, locale maps arrive pre-serialized.
func cloneRow(row strata.Row) strata.Row {
	out := make(strata.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
