// Package memory is an in-process store backend used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/store"
)

// Table is a mutex-guarded map implementing store.Gateway. Rows are copied on the way
// in and out so callers never share memory with the store.
type Table[T any] struct {
	m    store.Mapper[T]
	mu   sync.RWMutex
	rows map[string]T
}

var _ store.Gateway[struct{}] = (*Table[struct{}])(nil)

// New constructs an empty table for mapper m.
func New[T any](m store.Mapper[T]) *Table[T] {
	return &Table[T]{m: m, rows: map[string]T{}}
}

// Create stores a copy of rec under id.
func (t *Table[T]) Create(_ context.Context, id string, rec *T) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; ok {
		return nil, &errs.ConstraintError{Constraint: t.m.Table.Name + "_pkey"}
	}
	rec = t.m.WithKey(id, rec)
	if err := t.checkUnique(id, rec); err != nil {
		return nil, err
	}
	t.rows[id] = *rec
	out := *rec
	return &out, nil
}

// GetByID returns a copy of the row, or errs.ErrNotFound.
func (t *Table[T]) GetByID(_ context.Context, id string) (*T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

// Update replaces the row keyed by id.
func (t *Table[T]) Update(_ context.Context, id string, rec *T) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(id, rec)
}

// UpdateIf replaces the row only while guard matches the stored copy.
func (t *Table[T]) UpdateIf(_ context.Context, id string, rec *T, guard store.Cond) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	match, err := t.m.Match(&cur, store.All(guard))
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, errs.ErrVersionConflict
	}
	return t.updateLocked(id, rec)
}

func (t *Table[T]) updateLocked(id string, rec *T) (*T, error) {
	if _, ok := t.rows[id]; !ok {
		return nil, errs.ErrNotFound
	}
	rec = t.m.WithKey(id, rec)
	if err := t.checkUnique(id, rec); err != nil {
		return nil, err
	}
	t.rows[id] = *rec
	out := *rec
	return &out, nil
}

// Delete removes the row and returns it.
func (t *Table[T]) Delete(_ context.Context, id string) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(t.rows, id)
	return &r, nil
}

// Query returns copies of matching rows ordered by id.
func (t *Table[T]) Query(_ context.Context, p store.Predicate) ([]*T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*T
	for _, id := range ids {
		r := t.rows[id]
		ok, err := t.m.Match(&r, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &r)
		}
	}
	return out, nil
}

// DeleteWhere removes matching rows.
func (t *Table[T]) DeleteWhere(_ context.Context, p store.Predicate) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for id, r := range t.rows {
		ok, err := t.m.Match(&r, p)
		if err != nil {
			return n, err
		}
		if ok {
			delete(t.rows, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[T]) checkUnique(id string, rec *T) error {
	for field, constraint := range t.m.Unique {
		want, _ := t.m.Field(rec, field)
		for otherID, other := range t.rows {
			if otherID == id {
				continue
			}
			if v, _ := t.m.Field(&other, field); v == want {
				return &errs.ConstraintError{Constraint: constraint}
			}
		}
	}
	return nil
}
