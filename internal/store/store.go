// Package store defines the generic persistence gateway implemented by concrete backends.
package store

import (
	"context"
	"fmt"
	"time"
)

// Table describes where an entity lives: its table (or key prefix) and key column.
type Table struct {
	Name string
	Key  string
}

// Op is a comparison operator usable in predicates.
type Op int

const (
	OpEq Op = iota
	OpLt
)

// Cond compares one entity field with a value.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Eq builds field = value.
func Eq(field string, v any) Cond { return Cond{Field: field, Op: OpEq, Value: v} }

// Lt builds field < value.
func Lt(field string, v any) Cond { return Cond{Field: field, Op: OpLt, Value: v} }

// Predicate is a conjunction (or, with Or set, a disjunction) of conditions.
// An empty predicate matches every row.
type Predicate struct {
	Or    bool
	Conds []Cond
}

// All matches rows satisfying every condition.
func All(c ...Cond) Predicate { return Predicate{Conds: c} }

// Any matches rows satisfying at least one condition.
func Any(c ...Cond) Predicate { return Predicate{Or: true, Conds: c} }

// Gateway is keyed CRUD plus predicate queries over one entity type.
type Gateway[T any] interface {
	// Create inserts rec under id.
	Create(ctx context.Context, id string, rec *T) (*T, error)
	// GetByID returns errs.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*T, error)
	// Update replaces the row; errs.ErrNotFound when absent.
	Update(ctx context.Context, id string, rec *T) (*T, error)
	// UpdateIf replaces the row only while guard holds on the stored row,
	// otherwise errs.ErrVersionConflict (errs.ErrNotFound when absent).
	UpdateIf(ctx context.Context, id string, rec *T, guard Cond) (*T, error)
	// Delete removes the row and returns what was removed; errs.ErrNotFound when absent.
	Delete(ctx context.Context, id string) (*T, error)
	// Query returns every row matching p.
	Query(ctx context.Context, p Predicate) ([]*T, error)
	// DeleteWhere removes every row matching p and reports how many went.
	DeleteWhere(ctx context.Context, p Predicate) (int64, error)
}

// Mapper is the explicit per-entity mapping between the domain struct and storage.
type Mapper[T any] struct {
	Table Table
	// Columns lists stored fields, key first.
	Columns []string
	// Values returns column values in Columns order.
	Values func(*T) []any
	// Scan returns pointers receiving column values in Columns order.
	Scan func(*T) []any
	// Field returns a single field value by column name; used for in-process predicate evaluation.
	Field func(*T, string) (any, bool)
	// Unique maps unique fields to their constraint names. In-process backends enforce it;
	// SQL backends rely on the schema.
	Unique map[string]string
}

// WithKey returns a copy of rec whose key column holds id.
func (m Mapper[T]) WithKey(id string, rec *T) *T {
	out := *rec
	if key, ok := m.Scan(&out)[0].(*string); ok {
		*key = id
	}
	return &out
}

// Match evaluates p against rec in process.
func (m Mapper[T]) Match(rec *T, p Predicate) (bool, error) {
	if len(p.Conds) == 0 {
		return true, nil
	}
	for _, c := range p.Conds {
		ok, err := m.eval(rec, c)
		if err != nil {
			return false, err
		}
		if ok && p.Or {
			return true, nil
		}
		if !ok && !p.Or {
			return false, nil
		}
	}
	return !p.Or, nil
}

func (m Mapper[T]) eval(rec *T, c Cond) (bool, error) {
	v, ok := m.Field(rec, c.Field)
	if !ok {
		return false, fmt.Errorf("%s: unknown field %q", m.Table.Name, c.Field)
	}
	switch c.Op {
	case OpEq:
		if a, ok := v.(time.Time); ok {
			b, ok := c.Value.(time.Time)
			return ok && a.Equal(b), nil
		}
		return v == c.Value, nil
	case OpLt:
		return less(v, c.Value)
	default:
		return false, fmt.Errorf("unsupported operator %d", c.Op)
	}
}

func less(a, b any) (bool, error) {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return false, fmt.Errorf("cannot compare time with %T", b)
		}
		return x.Before(y), nil
	case string:
		y, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", b)
		}
		return x < y, nil
	case int64:
		y, ok := b.(int64)
		if !ok {
			return false, fmt.Errorf("cannot compare int64 with %T", b)
		}
		return x < y, nil
	default:
		return false, fmt.Errorf("unordered type %T", a)
	}
}
