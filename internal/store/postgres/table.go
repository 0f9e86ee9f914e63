package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/store"
)

// Table implements store.Gateway for one entity over a PostgreSQL table.
type Table[T any] struct {
	db   *DB
	m    store.Mapper[T]
	cols string
}

var _ store.Gateway[model.Session] = (*Table[model.Session])(nil)

// NewTable constructs a table bound to mapper m.
func NewTable[T any](db *DB, m store.Mapper[T]) *Table[T] {
	return &Table[T]{db: db, m: m, cols: strings.Join(m.Columns, ", ")}
}

// NewUsers returns the users table.
func NewUsers(db *DB) *Table[model.User] { return NewTable(db, store.UserMapper) }

// NewSessions returns the auth_sessions table.
func NewSessions(db *DB) *Table[model.Session] { return NewTable(db, store.SessionMapper) }

// Create inserts rec under id. A unique violation comes back as *errs.ConstraintError.
func (t *Table[T]) Create(ctx context.Context, id string, rec *T) (*T, error) {
	vals := t.m.Values(t.m.WithKey(id, rec))
	ph := make([]string, len(vals))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.m.Table.Name, t.cols, strings.Join(ph, ", "), t.cols)
	out, err := t.one(ctx, q, vals...)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			return nil, &errs.ConstraintError{Constraint: name, Err: err}
		}
		return nil, err
	}
	return out, nil
}

// GetByID returns the row keyed by id, or errs.ErrNotFound.
func (t *Table[T]) GetByID(ctx context.Context, id string) (*T, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", t.cols, t.m.Table.Name, t.m.Table.Key)
	return t.one(ctx, q, id)
}

// Update overwrites every non-key column of the row keyed by id.
func (t *Table[T]) Update(ctx context.Context, id string, rec *T) (*T, error) {
	q, args := t.update(id, rec)
	out, err := t.one(ctx, q, args...)
	if name, ok := uniqueViolation(err); ok {
		return nil, &errs.ConstraintError{Constraint: name, Err: err}
	}
	return out, err
}

// UpdateIf adds guard to the UPDATE's WHERE clause. When no row comes back the row
// is re-read to tell a missing row from a lost race.
func (t *Table[T]) UpdateIf(ctx context.Context, id string, rec *T, guard store.Cond) (*T, error) {
	q, args := t.update(id, rec)
	cond, args, err := t.cond(guard, args)
	if err != nil {
		return nil, err
	}
	q = strings.Replace(q, " RETURNING ", " AND "+cond+" RETURNING ", 1)

	out, err := t.one(ctx, q, args...)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errs.ErrNotFound):
		if _, gerr := t.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, errs.ErrVersionConflict
	default:
		if name, ok := uniqueViolation(err); ok {
			return nil, &errs.ConstraintError{Constraint: name, Err: err}
		}
		return nil, err
	}
}

func (t *Table[T]) update(id string, rec *T) (string, []any) {
	vals := t.m.Values(rec)
	args := []any{id}
	set := make([]string, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		args = append(args, vals[i])
		set = append(set, fmt.Sprintf("%s = $%d", t.m.Columns[i], len(args)))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 RETURNING %s",
		t.m.Table.Name, strings.Join(set, ", "), t.m.Table.Key, t.cols)
	return q, args
}

// Delete removes the row and returns it.
func (t *Table[T]) Delete(ctx context.Context, id string) (*T, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING %s", t.m.Table.Name, t.m.Table.Key, t.cols)
	return t.one(ctx, q, id)
}

// Query returns rows matching p ordered by key.
func (t *Table[T]) Query(ctx context.Context, p store.Predicate) ([]*T, error) {
	where, args, err := t.where(p)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", t.cols, t.m.Table.Name, where, t.m.Table.Key)
	rows, err := t.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		rec := new(T)
		if err := rows.Scan(t.m.Scan(rec)...); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteWhere removes rows matching p and returns the affected count.
func (t *Table[T]) DeleteWhere(ctx context.Context, p store.Predicate) (int64, error) {
	where, args, err := t.where(p)
	if err != nil {
		return 0, err
	}
	tag, err := t.db.Pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", t.m.Table.Name, where), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *Table[T]) one(ctx context.Context, q string, args ...any) (*T, error) {
	rec := new(T)
	if err := t.db.Pool.QueryRow(ctx, q, args...).Scan(t.m.Scan(rec)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// where renders p as " WHERE ..." (empty for an empty predicate).
func (t *Table[T]) where(p store.Predicate) (string, []any, error) {
	if len(p.Conds) == 0 {
		return "", nil, nil
	}
	var (
		parts []string
		args  []any
	)
	for _, c := range p.Conds {
		s, next, err := t.cond(c, args)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, s)
		args = next
	}
	sep := " AND "
	if p.Or {
		sep = " OR "
	}
	return " WHERE " + strings.Join(parts, sep), args, nil
}

func (t *Table[T]) cond(c store.Cond, args []any) (string, []any, error) {
	if !slices.Contains(t.m.Columns, c.Field) {
		return "", nil, fmt.Errorf("%s: unknown column %q", t.m.Table.Name, c.Field)
	}
	var op string
	switch c.Op {
	case store.OpEq:
		op = "="
	case store.OpLt:
		op = "<"
	default:
		return "", nil, fmt.Errorf("unsupported operator %d", c.Op)
	}
	args = append(args, c.Value)
	return fmt.Sprintf("%s %s $%d", c.Field, op, len(args)), args, nil
}
