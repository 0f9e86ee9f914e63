// Package redis implements store.Gateway over Redis. Each row is a JSON object
// stored at "<table>:<id>"; unique fields are indexed at "<table>#<field>:<value>".
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/store"
)

// maxTxRetries bounds optimistic retries for writes that lost a WATCH race
// on something other than a guarded row.
const maxTxRetries = 5

// NewClient parses url, connects and pings.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Table implements store.Gateway for one entity.
type Table[T any] struct {
	rdb *redis.Client
	m   store.Mapper[T]
}

var _ store.Gateway[struct{}] = (*Table[struct{}])(nil)

// NewTable binds mapper m to rdb.
func NewTable[T any](rdb *redis.Client, m store.Mapper[T]) *Table[T] {
	return &Table[T]{rdb: rdb, m: m}
}

func (t *Table[T]) rowKey(id string) string { return t.m.Table.Name + ":" + id }

func (t *Table[T]) uniqueKey(field string, v any) string {
	return fmt.Sprintf("%s#%s:%v", t.m.Table.Name, field, v)
}

// Create stores rec under id unless the key or a unique index is already taken.
func (t *Table[T]) Create(ctx context.Context, id string, rec *T) (*T, error) {
	return t.write(ctx, id, rec, func(cur *T) error {
		if cur != nil {
			return &errs.ConstraintError{Constraint: t.m.Table.Name + "_pkey"}
		}
		return nil
	})
}

// GetByID loads and decodes the row, or errs.ErrNotFound.
func (t *Table[T]) GetByID(ctx context.Context, id string) (*T, error) {
	return t.get(ctx, t.rdb, id)
}

// Update replaces the row keyed by id.
func (t *Table[T]) Update(ctx context.Context, id string, rec *T) (*T, error) {
	return t.write(ctx, id, rec, func(cur *T) error {
		if cur == nil {
			return errs.ErrNotFound
		}
		return nil
	})
}

// UpdateIf checks guard inside a WATCH on the row; a concurrent change to the row
// surfaces as errs.ErrVersionConflict rather than being retried.
func (t *Table[T]) UpdateIf(ctx context.Context, id string, rec *T, guard store.Cond) (*T, error) {
	out, err := t.writeOnce(ctx, id, rec, func(cur *T) error {
		if cur == nil {
			return errs.ErrNotFound
		}
		ok, err := t.m.Match(cur, store.All(guard))
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrVersionConflict
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return nil, errs.ErrVersionConflict
	}
	return out, err
}

// Delete removes the row and its unique index keys.
func (t *Table[T]) Delete(ctx context.Context, id string) (*T, error) {
	var removed *T
	err := t.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := t.get(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			t.unindex(ctx, pipe, id, cur)
			pipe.Del(ctx, t.rowKey(id))
			return nil
		})
		removed = cur
		return err
	}, t.rowKey(id))
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Query scans every row of the table and filters in process.
func (t *Table[T]) Query(ctx context.Context, p store.Predicate) ([]*T, error) {
	ids, err := t.ids(ctx)
	if err != nil {
		return nil, err
	}
	var out []*T
	for _, id := range ids {
		rec, err := t.get(ctx, t.rdb, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ok, err := t.m.Match(rec, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteWhere is not atomic across rows; each matching row is removed with Delete.
func (t *Table[T]) DeleteWhere(ctx context.Context, p store.Predicate) (int64, error) {
	rows, err := t.Query(ctx, p)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range rows {
		id, _ := t.m.Field(rec, t.m.Table.Key)
		if _, err := t.Delete(ctx, fmt.Sprint(id)); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *Table[T]) ids(ctx context.Context) ([]string, error) {
	prefix := t.m.Table.Name + ":"
	var ids []string
	iter := t.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *Table[T]) write(ctx context.Context, id string, rec *T, check func(cur *T) error) (*T, error) {
	for i := 0; i < maxTxRetries; i++ {
		out, err := t.writeOnce(ctx, id, rec, check)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, redis.TxFailedErr
}

// writeOnce stores rec under id after check accepts the current row, keeping unique
// indexes in step. It watches the row and every unique key rec claims.
func (t *Table[T]) writeOnce(ctx context.Context, id string, rec *T, check func(cur *T) error) (*T, error) {
	rec = t.m.WithKey(id, rec)
	keys := []string{t.rowKey(id)}
	for field := range t.m.Unique {
		v, _ := t.m.Field(rec, field)
		keys = append(keys, t.uniqueKey(field, v))
	}

	data, err := t.encode(rec)
	if err != nil {
		return nil, err
	}

	err = t.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := t.get(ctx, tx, id)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if err := check(cur); err != nil {
			return err
		}
		for field, constraint := range t.m.Unique {
			v, _ := t.m.Field(rec, field)
			owner, err := tx.Get(ctx, t.uniqueKey(field, v)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != id {
				return &errs.ConstraintError{Constraint: constraint}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if cur != nil {
				t.unindex(ctx, pipe, id, cur)
			}
			pipe.Set(ctx, t.rowKey(id), data, 0)
			for field := range t.m.Unique {
				v, _ := t.m.Field(rec, field)
				pipe.Set(ctx, t.uniqueKey(field, v), id, 0)
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return nil, err
	}
	return t.decode(data)
}

func (t *Table[T]) unindex(ctx context.Context, pipe redis.Pipeliner, id string, cur *T) {
	for field := range t.m.Unique {
		v, _ := t.m.Field(cur, field)
		pipe.Del(ctx, t.uniqueKey(field, v))
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (t *Table[T]) get(ctx context.Context, g getter, id string) (*T, error) {
	data, err := g.Get(ctx, t.rowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return t.decode(data)
}

// encode writes rec as a JSON object keyed by column name.
func (t *Table[T]) encode(rec *T) ([]byte, error) {
	vals := t.m.Values(rec)
	obj := make(map[string]any, len(vals))
	for i, col := range t.m.Columns {
		obj[col] = vals[i]
	}
	return json.Marshal(obj)
}

func (t *Table[T]) decode(data []byte) (*T, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s row: %w", t.m.Table.Name, err)
	}
	rec := new(T)
	dst := t.m.Scan(rec)
	for i, col := range t.m.Columns {
		raw, ok := obj[col]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s.%s: %w", t.m.Table.Name, col, err)
		}
	}
	return rec, nil
}
