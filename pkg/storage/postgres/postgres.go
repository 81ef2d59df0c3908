// Package postgres is a [storage.Store] backed by PostgreSQL through a pgx
// connection pool. It is meant for running voxtodo as a shared service; the
// local-first default is the sqlite package.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// Schema is the SQL DDL for the tasks table. Identity columns never hand out
// a value twice, which gives the id allocation guarantee the task store needs.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    title       TEXT        NOT NULL,
    description TEXT        NOT NULL DEFAULT '',
    done        BOOLEAN     NOT NULL DEFAULT false,
    category    TEXT        NOT NULL DEFAULT 'personal',
    due_at      TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_due_at ON tasks(due_at);
`

const selectColumns = `id, title, description, done, category, due_at, created_at, updated_at`

// DB is the database interface used by [Store]. *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store is a [storage.Store] backed by PostgreSQL.
type Store struct {
	db    DB
	close func()
}

// Open creates a connection pool for dsn, verifies connectivity and runs
// [Store.Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection or pool. The caller keeps ownership of db
// and is responsible for calling [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db, close: func() {}}
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Insert implements [storage.Store.Insert]. All rows are written inside a
// single transaction.
func (s *Store) Insert(ctx context.Context, tasks []task.Task) ([]task.Task, error) {
	out := make([]task.Task, 0, len(tasks))
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO tasks (title, description, done, category, due_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING ` + selectColumns
		for _, t := range tasks {
			stored, err := scanTask(tx.QueryRow(ctx, query,
				t.Title, t.Description, t.Done, string(t.Category), dueValue(t.Due),
			))
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("insert", err)
	}
	return out, nil
}

// Update implements [storage.Store.Update].
func (s *Store) Update(ctx context.Context, t task.Task) (task.Task, error) {
	var stored task.Task
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		const query = `
			UPDATE tasks SET
				title = $2, description = $3, done = $4, category = $5, due_at = $6, updated_at = now()
			WHERE id = $1
			RETURNING ` + selectColumns
		var err error
		stored, err = scanTask(tx.QueryRow(ctx, query,
			t.ID, t.Title, t.Description, t.Done, string(t.Category), dueValue(t.Due),
		))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, persistErr("update", err)
	}
	return stored, nil
}

// Delete implements [storage.Store.Delete].
func (s *Store) Delete(ctx context.Context, id int64) error {
	var affected int64
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return persistErr("delete", err)
	}
	if affected == 0 {
		return task.ErrNotFound
	}
	return nil
}

// Get implements [storage.Store.Get].
func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, persistErr(fmt.Sprintf("get %d", id), err)
	}
	return t, nil
}

// List implements [storage.Store.List].
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM tasks`)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, persistErr("list", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", err)
	}
	return out, nil
}

// Ping implements [storage.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements [storage.Store.Close]. It closes the pool opened by [Open];
// stores created with [New] leave the caller's DB untouched.
func (s *Store) Close() error {
	s.close()
	return nil
}

func scanTask(row pgx.Row) (task.Task, error) {
	var (
		t        task.Task
		category string
		due      *time.Time
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Done, &category, &due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	t.Category = task.Category(category)
	if due != nil {
		d := due.Local()
		t.Due = &d
	}
	return t, nil
}

func dueValue(due *time.Time) any {
	if due == nil {
		return nil
	}
	return *due
}

func persistErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, task.ErrPersistence, err)
}
