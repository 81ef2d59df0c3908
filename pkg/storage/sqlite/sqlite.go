// Package sqlite is the default, local-first [storage.Store] backed by a
// single SQLite file through the pure-Go modernc.org/sqlite driver.
//
// The database uses WAL journaling and a single open connection, so writes
// are serialised by the pool and every method runs in its own transaction.
// Ids come from an AUTOINCREMENT primary key, which SQLite guarantees never
// to reuse even after the highest row is deleted.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// Schema is the DDL applied by [Open].
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    done        INTEGER NOT NULL DEFAULT 0,
    category    TEXT    NOT NULL DEFAULT 'personal',
    due_at      INTEGER,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due_at ON tasks(due_at);
`

const selectColumns = `id, title, description, done, category, due_at, created_at, updated_at`

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store is a [storage.Store] backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the default database location under the user's
// configuration directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "voxtodo", "tasks.sqlite")
}

// Open opens (creating if necessary) the database at path and applies
// [Schema]. The parent directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Insert implements [storage.Store.Insert].
func (s *Store) Insert(ctx context.Context, tasks []task.Task) ([]task.Task, error) {
	now := s.now()
	out := make([]task.Task, 0, len(tasks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO tasks (title, description, done, category, due_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range tasks {
			res, err := stmt.ExecContext(ctx,
				t.Title, t.Description, t.Done, string(t.Category), dueValue(t.Due),
				now.UnixMilli(), now.UnixMilli(),
			)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			t.ID = id
			t.CreatedAt = time.UnixMilli(now.UnixMilli())
			t.UpdatedAt = t.CreatedAt
			out = append(out, t)
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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `
			UPDATE tasks SET title = ?, description = ?, done = ?, category = ?, due_at = ?, updated_at = ?
			WHERE id = ?`
		res, err := tx.ExecContext(ctx, query,
			t.Title, t.Description, t.Done, string(t.Category), dueValue(t.Due),
			s.now().UnixMilli(), t.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return task.ErrNotFound
		}
		stored, err = scanTask(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, t.ID))
		return err
	})
	if errors.Is(err, task.ErrNotFound) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, persistErr("update", err)
	}
	return stored, nil
}

// Delete implements [storage.Store.Delete].
func (s *Store) Delete(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return task.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, task.ErrNotFound) {
		return task.ErrNotFound
	}
	if err != nil {
		return persistErr("delete", err)
	}
	return nil
}

// Get implements [storage.Store.Get].
func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, persistErr("get", err)
	}
	return t, nil
}

// List implements [storage.Store.List].
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tasks`)
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
	return s.db.PingContext(ctx)
}

// Close implements [storage.Store.Close].
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t                    task.Task
		category             string
		due                  sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Done, &category, &due, &createdAt, &updatedAt); err != nil {
		return task.Task{}, err
	}
	t.Category = task.Category(category)
	if due.Valid {
		d := time.Unix(due.Int64, 0).Local()
		t.Due = &d
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return t, nil
}

// dueValue converts a due pointer into a nullable unix-seconds column value.
func dueValue(due *time.Time) any {
	if due == nil {
		return nil
	}
	return due.Unix()
}

func persistErr(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %w: %w", op, task.ErrPersistence, err)
}
