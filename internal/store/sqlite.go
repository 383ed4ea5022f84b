package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/rickgao/housekeeping/internal/model"
)

// SQLite is a Store backed by a local SQLite file. After every committed
// write it hands a change payload to its Publisher.
type SQLite struct {
	db        *sql.DB
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger

	pubMu  sync.Mutex
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens path (or ":memory:") and creates the schema. publisher may
// be nil, in which case changes are not announced.
func NewSQLite(path string, publisher Publisher, logger *slog.Logger, opts ...Option) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{
		db:        db,
		publisher: publisher,
		clock:     applyOptions(opts).clock,
		logger:    logger,
	}, nil
}

// ListRooms implements Store.
func (s *SQLite) ListRooms(ctx context.Context) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY room_number`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GetRoom implements Store.
func (s *SQLite) GetRoom(ctx context.Context, id string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Room{}, ErrClosed
	}

	r, err := getSQLiteRoom(ctx, s.db, id)
	if err != nil {
		return model.Room{}, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

// InsertRoom implements Store. An empty ID is generated.
func (s *SQLite) InsertRoom(ctx context.Context, r model.Room) (model.Room, error) {
	if err := validateRoom(r); err != nil {
		return model.Room{}, err
	}
	if r.ID == "" {
		r.ID = model.NewID()
	}
	r.UpdatedAt = s.clock.Now().UTC()

	err := s.write(func() (*change, error) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rooms (`+roomColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Number, r.Name, r.Floor, r.Status, r.Notes, formatNullTime(r.LastCleanedAt), formatTime(r.UpdatedAt),
		)
		if err != nil {
			return nil, sqliteError("insert room", err)
		}
		return &change{OpInsert, TableRooms, r.ToMap(), nil}, nil
	})
	if err != nil {
		return model.Room{}, err
	}
	return r, nil
}

// UpdateRoom implements Store. All mutable fields are replaced.
func (s *SQLite) UpdateRoom(ctx context.Context, r model.Room) (model.Room, error) {
	if err := validateRoom(r); err != nil {
		return model.Room{}, err
	}
	r.UpdatedAt = s.clock.Now().UTC()

	err := s.write(func() (*change, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("update room: begin: %w", err)
		}
		defer tx.Rollback()

		old, err := getSQLiteRoom(ctx, tx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("update room: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rooms
			SET room_number = ?, name = ?, floor = ?, status = ?, notes = ?,
			    last_cleaned_at = ?, updated_at = ?
			WHERE id = ?`,
			r.Number, r.Name, r.Floor, r.Status, r.Notes, formatNullTime(r.LastCleanedAt), formatTime(r.UpdatedAt), r.ID,
		)
		if err != nil {
			return nil, sqliteError("update room", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("update room: commit: %w", err)
		}
		return &change{OpUpdate, TableRooms, r.ToMap(), old.ToMap()}, nil
	})
	if err != nil {
		return model.Room{}, err
	}
	return r, nil
}

// DeleteRoom implements Store.
func (s *SQLite) DeleteRoom(ctx context.Context, id string) error {
	return s.write(func() (*change, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("delete room: begin: %w", err)
		}
		defer tx.Rollback()

		old, err := getSQLiteRoom(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("delete room: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete room: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("delete room: commit: %w", err)
		}
		return &change{OpDelete, TableRooms, nil, old.ToMap()}, nil
	})
}

// ListStatuses implements Store.
func (s *SQLite) ListStatuses(ctx context.Context) ([]model.CustomStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+statusColumns+` FROM custom_statuses ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []model.CustomStatus
	for rows.Next() {
		st, err := scanSQLiteStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("list statuses: %w", err)
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return statuses, nil
}

// InsertStatus implements Store. An empty ID is generated.
func (s *SQLite) InsertStatus(ctx context.Context, st model.CustomStatus) (model.CustomStatus, error) {
	if err := validateStatus(st); err != nil {
		return model.CustomStatus{}, err
	}
	if st.ID == "" {
		st.ID = model.NewID()
	}
	st.CreatedAt = s.clock.Now().UTC()

	err := s.write(func() (*change, error) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO custom_statuses (`+statusColumns+`)
			VALUES (?, ?, ?, ?, ?)`,
			st.ID, st.Name, st.Color, st.SortOrder, formatTime(st.CreatedAt),
		)
		if err != nil {
			return nil, sqliteError("insert status", err)
		}
		return &change{OpInsert, TableStatuses, st.ToMap(), nil}, nil
	})
	if err != nil {
		return model.CustomStatus{}, err
	}
	return st, nil
}

// UpdateStatus implements Store. CreatedAt is preserved.
func (s *SQLite) UpdateStatus(ctx context.Context, st model.CustomStatus) (model.CustomStatus, error) {
	if err := validateStatus(st); err != nil {
		return model.CustomStatus{}, err
	}

	err := s.write(func() (*change, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("update status: begin: %w", err)
		}
		defer tx.Rollback()

		old, err := getSQLiteStatus(ctx, tx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		st.CreatedAt = old.CreatedAt

		_, err = tx.ExecContext(ctx, `
			UPDATE custom_statuses SET name = ?, color = ?, sort_order = ? WHERE id = ?`,
			st.Name, st.Color, st.SortOrder, st.ID,
		)
		if err != nil {
			return nil, sqliteError("update status", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("update status: commit: %w", err)
		}
		return &change{OpUpdate, TableStatuses, st.ToMap(), old.ToMap()}, nil
	})
	if err != nil {
		return model.CustomStatus{}, err
	}
	return st, nil
}

// DeleteStatus implements Store.
func (s *SQLite) DeleteStatus(ctx context.Context, id string) error {
	return s.write(func() (*change, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("delete status: begin: %w", err)
		}
		defer tx.Rollback()

		old, err := getSQLiteStatus(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("delete status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM custom_statuses WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete status: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("delete status: commit: %w", err)
		}
		return &change{OpDelete, TableStatuses, nil, old.ToMap()}, nil
	})
}

// Ping checks that the database file is usable.
func (s *SQLite) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type change struct {
	op     string
	table  string
	newRow map[string]any
	oldRow map[string]any
}

// write runs fn under the write lock, then publishes its change. pubMu
// keeps publications in commit order while leaving reads unblocked, so
// subscribers may read from the store but must not write to it.
func (s *SQLite) write(fn func() (*change, error)) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	c, err := fn()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.publisher != nil && c != nil {
		s.logger.Debug("publishing change", "op", c.op, "table", c.table)
		s.publisher.Publish(c.table, ChangePayload(c.op, c.table, c.newRow, c.oldRow))
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func getSQLiteRoom(ctx context.Context, q querier, id string) (model.Room, error) {
	r, err := scanSQLiteRoom(q.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	return r, err
}

func getSQLiteStatus(ctx context.Context, q querier, id string) (model.CustomStatus, error) {
	st, err := scanSQLiteStatus(q.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM custom_statuses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CustomStatus{}, ErrNotFound
	}
	return st, err
}

func scanSQLiteRoom(row scanner) (model.Room, error) {
	var r model.Room
	var lastCleaned sql.NullString
	var updated string
	if err := row.Scan(&r.ID, &r.Number, &r.Name, &r.Floor, &r.Status, &r.Notes, &lastCleaned, &updated); err != nil {
		return model.Room{}, err
	}

	var err error
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Room{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastCleaned.Valid {
		t, err := parseTime(lastCleaned.String)
		if err != nil {
			return model.Room{}, fmt.Errorf("parse last_cleaned_at: %w", err)
		}
		r.LastCleanedAt = &t
	}
	return r, nil
}

func scanSQLiteStatus(row scanner) (model.CustomStatus, error) {
	var st model.CustomStatus
	var created string
	if err := row.Scan(&st.ID, &st.Name, &st.Color, &st.SortOrder, &created); err != nil {
		return model.CustomStatus{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return model.CustomStatus{}, fmt.Errorf("parse created_at: %w", err)
	}
	st.CreatedAt = t
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func sqliteError(op string, err error) error {
	// modernc reports constraint failures as "constraint failed: UNIQUE constraint failed: ..."
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
