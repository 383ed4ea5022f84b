package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/model"
)

const pgUniqueViolation = "23505"

const roomColumns = `id, room_number, name, floor, status, notes, last_cleaned_at, updated_at`

const statusColumns = `id, name, color, sort_order, created_at`

// Postgres is a Store backed by a pgx pool. The pool is owned by the caller.
type Postgres struct {
	pool   *pgxpool.Pool
	prefix string
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPostgres creates a Postgres store. channelPrefix names the
// notification channels the change trigger publishes to.
func NewPostgres(pool *pgxpool.Pool, channelPrefix string, logger *slog.Logger, opts ...Option) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !channelPrefixRe.MatchString(channelPrefix) {
		return nil, fmt.Errorf("%w: channel prefix %q", ErrInvalid, channelPrefix)
	}
	return &Postgres{
		pool:   pool,
		prefix: channelPrefix,
		clock:  applyOptions(opts).clock,
		logger: logger,
	}, nil
}

// Migrate creates the tables and installs the change triggers.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, table := range []string{TableRooms, TableStatuses} {
		if _, err := p.pool.Exec(ctx, triggerSQL(table, p.prefix)); err != nil {
			return fmt.Errorf("install trigger on %s: %w", table, err)
		}
	}
	p.logger.Info("postgres schema ready", "channel_prefix", p.prefix)
	return nil
}

// ListRooms implements Store.
func (p *Postgres) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY room_number`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rooms, err := pgx.CollectRows(rows, scanRoom)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GetRoom implements Store.
func (p *Postgres) GetRoom(ctx context.Context, id string) (model.Room, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	if err != nil {
		return model.Room{}, fmt.Errorf("get room: %w", err)
	}
	room, err := pgx.CollectExactlyOneRow(rows, scanRoom)
	if err != nil {
		return model.Room{}, pgError("get room", err)
	}
	return room, nil
}

// InsertRoom implements Store. An empty ID is generated.
func (p *Postgres) InsertRoom(ctx context.Context, r model.Room) (model.Room, error) {
	if err := validateRoom(r); err != nil {
		return model.Room{}, err
	}
	if r.ID == "" {
		r.ID = model.NewID()
	}
	r.UpdatedAt = p.clock.Now().UTC()

	rows, err := p.pool.Query(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+roomColumns,
		r.ID, r.Number, r.Name, r.Floor, r.Status, r.Notes, r.LastCleanedAt, r.UpdatedAt,
	)
	if err != nil {
		return model.Room{}, fmt.Errorf("insert room: %w", err)
	}
	room, err := pgx.CollectExactlyOneRow(rows, scanRoom)
	if err != nil {
		return model.Room{}, pgError("insert room", err)
	}
	return room, nil
}

// UpdateRoom implements Store. All mutable fields are replaced.
func (p *Postgres) UpdateRoom(ctx context.Context, r model.Room) (model.Room, error) {
	if err := validateRoom(r); err != nil {
		return model.Room{}, err
	}
	r.UpdatedAt = p.clock.Now().UTC()

	rows, err := p.pool.Query(ctx, `
		UPDATE rooms
		SET room_number = $2, name = $3, floor = $4, status = $5, notes = $6,
		    last_cleaned_at = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+roomColumns,
		r.ID, r.Number, r.Name, r.Floor, r.Status, r.Notes, r.LastCleanedAt, r.UpdatedAt,
	)
	if err != nil {
		return model.Room{}, fmt.Errorf("update room: %w", err)
	}
	room, err := pgx.CollectExactlyOneRow(rows, scanRoom)
	if err != nil {
		return model.Room{}, pgError("update room", err)
	}
	return room, nil
}

// DeleteRoom implements Store.
func (p *Postgres) DeleteRoom(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete room: %w", ErrNotFound)
	}
	return nil
}

// ListStatuses implements Store.
func (p *Postgres) ListStatuses(ctx context.Context) ([]model.CustomStatus, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+statusColumns+` FROM custom_statuses ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	statuses, err := pgx.CollectRows(rows, scanStatus)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return statuses, nil
}

// InsertStatus implements Store. An empty ID is generated.
func (p *Postgres) InsertStatus(ctx context.Context, s model.CustomStatus) (model.CustomStatus, error) {
	if err := validateStatus(s); err != nil {
		return model.CustomStatus{}, err
	}
	if s.ID == "" {
		s.ID = model.NewID()
	}
	s.CreatedAt = p.clock.Now().UTC()

	rows, err := p.pool.Query(ctx, `
		INSERT INTO custom_statuses (`+statusColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+statusColumns,
		s.ID, s.Name, s.Color, s.SortOrder, s.CreatedAt,
	)
	if err != nil {
		return model.CustomStatus{}, fmt.Errorf("insert status: %w", err)
	}
	status, err := pgx.CollectExactlyOneRow(rows, scanStatus)
	if err != nil {
		return model.CustomStatus{}, pgError("insert status", err)
	}
	return status, nil
}

// UpdateStatus implements Store.
func (p *Postgres) UpdateStatus(ctx context.Context, s model.CustomStatus) (model.CustomStatus, error) {
	if err := validateStatus(s); err != nil {
		return model.CustomStatus{}, err
	}

	rows, err := p.pool.Query(ctx, `
		UPDATE custom_statuses
		SET name = $2, color = $3, sort_order = $4
		WHERE id = $1
		RETURNING `+statusColumns,
		s.ID, s.Name, s.Color, s.SortOrder,
	)
	if err != nil {
		return model.CustomStatus{}, fmt.Errorf("update status: %w", err)
	}
	status, err := pgx.CollectExactlyOneRow(rows, scanStatus)
	if err != nil {
		return model.CustomStatus{}, pgError("update status", err)
	}
	return status, nil
}

// DeleteStatus implements Store.
func (p *Postgres) DeleteStatus(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM custom_statuses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete status: %w", ErrNotFound)
	}
	return nil
}

// Close implements Store. The pool is left open for its owner.
func (p *Postgres) Close() error {
	return nil
}

func scanRoom(row pgx.CollectableRow) (model.Room, error) {
	var r model.Room
	var lastCleaned *time.Time
	err := row.Scan(&r.ID, &r.Number, &r.Name, &r.Floor, &r.Status, &r.Notes, &lastCleaned, &r.UpdatedAt)
	if lastCleaned != nil {
		t := lastCleaned.UTC()
		r.LastCleanedAt = &t
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, err
}

func scanStatus(row pgx.CollectableRow) (model.CustomStatus, error) {
	var s model.CustomStatus
	err := row.Scan(&s.ID, &s.Name, &s.Color, &s.SortOrder, &s.CreatedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, err
}

// pgError maps driver errors onto the package's sentinel errors.
func pgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}
