package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/model"
)

// Errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrInvalid   = errors.New("invalid")
	ErrClosed    = errors.New("store closed")
)

// Tables, which double as change-feed resource names.
const (
	TableRooms    = "rooms"
	TableStatuses = "custom_statuses"
)

// Change operations as written to the eventType field.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Store is the room and status data source.
type Store interface {
	ListRooms(ctx context.Context) ([]model.Room, error)
	GetRoom(ctx context.Context, id string) (model.Room, error)
	InsertRoom(ctx context.Context, r model.Room) (model.Room, error)
	UpdateRoom(ctx context.Context, r model.Room) (model.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	ListStatuses(ctx context.Context) ([]model.CustomStatus, error)
	InsertStatus(ctx context.Context, s model.CustomStatus) (model.CustomStatus, error)
	UpdateStatus(ctx context.Context, s model.CustomStatus) (model.CustomStatus, error)
	DeleteStatus(ctx context.Context, id string) error

	Close() error
}

// Publisher receives change payloads from stores that have no native
// notification mechanism.
type Publisher interface {
	Publish(resource string, p feed.Payload)
}

// Option configures a store.
type Option func(*settings)

type settings struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for updated_at and created_at.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func applyOptions(opts []Option) settings {
	s := settings{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

var channelPrefixRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ChangePayload builds a change notification in the shape the Postgres
// trigger emits. Deletes carry an empty new row.
func ChangePayload(op, table string, newRow, oldRow map[string]any) feed.Payload {
	if newRow == nil {
		newRow = map[string]any{}
	}
	p := feed.Payload{
		feed.FieldEventType: op,
		feed.FieldTable:     table,
		feed.FieldNew:       newRow,
	}
	if oldRow != nil {
		p[feed.FieldOld] = oldRow
	} else {
		p[feed.FieldOld] = nil
	}
	return p
}

func validateRoom(r model.Room) error {
	if r.Number == "" {
		return fmt.Errorf("%w: room_number is required", ErrInvalid)
	}
	if r.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalid)
	}
	return nil
}

func validateStatus(s model.CustomStatus) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return nil
}
